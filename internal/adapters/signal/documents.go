package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/rs/zerolog/log"
)

var errBadRequest = errors.New("bad request")

func decodeRequest(data []byte) (wire.Request, error) {
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return req, nil
}

func (ctl *StoreWSController) handleCreate(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("create rate limited")
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(wire.ErrRateLimited)})
		return
	}
	ref, err := ctl.Store.CreateDocument(ctx, req.Collection, req.Fields)
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Ref: &ref})
}

func (ctl *StoreWSController) handleSet(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err == nil && req.Ref == nil {
		err = fmt.Errorf("%w: set without ref", domain.ErrWriteFailed)
	}
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("set rate limited")
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(wire.ErrRateLimited)})
		return
	}
	if err := ctl.Store.SetFields(ctx, *req.Ref, req.Fields, req.Merge); err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Ref: req.Ref})
}

func (ctl *StoreWSController) handleGet(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err == nil && req.Ref == nil {
		err = fmt.Errorf("%w: get without ref", domain.ErrReadFailed)
	}
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	fields, err := ctl.Store.GetFields(ctx, *req.Ref)
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	if fields == nil {
		fields = core.Fields{}
	}
	ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Ref: req.Ref, Fields: fields})
}
