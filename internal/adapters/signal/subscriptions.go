package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *StoreWSController) handleSubscribeDocument(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err == nil && (req.Ref == nil || req.SubID == "") {
		err = fmt.Errorf("%w: subscribe_doc needs ref and subId", domain.ErrReadFailed)
	}
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}

	subID := req.SubID
	unsub, err := ctl.Store.SubscribeDocument(ctx, *req.Ref, func(snap core.DocumentSnapshot, err error) {
		if err != nil {
			ctl.sendJSON(sid, c, wire.TypeSubscriptionError, wire.SubscriptionError{
				Type: wire.TypeSubscriptionError, SubID: subID, Error: wire.NewError(err),
			})
			return
		}
		ctl.sendJSON(sid, c, wire.TypeDocumentSnapshot, wire.DocumentPush{
			Type: wire.TypeDocumentSnapshot, SubID: subID, Snapshot: snap,
		})
	})
	ctl.finishSubscribe(sid, c, req, unsub, err)
}

func (ctl *StoreWSController) handleSubscribeCollection(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err == nil && (req.Collection == "" || req.SubID == "") {
		err = fmt.Errorf("%w: subscribe_collection needs collection and subId", domain.ErrReadFailed)
	}
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}

	subID := req.SubID
	unsub, err := ctl.Store.SubscribeCollection(ctx, req.Collection, func(snap core.CollectionSnapshot, err error) {
		if err != nil {
			ctl.sendJSON(sid, c, wire.TypeSubscriptionError, wire.SubscriptionError{
				Type: wire.TypeSubscriptionError, SubID: subID, Error: wire.NewError(err),
			})
			return
		}
		ctl.sendJSON(sid, c, wire.TypeCollectionSnapshot, wire.CollectionPush{
			Type: wire.TypeCollectionSnapshot, SubID: subID, Snapshot: snap,
		})
	})
	ctl.finishSubscribe(sid, c, req, unsub, err)
}

func (ctl *StoreWSController) finishSubscribe(sid core.SessionID, c *WsSignalConn, req wire.Request, unsub core.Unsubscribe, err error) {
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	if !ctl.Registry.AddSubscription(sid, req.SubID, unsub) {
		unsub()
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(
			fmt.Errorf("%w: subscription %q rejected", domain.ErrReadFailed, req.SubID),
		)})
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("sub", req.SubID).Str("type", req.Type).Msg("subscribed")
	ctl.reply(sid, c, wire.Result{ReqID: req.ReqID})
}

func (ctl *StoreWSController) handleUnsubscribe(sid core.SessionID, c *WsSignalConn, data []byte) {
	req, err := decodeRequest(data)
	if err != nil {
		ctl.reply(sid, c, wire.Result{ReqID: req.ReqID, Error: wire.NewError(err)})
		return
	}
	if unsub, ok := ctl.Registry.RemoveSubscription(sid, req.SubID); ok {
		unsub()
	}
	ctl.reply(sid, c, wire.Result{ReqID: req.ReqID})
}
