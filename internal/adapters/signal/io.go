package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *StoreWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *StoreWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Registry.Cancel(sid)
		ctl.Registry.Unbind(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleFrame(ctx, sid, c, data)
		}
	}
}

func (ctl *StoreWSController) handleFrame(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	typ, err := wire.TypeOf(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.reply(sid, c, wire.Result{Error: wire.NewError(errBadRequest)})
		return
	}

	switch typ {
	case wire.TypeCreate:
		ctl.handleCreate(ctx, sid, c, data)
	case wire.TypeSet:
		ctl.handleSet(ctx, sid, c, data)
	case wire.TypeGet:
		ctl.handleGet(ctx, sid, c, data)
	case wire.TypeSubscribeDocument:
		ctl.handleSubscribeDocument(ctx, sid, c, data)
	case wire.TypeSubscribeCollection:
		ctl.handleSubscribeCollection(ctx, sid, c, data)
	case wire.TypeUnsubscribe:
		ctl.handleUnsubscribe(sid, c, data)
	case wire.TypePing:
		ctl.handlePing(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown frame")
		ctl.reply(sid, c, wire.Result{Error: wire.NewError(errBadRequest)})
	}
}

func (ctl *StoreWSController) reply(sid core.SessionID, c *WsSignalConn, res wire.Result) {
	res.Type = wire.TypeResult
	ctl.sendJSON(sid, c, wire.TypeResult, res)
}

// sendJSON queues v. A full buffer is handed to the backpressure policy.
func (ctl *StoreWSController) sendJSON(sid core.SessionID, c *WsSignalConn, kind string, v any) {
	b, err := wire.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	err = c.TrySend(b)
	if err == nil || !errors.Is(err, ErrBackpressure) {
		return
	}

	metrics.SignalDroppedTotal.Inc()
	switch ctl.Policy.OnBackPressure(sid, kind) {
	case app.KickClient:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("frame", kind).Msg("send buffer full, kicking client")
		c.Close()
	case app.DropFrame:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("frame", kind).Msg("send buffer full, frame dropped")
	}
}
