package signal

import (
	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/core"
)

func (ctl *StoreWSController) handlePing(sid core.SessionID, conn *WsSignalConn) {
	ctl.sendJSON(sid, conn, wire.TypePong, wire.Envelope{Type: wire.TypePong})
}
