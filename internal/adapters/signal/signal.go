package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
}

// StoreWSController serves the document store to relay clients, one
// websocket per client.
type StoreWSController struct {
	Store    core.DocumentStore
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *WriteRateLimiter
	opts     Options
}

func NewStoreWSController(store core.DocumentStore, reg *app.Registry, policy app.Policy, limiter *WriteRateLimiter, opts Options) *StoreWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &StoreWSController{
		Store:    store,
		Registry: reg,
		Policy:   policy,
		Limiter:  limiter,
		opts:     opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *StoreWSController) HandleStore(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client_token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, token, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
