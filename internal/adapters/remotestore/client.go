// Package remotestore implements core.DocumentStore against a relay server.
package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	sendBuffer     = 64
	unsubscribeTTL = 2 * time.Second
)

type subscription struct {
	l     *core.Listener
	docFn func(core.DocumentSnapshot, error)
	colFn func(core.CollectionSnapshot, error)
}

func (s *subscription) fail(err error) {
	if s.docFn != nil {
		fn := s.docFn
		s.l.Push(func() { fn(core.DocumentSnapshot{}, err) })
		return
	}
	fn := s.colFn
	s.l.Push(func() { fn(core.CollectionSnapshot{}, err) })
}

// Client speaks the relay websocket protocol. Every subscription delivers on
// its own listener goroutine, like the in-process store.
type Client struct {
	conn   *websocket.Conn
	send   chan core.Frame
	logger zerolog.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wire.Result
	subs    map[string]*subscription
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ core.DocumentStore = (*Client)(nil)

// Dial connects to the relay's store endpoint, e.g. ws://host:8080/api/ws/store.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrChannelUnavailable, url, err)
	}
	c := &Client{
		conn:    ws,
		send:    make(chan core.Frame, sendBuffer),
		logger:  log.With().Str("module", "remotestore").Str("url", url).Logger(),
		pending: make(map[uint64]chan wire.Result),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	c.logger.Info().Msg("connected to relay")
	return c, nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) CreateDocument(ctx context.Context, collection string, fields core.Fields) (core.DocumentRef, error) {
	res, err := c.do(ctx, wire.Request{Type: wire.TypeCreate, Collection: collection, Fields: fields}, domain.ErrWriteFailed)
	if err != nil {
		return core.DocumentRef{}, err
	}
	if res.Ref == nil {
		return core.DocumentRef{}, fmt.Errorf("%w: relay returned no ref", domain.ErrWriteFailed)
	}
	return *res.Ref, nil
}

func (c *Client) SetFields(ctx context.Context, ref core.DocumentRef, fields core.Fields, merge bool) error {
	_, err := c.do(ctx, wire.Request{Type: wire.TypeSet, Ref: &ref, Fields: fields, Merge: merge}, domain.ErrWriteFailed)
	return err
}

func (c *Client) GetFields(ctx context.Context, ref core.DocumentRef) (core.Fields, error) {
	res, err := c.do(ctx, wire.Request{Type: wire.TypeGet, Ref: &ref}, domain.ErrReadFailed)
	if err != nil {
		return nil, err
	}
	if res.Fields == nil {
		return core.Fields{}, nil
	}
	return res.Fields, nil
}

func (c *Client) SubscribeDocument(ctx context.Context, ref core.DocumentRef, fn func(core.DocumentSnapshot, error)) (core.Unsubscribe, error) {
	return c.subscribe(ctx, wire.Request{Type: wire.TypeSubscribeDocument, Ref: &ref}, &subscription{docFn: fn})
}

func (c *Client) SubscribeCollection(ctx context.Context, collection string, fn func(core.CollectionSnapshot, error)) (core.Unsubscribe, error) {
	return c.subscribe(ctx, wire.Request{Type: wire.TypeSubscribeCollection, Collection: collection}, &subscription{colFn: fn})
}

func (c *Client) subscribe(ctx context.Context, req wire.Request, sub *subscription) (core.Unsubscribe, error) {
	req.SubID = uuid.NewString()
	sub.l = core.NewListener()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.l.Stop()
		return nil, domain.ErrChannelUnavailable
	}
	c.subs[req.SubID] = sub
	c.mu.Unlock()

	if _, err := c.do(ctx, req, domain.ErrReadFailed); err != nil {
		c.drop(req.SubID)
		sub.l.Stop()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if c.drop(req.SubID) {
				ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTTL)
				if _, err := c.do(ctx, wire.Request{Type: wire.TypeUnsubscribe, SubID: req.SubID}, domain.ErrReadFailed); err != nil {
					c.logger.Debug().Err(err).Str("sub", req.SubID).Msg("unsubscribe not acknowledged")
				}
				cancel()
			}
			sub.l.Stop()
		})
	}, nil
}

func (c *Client) drop(subID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[subID]; !ok {
		return false
	}
	delete(c.subs, subID)
	return true
}

// do sends one request and waits for its result. Transport failures are
// reported as ErrChannelUnavailable; kind tags everything else.
func (c *Client) do(ctx context.Context, req wire.Request, kind error) (wire.Result, error) {
	req.ReqID = c.nextID.Add(1)
	frame, err := wire.Encode(req)
	if err != nil {
		return wire.Result{}, fmt.Errorf("%w: encode: %w", kind, err)
	}

	wait := make(chan wire.Result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.Result{}, domain.ErrChannelUnavailable
	}
	c.pending[req.ReqID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- frame:
	case <-c.done:
		return wire.Result{}, c.closedErr()
	case <-ctx.Done():
		return wire.Result{}, fmt.Errorf("%w: %w", kind, ctx.Err())
	}

	select {
	case res := <-wait:
		if res.Error != nil {
			return res, res.Error.Err()
		}
		return res, nil
	case <-c.done:
		return wire.Result{}, c.closedErr()
	case <-ctx.Done():
		return wire.Result{}, fmt.Errorf("%w: %w", kind, ctx.Err())
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, c.err)
	}
	return domain.ErrChannelUnavailable
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("write error")
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	typ, err := wire.TypeOf(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad frame from relay")
		return
	}

	switch typ {
	case wire.TypeResult:
		var res wire.Result
		if err := json.Unmarshal(data, &res); err != nil {
			c.logger.Warn().Err(err).Msg("bad result")
			return
		}
		c.mu.Lock()
		wait, ok := c.pending[res.ReqID]
		c.mu.Unlock()
		if ok {
			wait <- res
		}
	case wire.TypeDocumentSnapshot:
		var push wire.DocumentPush
		if err := json.Unmarshal(data, &push); err != nil {
			c.logger.Warn().Err(err).Msg("bad doc snapshot")
			return
		}
		if sub := c.lookup(push.SubID); sub != nil && sub.docFn != nil {
			fn, snap := sub.docFn, push.Snapshot
			sub.l.Push(func() { fn(snap, nil) })
		}
	case wire.TypeCollectionSnapshot:
		var push wire.CollectionPush
		if err := json.Unmarshal(data, &push); err != nil {
			c.logger.Warn().Err(err).Msg("bad collection snapshot")
			return
		}
		if sub := c.lookup(push.SubID); sub != nil && sub.colFn != nil {
			fn, snap := sub.colFn, push.Snapshot
			sub.l.Push(func() { fn(snap, nil) })
		}
	case wire.TypeSubscriptionError:
		var push wire.SubscriptionError
		if err := json.Unmarshal(data, &push); err != nil {
			c.logger.Warn().Err(err).Msg("bad subscription error")
			return
		}
		if sub := c.lookup(push.SubID); sub != nil {
			sub.fail(push.Error.Err())
		}
	case wire.TypePong:
	default:
		c.logger.Warn().Str("type", typ).Msg("unknown frame from relay")
	}
}

func (c *Client) lookup(subID string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[subID]
}

// shutdown tears the connection down once and tells every open
// subscription that the stream is gone.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if cause != nil && !errors.Is(cause, errClientClosed) {
			c.err = cause
		}
		subs := c.subs
		c.subs = make(map[string]*subscription)
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()

		if c.err != nil {
			c.logger.Warn().Err(c.err).Msg("relay connection lost")
		}
		for _, sub := range subs {
			sub.fail(fmt.Errorf("%w: relay connection lost", domain.ErrReadFailed))
			sub.l.Finish()
		}
	})
}

var errClientClosed = errors.New("client closed")

// Close disconnects. Open subscriptions receive ErrReadFailed.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.shutdown(errClientClosed)
	return nil
}
