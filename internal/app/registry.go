package app

import (
	"context"
	"sync"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/rs/zerolog/log"
)

type clientEntry struct {
	Token  string
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	subs   map[string]core.Unsubscribe
}

// Registry tracks relay clients and the store subscriptions each one holds.
type Registry struct {
	mu      sync.RWMutex
	clients map[core.SessionID]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[core.SessionID]*clientEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, token string, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[sid] = &clientEntry{
		Token:  token,
		Conn:   conn,
		Cancel: cancel,
		subs:   make(map[string]core.Unsubscribe),
	}
	metrics.SignalClients.Inc()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound client")
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// AddSubscription records an open subscription. It reports false when the
// client is gone or the id is taken; the caller must then release unsub.
func (r *Registry) AddSubscription(sid core.SessionID, subID string, unsub core.Unsubscribe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[sid]
	if !ok {
		return false
	}
	if _, taken := e.subs[subID]; taken {
		return false
	}
	e.subs[subID] = unsub
	return true
}

// RemoveSubscription detaches and returns the subscription without calling it.
func (r *Registry) RemoveSubscription(sid core.SessionID, subID string) (core.Unsubscribe, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[sid]
	if !ok {
		return nil, false
	}
	unsub, ok := e.subs[subID]
	if ok {
		delete(e.subs, subID)
	}
	return unsub, ok
}

func (r *Registry) Subscriptions(sid core.SessionID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[sid]; ok {
		return len(e.subs)
	}
	return 0
}

// Unbind drops the client and releases every subscription it still holds.
// Must not be called from a store callback.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	e, ok := r.clients[sid]
	delete(r.clients, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, unsub := range e.subs {
		unsub()
	}
	metrics.SignalClients.Dec()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("subs", len(e.subs)).Msg("unbind client")
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.clients[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled client")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
