package remotestore

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Telecall/internal/adapters/docstore"
	router "github.com/dkeye/Telecall/internal/adapters/http"
	"github.com/dkeye/Telecall/internal/adapters/media"
	"github.com/dkeye/Telecall/internal/adapters/rtc"
	"github.com/dkeye/Telecall/internal/adapters/signal"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/app/call"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	srv   *httptest.Server
	store *docstore.Store
	reg   *app.Registry
	url   string
}

func newRelay(t *testing.T, limiter *signal.WriteRateLimiter) *relay {
	t.Helper()
	store := docstore.NewMemory()
	reg := app.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ctl := signal.NewStoreWSController(store, reg, app.SimplePolicy{}, limiter, signal.Options{PingPeriod: time.Second})
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, router.Deps{Store: store, Controller: ctl}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = store.Close()
	})
	return &relay{
		srv:   srv,
		store: store,
		reg:   reg,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/store",
	}
}

func dial(t *testing.T, r *relay) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, r.url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type snapshots[T any] struct {
	mu   sync.Mutex
	got  []T
	errs []error
}

func (s *snapshots[T]) fn(v T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs = append(s.errs, err)
		return
	}
	s.got = append(s.got, v)
}

func (s *snapshots[T]) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got), len(s.errs)
}

func (s *snapshots[T]) lastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[len(s.errs)-1]
}

func TestDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, nil)
	c := dial(t, r)

	ref, err := c.CreateDocument(ctx, "calls", core.Fields{"createdAt": "now"})
	require.NoError(t, err)
	assert.Equal(t, "calls", ref.Collection)

	require.NoError(t, c.SetFields(ctx, ref, core.Fields{"offer": map[string]any{"type": "offer", "sdp": "v=0"}}, true))
	fields, err := c.GetFields(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "now", fields["createdAt"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0"}, fields["offer"])

	local, err := r.store.GetFields(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, fields, local)

	_, err = c.GetFields(ctx, core.DocumentRef{Collection: "calls", ID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.CreateDocument(ctx, "calls/x", nil)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
}

func TestCollectionReplayAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, nil)
	writer := dial(t, r)
	reader := dial(t, r)

	ref, err := writer.CreateDocument(ctx, "calls", nil)
	require.NoError(t, err)
	col := ref.Child("offerCandidates")
	_, err = writer.CreateDocument(ctx, col, core.Fields{"candidate": "a"})
	require.NoError(t, err)

	var snaps snapshots[core.CollectionSnapshot]
	unsub, err := reader.SubscribeCollection(ctx, col, snaps.fn)
	require.NoError(t, err)

	_, err = writer.CreateDocument(ctx, col, core.Fields{"candidate": "b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := snaps.counts()
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	snaps.mu.Lock()
	require.Len(t, snaps.got[0].Changes, 1)
	assert.Equal(t, "a", snaps.got[0].Changes[0].Doc.Fields["candidate"])
	assert.Equal(t, 0, snaps.got[0].Changes[0].Index)
	assert.Equal(t, "b", snaps.got[1].Changes[0].Doc.Fields["candidate"])
	assert.Equal(t, 1, snaps.got[1].Changes[0].Index)
	snaps.mu.Unlock()

	unsub()
	unsub()
	_, err = writer.CreateDocument(ctx, col, core.Fields{"candidate": "c"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	n, _ := snaps.counts()
	assert.Equal(t, 2, n)
}

func TestDisconnectFailsSubscriptions(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, nil)
	c := dial(t, r)

	ref, err := c.CreateDocument(ctx, "calls", nil)
	require.NoError(t, err)
	var snaps snapshots[core.DocumentSnapshot]
	_, err = c.SubscribeDocument(ctx, ref, snaps.fn)
	require.NoError(t, err)

	// drop the socket without a close handshake
	_ = c.conn.Close()

	require.Eventually(t, func() bool {
		_, errs := snaps.counts()
		return errs == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, snaps.lastErr(), domain.ErrReadFailed)

	<-c.Done()
	err = c.SetFields(ctx, ref, core.Fields{"x": 1}, true)
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)

	require.Eventually(t, func() bool { return r.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWritesAreRateLimited(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t, signal.NewWriteRateLimiter(2, time.Minute))
	c := dial(t, r)

	ref, err := c.CreateDocument(ctx, "calls", nil)
	require.NoError(t, err)
	require.NoError(t, c.SetFields(ctx, ref, core.Fields{"a": 1}, true))
	err = c.SetFields(ctx, ref, core.Fields{"a": 2}, true)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
}

func TestCallOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("starts real peer connections")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r := newRelay(t, nil)

	newSession := func(store core.DocumentStore) *call.Session {
		src := media.NewSynthetic()
		cfg := rtc.DefaultWebRTCConfig()
		cfg.ICEServers = nil
		s, err := call.NewSession(call.Deps{
			Store:       store,
			Media:       src,
			Connections: rtc.Factory(cfg, src),
			Video:       true,
			Audio:       true,
		})
		require.NoError(t, err)
		t.Cleanup(s.EndCall)
		return s
	}

	caller := newSession(dial(t, r))
	callee := newSession(dial(t, r))

	id, err := caller.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, callee.JoinCall(ctx, id))

	require.Eventually(t, func() bool {
		return caller.State() == domain.StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	callee.EndCall()
	require.Eventually(t, func() bool {
		return caller.State() == domain.StateEnded
	}, 5*time.Second, 10*time.Millisecond)
}
