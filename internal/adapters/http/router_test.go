package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Telecall/internal/adapters/docstore"
	"github.com/dkeye/Telecall/internal/adapters/signal"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/app/call"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *docstore.Store) {
	t.Helper()
	store := docstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	ctl := signal.NewStoreWSController(store, app.NewRegistry(), app.SimplePolicy{}, nil, signal.Options{})
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	return SetupRouter(context.Background(), cfg, Deps{Store: store, Controller: ctl}), store
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
	assert.NotEmpty(t, w.Result().Cookies())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientTokenSurvivesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("TelecallSessions", cookie.NewStore([]byte("test-secret"))))
	r.Use(ClientTokenMiddleware())
	r.GET("/token", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(clientTokenKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Body.String()
	require.NotEmpty(t, first)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "TelecallSessions", cookies[0].Name)
	assert.NotContains(t, cookies[0].Value, first)

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, first, w.Body.String())
	assert.Empty(t, w.Result().Cookies())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/token", nil))
	assert.NotEqual(t, first, w.Body.String())
}

func TestCallLookup(t *testing.T) {
	r, store := newTestRouter(t)
	ctx := context.Background()

	ref, err := store.CreateDocument(ctx, call.CallsCollection, core.Fields{
		call.FieldCreatedAt: "2026-01-01T00:00:00Z",
		call.FieldOffer:     map[string]any{"type": "offer", "sdp": "v=0"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/"+ref.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got call.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, ref.ID, string(got.ID))
	assert.True(t, got.HasOffer)
	assert.False(t, got.HasAnswer)
	assert.NotContains(t, w.Body.String(), "v=0")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/"+strings.Repeat("x", 80), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
