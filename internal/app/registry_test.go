package app

import (
	"testing"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func TestRegistryReleasesSubscriptionsOnUnbind(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("c1", "token", nopConn{}, func() { canceled = true })

	released := map[string]int{}
	require.True(t, r.AddSubscription("c1", "a", func() { released["a"]++ }))
	require.True(t, r.AddSubscription("c1", "b", func() { released["b"]++ }))
	assert.False(t, r.AddSubscription("c1", "a", func() {}), "duplicate id")
	assert.False(t, r.AddSubscription("ghost", "x", func() {}))
	assert.Equal(t, 2, r.Subscriptions("c1"))

	unsub, ok := r.RemoveSubscription("c1", "a")
	require.True(t, ok)
	unsub()

	assert.True(t, r.Cancel("c1"))
	assert.True(t, canceled)

	r.Unbind("c1")
	r.Unbind("c1")
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, released)
	assert.Zero(t, r.Count())
	_, ok = r.Conn("c1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("c1"))
}

func TestSimplePolicyKicks(t *testing.T) {
	assert.Equal(t, KickClient, SimplePolicy{}.OnBackPressure("c1", "doc_snapshot"))
}
