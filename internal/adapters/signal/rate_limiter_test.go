package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteRateLimiterWindow(t *testing.T) {
	rl := NewWriteRateLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per client")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestWriteRateLimiterDisabled(t *testing.T) {
	var rl *WriteRateLimiter
	assert.True(t, rl.Allow("a"))
	assert.True(t, NewWriteRateLimiter(0, time.Second).Allow("a"))
}
