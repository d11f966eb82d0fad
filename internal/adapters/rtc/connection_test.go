package rtc

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/Telecall/internal/adapters/media"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	tracks     int
}

func (o *recordingObserver) OnLocalCandidate(c domain.Candidate) {
	o.mu.Lock()
	o.candidates = append(o.candidates, c)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRemoteTrack(*webrtc.TrackRemote) {
	o.mu.Lock()
	o.tracks++
	o.mu.Unlock()
}

func (o *recordingObserver) OnICEState(webrtc.ICEConnectionState)   {}
func (o *recordingObserver) OnPeerState(webrtc.PeerConnectionState) {}

func newTestConnection(t *testing.T, sid core.SessionID) *WebRTCConnection {
	t.Helper()
	src := media.NewSynthetic()
	cfg := DefaultWebRTCConfig()
	cfg.ICEServers = nil

	c, err := NewWebRTCConnection(cfg, sid, src, &recordingObserver{})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	stream, err := src.Acquire(context.Background(), true, true)
	require.NoError(t, err)
	require.NoError(t, c.AttachLocalTracks(stream))
	return c
}

func hostCandidate() domain.Candidate {
	mid := "0"
	idx := uint16(0)
	return domain.Candidate{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func TestOfferAnswerSetsRemoteDescriptionOnce(t *testing.T) {
	ctx := context.Background()
	caller := newTestConnection(t, "caller")
	callee := newTestConnection(t, "callee")

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DescriptionOffer, offer.Type)
	assert.NotEmpty(t, offer.SDP)

	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, domain.DescriptionAnswer, answer.Type)
	assert.True(t, callee.HasRemoteDescription())

	require.NoError(t, caller.SetRemoteDescription(answer))
	assert.True(t, caller.HasRemoteDescription())

	err = caller.SetRemoteDescription(answer)
	assert.ErrorIs(t, err, domain.ErrRemoteDescriptionSet)
	err = callee.SetRemoteDescription(offer)
	assert.ErrorIs(t, err, domain.ErrRemoteDescriptionSet)
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	caller := newTestConnection(t, "caller")
	callee := newTestConnection(t, "callee")

	require.NoError(t, caller.AddRemoteCandidate(hostCandidate()))
	require.NoError(t, caller.AddRemoteCandidate(hostCandidate()))
	assert.Equal(t, 2, caller.PendingCandidates())

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, caller.SetRemoteDescription(answer))

	assert.Equal(t, 0, caller.PendingCandidates())
	assert.Empty(t, caller.RemoteStats())
}

func TestCreateAnswerRejectsMalformedOffer(t *testing.T) {
	callee := newTestConnection(t, "callee")

	_, err := callee.CreateAnswer(context.Background(), domain.Description{Type: domain.DescriptionOffer, SDP: "not sdp"})
	assert.ErrorIs(t, err, domain.ErrInvalidRemoteDescription)

	_, err = callee.CreateAnswer(context.Background(), domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrInvalidRemoteDescription)
	assert.False(t, callee.HasRemoteDescription())
}

func TestCloseIsIdempotentAndRejectsLaterUse(t *testing.T) {
	c := newTestConnection(t, "solo")
	c.Close()
	c.Close()

	assert.True(t, c.IsClosed())
	assert.Equal(t, 0, c.RemoteStream().Len())

	_, err := c.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrUseAfterClose)
	assert.ErrorIs(t, c.AddRemoteCandidate(hostCandidate()), domain.ErrUseAfterClose)
	assert.ErrorIs(t, c.SetRemoteDescription(domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0"}), domain.ErrUseAfterClose)
}
