package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RemoteTrack is one received track plus receive counters.
type RemoteTrack struct {
	Track *webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }
func (t *RemoteTrack) Bytes() uint64   { return t.bytes.Load() }

func (t *RemoteTrack) observe(pkt *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
}

// drain reads RTP until the track ends so interceptors keep running and the
// counters stay current.
func (t *RemoteTrack) drain(ctx context.Context, logger *zerolog.Logger) {
	kind := t.Track.Kind().String()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := t.Track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("track_id", t.Track.ID()).Msg("remote track ended")
			return
		}
		t.observe(pkt)
		metrics.RTPPacketsTotal.WithLabelValues(kind).Inc()
	}
}

// RemoteStream is the remote track bundle. It grows as tracks arrive, so
// readers must not assume a fixed size.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []*RemoteTrack
}

func (r *RemoteStream) add(track *webrtc.TrackRemote) *RemoteTrack {
	rt := &RemoteTrack{Track: track}
	r.mu.Lock()
	r.tracks = append(r.tracks, rt)
	r.mu.Unlock()
	return rt
}

func (r *RemoteStream) clear() {
	r.mu.Lock()
	r.tracks = nil
	r.mu.Unlock()
}

// Tracks returns a snapshot of the tracks received so far.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, 0, len(r.tracks))
	for _, t := range r.tracks {
		out = append(out, t.Track)
	}
	return out
}

// Stats returns the received tracks with their counters.
func (r *RemoteStream) Stats() []*RemoteTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RemoteTrack, len(r.tracks))
	copy(out, r.tracks)
	return out
}

func (r *RemoteStream) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}
