// Package media acquires local audio/video tracks for a call.
package media

import (
	"sync"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/pion/webrtc/v4"
)

// Stream is a fixed local track bundle. Stop releases the capture exactly once.
type Stream struct {
	tracks []webrtc.TrackLocal
	kinds  []core.MediaKind

	stopOnce sync.Once
	stop     func()
}

var _ core.LocalStream = (*Stream)(nil)

func newStream(stop func()) *Stream {
	return &Stream{stop: stop}
}

func (s *Stream) add(kind core.MediaKind, track webrtc.TrackLocal) {
	s.kinds = append(s.kinds, kind)
	s.tracks = append(s.tracks, track)
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) Kinds() []core.MediaKind {
	out := make([]core.MediaKind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

func (s *Stream) Has(kind core.MediaKind) bool {
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

func kindOf(t webrtc.RTPCodecType) core.MediaKind {
	if t == webrtc.RTPCodecTypeVideo {
		return core.KindVideo
	}
	return core.KindAudio
}
