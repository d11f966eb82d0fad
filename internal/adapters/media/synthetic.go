package media

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opus TOC byte for a 20ms silent frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic produces generated tracks for headless peers and tests.
// HasVideo/HasAudio model which devices exist; DenyPermission models a
// declined capture prompt.
type Synthetic struct {
	HasVideo       bool
	HasAudio       bool
	DenyPermission bool
	FrameInterval  time.Duration
}

var _ core.MediaSource = (*Synthetic)(nil)

func NewSynthetic() *Synthetic {
	return &Synthetic{HasVideo: true, HasAudio: true, FrameInterval: 20 * time.Millisecond}
}

func (s *Synthetic) Acquire(ctx context.Context, video, audio bool) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !video && !audio {
		return nil, fmt.Errorf("%w: no media kinds requested", domain.ErrDeviceUnavailable)
	}
	if s.DenyPermission {
		return nil, domain.ErrPermissionDenied
	}
	if video && !s.HasVideo {
		return nil, fmt.Errorf("%w: no camera", domain.ErrDeviceUnavailable)
	}
	if audio && !s.HasAudio {
		return nil, fmt.Errorf("%w: no microphone", domain.ErrDeviceUnavailable)
	}

	streamID := "telecall-" + uuid.NewString()
	var samples []*webrtc.TrackLocalStaticSample
	if video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
		}
		samples = append(samples, t)
	}
	if audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
		}
		samples = append(samples, t)
	}

	done := make(chan struct{})
	stream := newStream(func() { close(done) })
	for _, t := range samples {
		stream.add(kindOf(t.Kind()), t)
	}

	interval := s.FrameInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	go pump(done, samples, interval)

	log.Info().Str("module", "media").Str("stream_id", streamID).Bool("video", video).Bool("audio", audio).Msg("synthetic media acquired")
	return stream, nil
}

func (s *Synthetic) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

// pump feeds placeholder frames until done is closed. Writes to unbound
// tracks are no-ops, so it can start before the connection exists.
func pump(done <-chan struct{}, tracks []*webrtc.TrackLocalStaticSample, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	videoFrame := make([]byte, 64)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, t := range tracks {
				data := opusSilence
				if t.Kind() == webrtc.RTPCodecTypeVideo {
					data = videoFrame
				}
				if err := t.WriteSample(pionmedia.Sample{Data: data, Duration: interval}); err != nil {
					log.Debug().Err(err).Str("module", "media").Str("track", t.ID()).Msg("write sample")
				}
			}
		}
	}
}
