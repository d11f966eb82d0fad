//go:build linux && cgo

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Device captures the local camera and microphone (V4L2 + malgo).
type Device struct {
	selector *mediadevices.CodecSelector
}

var _ core.MediaSource = (*Device)(nil)

func NewDevice() (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Device{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Device) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Device) Acquire(ctx context.Context, video, audio bool) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !video && !audio {
		return nil, fmt.Errorf("%w: no media kinds requested", domain.ErrDeviceUnavailable)
	}

	var haveVideo, haveAudio bool
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			haveVideo = true
		case mediadevices.AudioInput:
			haveAudio = true
		}
	}
	if video && !haveVideo {
		return nil, fmt.Errorf("%w: no camera", domain.ErrDeviceUnavailable)
	}
	if audio && !haveAudio {
		return nil, fmt.Errorf("%w: no microphone", domain.ErrDeviceUnavailable)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || video && nodesDenied(videoNodes) || audio && nodesDenied(audioNodes) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	tracks := ms.GetTracks()
	stream := newStream(func() {
		for _, t := range tracks {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("close track")
			}
		}
	})
	for _, t := range tracks {
		stream.add(kindOf(t.Kind()), t)
	}
	if stream.Has(core.KindVideo) != video || stream.Has(core.KindAudio) != audio {
		stream.Stop()
		return nil, fmt.Errorf("%w: capture returned %v", domain.ErrDeviceUnavailable, stream.Kinds())
	}

	log.Info().Str("module", "media").Int("tracks", len(tracks)).Msg("device media acquired")
	return stream, nil
}
