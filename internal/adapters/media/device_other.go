//go:build !linux || !cgo

package media

import (
	"context"
	"fmt"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Device has no capture drivers on this platform; use Synthetic instead.
type Device struct{}

var _ core.MediaSource = (*Device)(nil)

func NewDevice() (*Device, error) { return &Device{}, nil }

func (d *Device) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *Device) Acquire(ctx context.Context, video, audio bool) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: capture drivers not built for this platform", domain.ErrDeviceUnavailable)
}
