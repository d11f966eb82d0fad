package domain

import "errors"

var (
	ErrCallIDEmpty   = errors.New("call id empty")
	ErrCallIDInvalid = errors.New("call id invalid")

	// local media
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPermissionDenied  = errors.New("permission denied")

	// signaling transport
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrWriteFailed        = errors.New("write failed")
	ErrReadFailed         = errors.New("read failed")
	ErrNotFound           = errors.New("not found")

	// peer connection
	ErrInvalidRemoteDescription = errors.New("invalid remote description")
	ErrRemoteDescriptionSet     = errors.New("remote description already set")
	ErrNegotiationFailed        = errors.New("negotiation failed")

	// lifecycle misuse
	ErrUseAfterClose     = errors.New("use after close")
	ErrInvalidTransition = errors.New("invalid state transition")
)
