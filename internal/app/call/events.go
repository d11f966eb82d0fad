package call

import (
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// Event is a notification for the UI layer. Consumers switch on the concrete type.
type Event interface {
	isEvent()
}

// StateChanged reports one lifecycle transition. Err is set for transitions to failed.
type StateChanged struct {
	CallID domain.CallID
	From   domain.CallState
	To     domain.CallState
	Err    error
}

// RemoteTrackAdded reports a new track in the remote stream.
type RemoteTrackAdded struct {
	CallID   domain.CallID
	TrackID  string
	StreamID string
	Kind     core.MediaKind
}

func (StateChanged) isEvent()     {}
func (RemoteTrackAdded) isEvent() {}
