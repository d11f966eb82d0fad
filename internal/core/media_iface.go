package core

import (
	"context"

	"github.com/dkeye/Telecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaKind is the kind of a local or remote track.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// LocalStream is the local track bundle handed to a MediaConnection.
// The connection owns it after AttachLocalTracks and stops it on Close.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	Kinds() []MediaKind
	Stop()
}

// MediaSource acquires local capture and knows which codecs its tracks need.
type MediaSource interface {
	Acquire(ctx context.Context, video, audio bool) (LocalStream, error)
	// ConfigureMediaEngine registers the codecs produced by this source.
	ConfigureMediaEngine(m *webrtc.MediaEngine) error
}

// ConnectionObserver receives connection events. It is registered before any
// track is attached so that early candidates are never lost.
type ConnectionObserver interface {
	OnLocalCandidate(domain.Candidate)
	OnRemoteTrack(*webrtc.TrackRemote)
	OnICEState(webrtc.ICEConnectionState)
	OnPeerState(webrtc.PeerConnectionState)
}

type MediaConnection interface {
	// AttachLocalTracks adds every track of the stream; must precede description creation.
	AttachLocalTracks(LocalStream) error
	CreateOffer(ctx context.Context) (domain.Description, error)
	CreateAnswer(ctx context.Context, offer domain.Description) (domain.Description, error)
	// SetRemoteDescription applies a remote description exactly once.
	SetRemoteDescription(domain.Description) error
	HasRemoteDescription() bool
	RemoteStream() RemoteStream
	// AddRemoteCandidate applies a candidate or queues it until the remote description lands.
	AddRemoteCandidate(domain.Candidate) error
	// Close releases media resources. Idempotent.
	Close()
	IsClosed() bool
}

// ConnectionFactory creates a MediaConnection bound to the given observer.
type ConnectionFactory func(sid SessionID, observer ConnectionObserver) (MediaConnection, error)

// RemoteStream is the remote track bundle; it grows as tracks arrive.
type RemoteStream interface {
	Tracks() []*webrtc.TrackRemote
	Len() int
}
