package core

// SessionID identifies one relay client or one local call session in logs.
type SessionID string

// Frame is a raw payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
