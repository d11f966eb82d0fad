package app

import "github.com/dkeye/Telecall/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickClient
)

// Policy decides what happens when a client's send buffer is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, push string) BackpressureAction
}

// SimplePolicy kicks the client. Snapshots are never skipped.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(sid core.SessionID, push string) BackpressureAction {
	return KickClient
}
