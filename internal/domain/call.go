// Package domain contains call entities without transport logic, just meta-data
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const MaxCallIDLen = 64

type CallID string

// NewCallID is a tiny helper for stores that assign ids themselves.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// ParseCallID validates an id shared out-of-band (link, QR code, chat).
func ParseCallID(raw string) (CallID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrCallIDEmpty
	}
	if len(raw) > MaxCallIDLen || strings.ContainsAny(raw, "/ ") {
		return "", ErrCallIDInvalid
	}
	return CallID(raw), nil
}

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// DescriptionType mirrors the SDP type names used on the wire.
type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is a session description: type + opaque SDP blob.
type Description struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

func (d Description) Empty() bool { return d.Type == "" && d.SDP == "" }

// Validate checks the description carries the expected type and a non-empty SDP.
func (d Description) Validate(want DescriptionType) error {
	if d.Type != want {
		return ErrInvalidRemoteDescription
	}
	if strings.TrimSpace(d.SDP) == "" {
		return ErrInvalidRemoteDescription
	}
	return nil
}

// Candidate is one trickled ICE candidate record.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
