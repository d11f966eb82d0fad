// Package wire holds the JSON frames spoken on the relay websocket.
// Every frame is an object with a "type" field, like the signal envelopes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// client → relay
const (
	TypeCreate              = "create"
	TypeSet                 = "set"
	TypeGet                 = "get"
	TypeSubscribeDocument   = "subscribe_doc"
	TypeSubscribeCollection = "subscribe_collection"
	TypeUnsubscribe         = "unsubscribe"
	TypePing                = "ping"
)

// relay → client
const (
	TypeResult             = "result"
	TypeDocumentSnapshot   = "doc_snapshot"
	TypeCollectionSnapshot = "collection_snapshot"
	TypeSubscriptionError  = "subscription_error"
	TypePong               = "pong"
)

type Envelope struct {
	Type string `json:"type"`
}

// Request is any client frame. SubID is picked by the client so pushes can
// be routed before the subscribe result arrives.
type Request struct {
	Type       string            `json:"type"`
	ReqID      uint64            `json:"reqId"`
	Collection string            `json:"collection,omitempty"`
	Ref        *core.DocumentRef `json:"ref,omitempty"`
	Fields     core.Fields       `json:"fields,omitempty"`
	Merge      bool              `json:"merge,omitempty"`
	SubID      string            `json:"subId,omitempty"`
}

type Result struct {
	Type   string            `json:"type"`
	ReqID  uint64            `json:"reqId"`
	Ref    *core.DocumentRef `json:"ref,omitempty"`
	Fields core.Fields       `json:"fields,omitempty"`
	Error  *Error            `json:"error,omitempty"`
}

type DocumentPush struct {
	Type     string                `json:"type"`
	SubID    string                `json:"subId"`
	Snapshot core.DocumentSnapshot `json:"snapshot"`
}

type CollectionPush struct {
	Type     string                  `json:"type"`
	SubID    string                  `json:"subId"`
	Snapshot core.CollectionSnapshot `json:"snapshot"`
}

type SubscriptionError struct {
	Type  string `json:"type"`
	SubID string `json:"subId"`
	Error *Error `json:"error"`
}

// Error codes
const (
	CodeNotFound           = "not_found"
	CodeWriteFailed        = "write_failed"
	CodeReadFailed         = "read_failed"
	CodeChannelUnavailable = "channel_unavailable"
	CodeRateLimited        = "rate_limited"
	CodeBadRequest         = "bad_request"
)

var ErrRateLimited = errors.New("rate limited")

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError encodes a store error for the wire.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeOf(err), Message: err.Error()}
}

func CodeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, domain.ErrChannelUnavailable):
		return CodeChannelUnavailable
	case errors.Is(err, domain.ErrWriteFailed):
		return CodeWriteFailed
	case errors.Is(err, domain.ErrReadFailed):
		return CodeReadFailed
	default:
		return CodeBadRequest
	}
}

// Err maps a wire error back onto the domain sentinels.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	var base error
	switch e.Code {
	case CodeNotFound:
		base = domain.ErrNotFound
	case CodeChannelUnavailable:
		base = domain.ErrChannelUnavailable
	case CodeReadFailed:
		base = domain.ErrReadFailed
	case CodeRateLimited:
		return fmt.Errorf("%w: %w: %s", domain.ErrWriteFailed, ErrRateLimited, e.Message)
	default:
		base = domain.ErrWriteFailed
	}
	return fmt.Errorf("%w: relay: %s", base, e.Message)
}

// Encode marshals any frame.
func Encode(v any) (core.Frame, error) {
	return json.Marshal(v)
}

func TypeOf(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
