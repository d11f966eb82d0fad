package core

import (
	"context"
	"strings"
)

// Fields is a flat JSON-compatible document body.
type Fields map[string]any

// DocumentRef addresses one document: Collection/ID.
type DocumentRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r DocumentRef) Path() string { return r.Collection + "/" + r.ID }

// Child returns the path of a sub-collection nested under this document.
func (r DocumentRef) Child(name string) string { return r.Path() + "/" + name }

// ValidCollection reports whether p names a collection (odd segment count, no empty segments).
func ValidCollection(p string) bool {
	if p == "" {
		return false
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return len(segs)%2 == 1
}

type DocumentSnapshot struct {
	Ref    DocumentRef `json:"ref"`
	Exists bool        `json:"exists"`
	Fields Fields      `json:"fields,omitempty"`
}

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
)

// DocumentChange is one entry of a collection snapshot. Index is the arrival
// position of the document inside its collection.
type DocumentChange struct {
	Kind  ChangeKind       `json:"kind"`
	Index int              `json:"index"`
	Doc   DocumentSnapshot `json:"doc"`
}

type CollectionSnapshot struct {
	Collection string           `json:"collection"`
	Changes    []DocumentChange `json:"changes"`
	Size       int              `json:"size"`
}

// Unsubscribe cancels a listener. When it returns, no callback of that
// listener is running and none will run again.
type Unsubscribe func()

// DocumentStore is the shared rendezvous channel.
// Listeners replay current state on attach, then every change in order.
type DocumentStore interface {
	CreateDocument(ctx context.Context, collection string, fields Fields) (DocumentRef, error)
	SetFields(ctx context.Context, ref DocumentRef, fields Fields, merge bool) error
	GetFields(ctx context.Context, ref DocumentRef) (Fields, error)
	SubscribeDocument(ctx context.Context, ref DocumentRef, fn func(DocumentSnapshot, error)) (Unsubscribe, error)
	SubscribeCollection(ctx context.Context, collection string, fn func(CollectionSnapshot, error)) (Unsubscribe, error)
}
