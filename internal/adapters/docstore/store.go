// Package docstore is an in-process document store with ordered collections
// and replaying listeners, optionally persisted to SQLite.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Record is the persisted form of one document.
type Record struct {
	Collection string
	ID         string
	Seq        uint64
	Fields     core.Fields
}

// Persister stores documents durably. Save is called before a write becomes
// visible to listeners; a failed Save rejects the write.
type Persister interface {
	Load() ([]Record, error)
	Save(Record) error
	Close() error
}

type document struct {
	ref    core.DocumentRef
	seq    uint64
	index  int
	fields core.Fields
}

type subscriber struct {
	l     *core.Listener
	docFn func(core.DocumentSnapshot, error)
	colFn func(core.CollectionSnapshot, error)
}

// Store implements core.DocumentStore.
type Store struct {
	mu          sync.Mutex
	seq         uint64
	docs        map[string]*document
	collections map[string][]*document
	docSubs     map[string]map[*subscriber]struct{}
	colSubs     map[string]map[*subscriber]struct{}
	persist     Persister
	closed      bool
}

var _ core.DocumentStore = (*Store)(nil)

// NewMemory returns a store without persistence.
func NewMemory() *Store {
	return &Store{
		docs:        make(map[string]*document),
		collections: make(map[string][]*document),
		docSubs:     make(map[string]map[*subscriber]struct{}),
		colSubs:     make(map[string]map[*subscriber]struct{}),
	}
}

// Open returns a store backed by p, preloaded with everything p holds.
func Open(p Persister) (*Store, error) {
	s := NewMemory()
	records, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	for _, r := range records {
		ref := core.DocumentRef{Collection: r.Collection, ID: r.ID}
		d := &document{ref: ref, seq: r.Seq, fields: r.Fields}
		d.index = len(s.collections[r.Collection])
		s.collections[r.Collection] = append(s.collections[r.Collection], d)
		s.docs[ref.Path()] = d
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
	}
	s.persist = p
	log.Info().Str("module", "docstore").Int("documents", len(records)).Msg("store loaded")
	return s, nil
}

func (s *Store) CreateDocument(ctx context.Context, collection string, fields core.Fields) (core.DocumentRef, error) {
	if err := ctx.Err(); err != nil {
		return core.DocumentRef{}, fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
	}
	if !core.ValidCollection(collection) {
		return core.DocumentRef{}, fmt.Errorf("%w: bad collection %q", domain.ErrWriteFailed, collection)
	}
	body, err := normalize(fields)
	if err != nil {
		return core.DocumentRef{}, err
	}
	ref := core.DocumentRef{Collection: collection, ID: uuid.NewString()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.DocumentRef{}, domain.ErrChannelUnavailable
	}
	if err := s.insertLocked(ref, body); err != nil {
		metrics.StoreOpsTotal.WithLabelValues("create", "error").Inc()
		return core.DocumentRef{}, err
	}
	metrics.StoreOpsTotal.WithLabelValues("create", "ok").Inc()
	return ref, nil
}

func (s *Store) SetFields(ctx context.Context, ref core.DocumentRef, fields core.Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
	}
	if !validRef(ref) {
		return fmt.Errorf("%w: bad document %q", domain.ErrWriteFailed, ref.Path())
	}
	body, err := normalize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrChannelUnavailable
	}
	d, ok := s.docs[ref.Path()]
	if !ok {
		if err := s.insertLocked(ref, body); err != nil {
			metrics.StoreOpsTotal.WithLabelValues("set", "error").Inc()
			return err
		}
		metrics.StoreOpsTotal.WithLabelValues("set", "ok").Inc()
		return nil
	}

	next := body
	if merge {
		next = make(core.Fields, len(d.fields)+len(body))
		for k, v := range d.fields {
			next[k] = v
		}
		for k, v := range body {
			next[k] = v
		}
	}
	if s.persist != nil {
		if err := s.persist.Save(Record{Collection: ref.Collection, ID: ref.ID, Seq: d.seq, Fields: next}); err != nil {
			metrics.StoreOpsTotal.WithLabelValues("set", "error").Inc()
			return fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
		}
	}
	d.fields = next
	metrics.StoreOpsTotal.WithLabelValues("set", "ok").Inc()
	s.notifyLocked(d, core.ChangeModified)
	return nil
}

func (s *Store) GetFields(ctx context.Context, ref core.DocumentRef) (core.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReadFailed, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrChannelUnavailable
	}
	d, ok := s.docs[ref.Path()]
	if !ok {
		metrics.StoreOpsTotal.WithLabelValues("get", "not_found").Inc()
		return nil, domain.ErrNotFound
	}
	metrics.StoreOpsTotal.WithLabelValues("get", "ok").Inc()
	return clone(d.fields), nil
}

func (s *Store) SubscribeDocument(ctx context.Context, ref core.DocumentRef, fn func(core.DocumentSnapshot, error)) (core.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReadFailed, err)
	}
	if !validRef(ref) {
		return nil, fmt.Errorf("%w: bad document %q", domain.ErrReadFailed, ref.Path())
	}
	sub := &subscriber{l: core.NewListener(), docFn: fn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.l.Stop()
		return nil, domain.ErrChannelUnavailable
	}
	key := ref.Path()
	if s.docSubs[key] == nil {
		s.docSubs[key] = make(map[*subscriber]struct{})
	}
	s.docSubs[key][sub] = struct{}{}
	snap := core.DocumentSnapshot{Ref: ref}
	if d, ok := s.docs[key]; ok {
		snap = docSnapshot(d)
	}
	sub.l.Push(func() { fn(snap, nil) })
	s.mu.Unlock()

	metrics.StoreListeners.Inc()
	return s.unsubscriber(func() { delete(s.docSubs[key], sub) }, sub), nil
}

func (s *Store) SubscribeCollection(ctx context.Context, collection string, fn func(core.CollectionSnapshot, error)) (core.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReadFailed, err)
	}
	if !core.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: bad collection %q", domain.ErrReadFailed, collection)
	}
	sub := &subscriber{l: core.NewListener(), colFn: fn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.l.Stop()
		return nil, domain.ErrChannelUnavailable
	}
	if s.colSubs[collection] == nil {
		s.colSubs[collection] = make(map[*subscriber]struct{})
	}
	s.colSubs[collection][sub] = struct{}{}

	// replay from start: every existing document arrives as an added change
	existing := s.collections[collection]
	snap := core.CollectionSnapshot{Collection: collection, Size: len(existing)}
	for _, d := range existing {
		snap.Changes = append(snap.Changes, core.DocumentChange{Kind: core.ChangeAdded, Index: d.index, Doc: docSnapshot(d)})
	}
	sub.l.Push(func() { fn(snap, nil) })
	s.mu.Unlock()

	metrics.StoreListeners.Inc()
	return s.unsubscriber(func() { delete(s.colSubs[collection], sub) }, sub), nil
}

// Close stops every listener and the persister.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*subscriber
	for _, m := range s.docSubs {
		for sub := range m {
			subs = append(subs, sub)
		}
	}
	for _, m := range s.colSubs {
		for sub := range m {
			subs = append(subs, sub)
		}
	}
	s.docSubs = make(map[string]map[*subscriber]struct{})
	s.colSubs = make(map[string]map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.l.Stop()
		metrics.StoreListeners.Dec()
	}
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}

func (s *Store) unsubscriber(remove func(), sub *subscriber) core.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			removed := !s.closed
			remove()
			s.mu.Unlock()
			sub.l.Stop()
			if removed {
				metrics.StoreListeners.Dec()
			}
		})
	}
}

func (s *Store) insertLocked(ref core.DocumentRef, fields core.Fields) error {
	s.seq++
	d := &document{ref: ref, seq: s.seq, fields: fields, index: len(s.collections[ref.Collection])}
	if s.persist != nil {
		if err := s.persist.Save(Record{Collection: ref.Collection, ID: ref.ID, Seq: d.seq, Fields: fields}); err != nil {
			s.seq--
			return fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
		}
	}
	s.docs[ref.Path()] = d
	s.collections[ref.Collection] = append(s.collections[ref.Collection], d)
	s.notifyLocked(d, core.ChangeAdded)
	return nil
}

func (s *Store) notifyLocked(d *document, kind core.ChangeKind) {
	for sub := range s.docSubs[d.ref.Path()] {
		snap := docSnapshot(d)
		fn := sub.docFn
		sub.l.Push(func() { fn(snap, nil) })
	}
	size := len(s.collections[d.ref.Collection])
	for sub := range s.colSubs[d.ref.Collection] {
		snap := core.CollectionSnapshot{
			Collection: d.ref.Collection,
			Changes:    []core.DocumentChange{{Kind: kind, Index: d.index, Doc: docSnapshot(d)}},
			Size:       size,
		}
		fn := sub.colFn
		sub.l.Push(func() { fn(snap, nil) })
	}
}

func docSnapshot(d *document) core.DocumentSnapshot {
	return core.DocumentSnapshot{Ref: d.ref, Exists: true, Fields: clone(d.fields)}
}

func validRef(ref core.DocumentRef) bool {
	return core.ValidCollection(ref.Collection) && ref.ID != "" && !strings.Contains(ref.ID, "/")
}

// normalize detaches the body from the caller and gives it the same shape a
// remote client would see (JSON numbers, nested maps).
func normalize(fields core.Fields) (core.Fields, error) {
	if fields == nil {
		return core.Fields{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: encode fields: %w", domain.ErrWriteFailed, err)
	}
	var out core.Fields
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decode fields: %w", domain.ErrWriteFailed, err)
	}
	return out, nil
}

func clone(fields core.Fields) core.Fields {
	out, err := normalize(fields)
	if err != nil {
		// fields were produced by normalize; re-encoding cannot fail
		return core.Fields{}
	}
	return out
}
