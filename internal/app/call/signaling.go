package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/rs/zerolog"
)

// channelHandler receives what the adapter observes on the shared channel.
type channelHandler interface {
	onRemoteCandidate(domain.Candidate)
	onAnswer(domain.Description)
	onRemoteHangup()
	onChannelError(error)
}

// channel bridges one session to the call document and its candidate
// sub-collections. A peer only writes the fields it owns.
type channel struct {
	store  core.DocumentStore
	ref    core.DocumentRef
	role   domain.Role
	logger zerolog.Logger

	mu         sync.Mutex
	applied    map[string]int
	answerSeen bool
	hangupSeen bool
}

func newChannel(store core.DocumentStore, ref core.DocumentRef, role domain.Role, logger zerolog.Logger) *channel {
	return &channel{
		store:   store,
		ref:     ref,
		role:    role,
		logger:  logger,
		applied: make(map[string]int),
	}
}

func (c *channel) publishOffer(ctx context.Context, d domain.Description) error {
	return c.publishDescription(ctx, FieldOffer, d)
}

func (c *channel) publishAnswer(ctx context.Context, d domain.Description) error {
	return c.publishDescription(ctx, FieldAnswer, d)
}

func (c *channel) publishDescription(ctx context.Context, field string, d domain.Description) error {
	body, err := toFields(d)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrWriteFailed, field, err)
	}
	if err := c.store.SetFields(ctx, c.ref, core.Fields{field: body}, true); err != nil {
		return writeErr(err)
	}
	c.logger.Info().Str("field", field).Msg("description published")
	return nil
}

func (c *channel) publishCandidate(ctx context.Context, cand domain.Candidate) error {
	body, err := toFields(cand)
	if err != nil {
		return fmt.Errorf("%w: encode candidate: %w", domain.ErrWriteFailed, err)
	}
	if _, err := c.store.CreateDocument(ctx, c.ref.Child(candidatesOf(c.role)), body); err != nil {
		return writeErr(err)
	}
	metrics.CandidatesTotal.WithLabelValues("published").Inc()
	return nil
}

func (c *channel) publishHangup(ctx context.Context) error {
	if err := c.store.SetFields(ctx, c.ref, core.Fields{hangupFieldOf(c.role): true}, true); err != nil {
		return writeErr(err)
	}
	return nil
}

// watch subscribes to the peer's candidates and to the call document. The
// returned unsubscribes are in acquisition order; on error nothing stays open.
func (c *channel) watch(ctx context.Context, h channelHandler) ([]core.Unsubscribe, error) {
	var subs []core.Unsubscribe

	unsub, err := c.store.SubscribeCollection(ctx, c.ref.Child(peerCandidatesOf(c.role)), func(snap core.CollectionSnapshot, err error) {
		c.handleCandidates(snap, err, h)
	})
	if err != nil {
		return nil, readErr(err)
	}
	subs = append(subs, unsub)

	unsub, err = c.store.SubscribeDocument(ctx, c.ref, func(snap core.DocumentSnapshot, err error) {
		c.handleDocument(snap, err, h)
	})
	if err != nil {
		for i := len(subs) - 1; i >= 0; i-- {
			subs[i]()
		}
		return nil, readErr(err)
	}
	subs = append(subs, unsub)
	return subs, nil
}

func (c *channel) handleCandidates(snap core.CollectionSnapshot, err error, h channelHandler) {
	if err != nil {
		h.onChannelError(readErr(err))
		return
	}
	for _, ch := range snap.Changes {
		if ch.Kind != core.ChangeAdded {
			continue
		}
		if !c.markApplied(ch.Doc.Ref.ID, ch.Index) {
			continue
		}
		cand, err := candidateFromFields(ch.Doc.Fields)
		if err != nil {
			c.logger.Warn().Err(err).Str("doc", ch.Doc.Ref.ID).Msg("skipping malformed candidate")
			continue
		}
		h.onRemoteCandidate(cand)
	}
}

// markApplied records the arrival index of a candidate document and reports
// whether it is new to this listener.
func (c *channel) markApplied(id string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.applied[id]; ok {
		return false
	}
	c.applied[id] = index
	return true
}

func (c *channel) handleDocument(snap core.DocumentSnapshot, err error, h channelHandler) {
	if err != nil {
		h.onChannelError(readErr(err))
		return
	}
	if !snap.Exists {
		return
	}

	if c.role == domain.RoleCaller {
		desc, present, err := descriptionField(snap.Fields, FieldAnswer, domain.DescriptionAnswer)
		if present && c.firstAnswer() {
			if err != nil {
				h.onChannelError(err)
				return
			}
			h.onAnswer(desc)
		}
	}

	if boolField(snap.Fields, peerHangupFieldOf(c.role)) && c.firstHangup() {
		h.onRemoteHangup()
	}
}

func (c *channel) firstAnswer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerSeen {
		return false
	}
	c.answerSeen = true
	return true
}

func (c *channel) firstHangup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hangupSeen {
		return false
	}
	c.hangupSeen = true
	return true
}

func (c *channel) appliedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

// writeErr keeps transport sentinels and files everything else under ErrWriteFailed.
func writeErr(err error) error {
	if isTransportErr(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrWriteFailed, err)
}

func readErr(err error) error {
	if isTransportErr(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrReadFailed, err)
}

func isTransportErr(err error) bool {
	for _, target := range []error{domain.ErrChannelUnavailable, domain.ErrWriteFailed, domain.ErrReadFailed, domain.ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
