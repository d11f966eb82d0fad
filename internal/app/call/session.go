// Package call drives one two-party call: local media, the peer connection
// and the shared call document.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultWriteTimeout = 5 * time.Second

// Deps is everything a Session needs from the outside.
type Deps struct {
	Store       core.DocumentStore
	Media       core.MediaSource
	Connections core.ConnectionFactory

	Video bool
	Audio bool

	// OnEvent is called serially, in order, from a session-owned goroutine.
	OnEvent func(Event)

	// WriteTimeout bounds store writes made outside a caller context.
	WriteTimeout time.Duration
}

// Session is one call attempt. It is single-use: after ended or failed a new
// Session is required.
type Session struct {
	sid    core.SessionID
	deps   Deps
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	id          domain.CallID
	role        domain.Role
	state       domain.CallState
	err         error
	conn        core.MediaConnection
	local       core.LocalStream
	channel     *channel
	subs        []core.Unsubscribe
	localDesc   domain.Description
	remoteDesc  domain.Description
	pending     *domain.Description
	iceUp       bool
	applied     int
	outbox      []domain.Candidate
	remoteEnded bool
	counted     bool

	events      *core.Listener
	writes      *core.Listener
	releaseOnce sync.Once
	released    chan struct{}
}

func NewSession(deps Deps) (*Session, error) {
	if deps.Store == nil || deps.Media == nil || deps.Connections == nil {
		return nil, errors.New("call: store, media and connection factory are required")
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = defaultWriteTimeout
	}
	sid := core.SessionID(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		sid:      sid,
		deps:     deps,
		logger:   log.With().Str("module", "app.call").Str("sid", string(sid)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    domain.StateIdle,
		events:   core.NewListener(),
		writes:   core.NewListener(),
		released: make(chan struct{}),
	}, nil
}

func (s *Session) ID() domain.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the cause of the failed state, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LocalStream is nil until media has been acquired and after release.
func (s *Session) LocalStream() core.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil
	}
	return s.local
}

// RemoteStream is nil until the connection exists and after release.
func (s *Session) RemoteStream() core.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.state.Terminal() {
		return nil
	}
	return s.conn.RemoteStream()
}

// LocalDescription is the offer or answer this side published.
func (s *Session) LocalDescription() domain.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localDesc
}

func (s *Session) RemoteDescription() domain.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDesc
}

func (s *Session) log() *zerolog.Logger {
	s.mu.Lock()
	l := s.logger
	s.mu.Unlock()
	return &l
}

// Released is closed once every resource of the session has been freed.
func (s *Session) Released() <-chan struct{} { return s.released }

// StartCall creates a call document, publishes an offer and returns the new
// call id to be shared with the callee.
func (s *Session) StartCall(ctx context.Context) (domain.CallID, error) {
	if err := s.begin(domain.RoleCaller); err != nil {
		return "", err
	}
	conn, err := s.prepare(ctx)
	if err != nil {
		return "", s.abort(err)
	}

	ref, err := s.deps.Store.CreateDocument(ctx, CallsCollection, core.Fields{
		FieldCreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", s.abort(writeErr(err))
	}
	id := domain.CallID(ref.ID)
	if err := s.open(ctx, id); err != nil {
		return id, s.abort(err)
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		return id, s.abort(negotiationErr(err))
	}
	s.mu.Lock()
	s.localDesc = offer
	ch := s.channel
	s.mu.Unlock()
	if err := ch.publishOffer(ctx, offer); err != nil {
		return id, s.abort(err)
	}

	s.mu.Lock()
	if !s.transitionLocked(domain.StateOffering, nil) {
		s.mu.Unlock()
		return id, s.closedErr()
	}
	stashed := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.log().Info().Str("call_id", string(id)).Msg("offer published")
	if stashed != nil {
		s.applyAnswer(*stashed)
	}
	return id, nil
}

// JoinCall answers the offer stored under id.
func (s *Session) JoinCall(ctx context.Context, id domain.CallID) error {
	id, err := domain.ParseCallID(string(id))
	if err != nil {
		return err
	}
	if err := s.begin(domain.RoleCallee); err != nil {
		return err
	}
	s.mu.Lock()
	s.id = id
	s.logger = s.logger.With().Str("call_id", string(id)).Logger()
	s.mu.Unlock()

	conn, err := s.prepare(ctx)
	if err != nil {
		return s.abort(err)
	}

	fields, err := s.deps.Store.GetFields(ctx, CallRef(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.abort(fmt.Errorf("%w: call %s: %w", domain.ErrChannelUnavailable, id, domain.ErrNotFound))
		}
		return s.abort(readErr(err))
	}
	offer, present, err := descriptionField(fields, FieldOffer, domain.DescriptionOffer)
	if err != nil {
		return s.abort(err)
	}
	if !present {
		return s.abort(fmt.Errorf("%w: call %s has no offer", domain.ErrInvalidRemoteDescription, id))
	}
	if fields[FieldAnswer] != nil {
		return s.abort(fmt.Errorf("%w: call %s already answered", domain.ErrChannelUnavailable, id))
	}
	if boolField(fields, FieldCallerHangup) {
		return s.abort(fmt.Errorf("%w: call %s already hung up", domain.ErrChannelUnavailable, id))
	}

	if err := s.open(ctx, id); err != nil {
		return s.abort(err)
	}

	answer, err := conn.CreateAnswer(ctx, offer)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRemoteDescription) {
			return s.abort(err)
		}
		return s.abort(negotiationErr(err))
	}
	s.mu.Lock()
	s.localDesc = answer
	s.remoteDesc = offer
	ch := s.channel
	s.mu.Unlock()
	if err := ch.publishAnswer(ctx, answer); err != nil {
		return s.abort(err)
	}

	s.mu.Lock()
	ok := s.transitionLocked(domain.StateAnswering, nil)
	if ok {
		s.maybeConnectedLocked()
	}
	s.mu.Unlock()
	if !ok {
		return s.closedErr()
	}
	s.log().Info().Msg("answer published")
	return nil
}

// EndCall hangs up. It is idempotent and returns once every resource has
// been released. A failed session stays failed.
func (s *Session) EndCall() {
	s.mu.Lock()
	s.transitionLocked(domain.StateEnded, nil)
	s.mu.Unlock()
	s.release()
}

// begin moves idle to creating for the given role.
func (s *Session) begin(role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateIdle {
		if s.state.Terminal() {
			return domain.ErrUseAfterClose
		}
		return fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, domain.StateCreating, s.state)
	}
	s.role = role
	s.logger = s.logger.With().Str("role", string(role)).Logger()
	s.transitionLocked(domain.StateCreating, nil)
	s.counted = true
	metrics.ActiveCalls.Inc()
	metrics.CallsTotal.WithLabelValues(string(role)).Inc()
	return nil
}

// prepare acquires local media, creates the connection and attaches tracks.
// Resources are adopted only while the session is still live.
func (s *Session) prepare(ctx context.Context) (core.MediaConnection, error) {
	stream, err := s.deps.Media.Acquire(ctx, s.deps.Video, s.deps.Audio)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		stream.Stop()
		return nil, domain.ErrUseAfterClose
	}
	s.local = stream
	s.mu.Unlock()

	conn, err := s.deps.Connections(s.sid, s)
	if err != nil {
		return nil, negotiationErr(err)
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		conn.Close()
		return nil, domain.ErrUseAfterClose
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.AttachLocalTracks(stream); err != nil {
		return nil, negotiationErr(err)
	}
	return conn, nil
}

// open binds the session to the call document: queued local candidates go
// out and both subscriptions start.
func (s *Session) open(ctx context.Context, id domain.CallID) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return domain.ErrUseAfterClose
	}
	s.id = id
	if s.role == domain.RoleCaller {
		s.logger = s.logger.With().Str("call_id", string(id)).Logger()
	}
	ch := newChannel(s.deps.Store, CallRef(id), s.role, s.logger)
	s.channel = ch
	for _, cand := range s.outbox {
		s.queuePublishLocked(ch, cand)
	}
	s.outbox = nil
	s.mu.Unlock()

	subs, err := ch.watch(ctx, s)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		for i := len(subs) - 1; i >= 0; i-- {
			subs[i]()
		}
		return domain.ErrUseAfterClose
	}
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
	return nil
}

func (s *Session) queuePublishLocked(ch *channel, cand domain.Candidate) {
	s.writes.Push(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.deps.WriteTimeout)
		defer cancel()
		if err := ch.publishCandidate(ctx, cand); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
		}
	})
}

// abort fails the session synchronously and returns err to the caller.
func (s *Session) abort(err error) error {
	s.mu.Lock()
	s.transitionLocked(domain.StateFailed, err)
	s.mu.Unlock()
	s.release()
	s.log().Warn().Err(err).Msg("call aborted")
	return err
}

// fail is used from callbacks; release runs on its own goroutine.
func (s *Session) fail(err error) {
	s.mu.Lock()
	ok := s.transitionLocked(domain.StateFailed, err)
	s.mu.Unlock()
	if ok {
		s.log().Warn().Err(err).Msg("call failed")
		go s.release()
	}
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return domain.ErrUseAfterClose
}

// transitionLocked applies a lifecycle move and queues its event.
func (s *Session) transitionLocked(to domain.CallState, cause error) bool {
	from := s.state
	if !from.CanTransition(to) {
		return false
	}
	s.state = to
	if to == domain.StateFailed {
		s.err = cause
	}
	metrics.StateTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state changed")
	s.emitLocked(StateChanged{CallID: s.id, From: from, To: to, Err: cause})
	return true
}

func (s *Session) emitLocked(ev Event) {
	if s.deps.OnEvent == nil {
		return
	}
	fn := s.deps.OnEvent
	s.events.Push(func() { fn(ev) })
}

func (s *Session) maybeConnectedLocked() {
	if s.role == domain.RoleCallee && s.state == domain.StateAnswering && s.iceUp && s.applied > 0 {
		s.transitionLocked(domain.StateConnected, nil)
	}
}

func (s *Session) applyAnswer(answer domain.Description) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SetRemoteDescription(answer); err != nil {
		s.fail(remoteDescErr(err))
		return
	}
	s.mu.Lock()
	s.remoteDesc = answer
	s.transitionLocked(domain.StateConnected, nil)
	s.mu.Unlock()
	s.log().Info().Msg("answer applied")
}

// release frees everything the session holds: listeners in reverse order,
// then the hangup flag, the connection and finally local media.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		ch := s.channel
		conn := s.conn
		local := s.local
		notify := ch != nil && !s.remoteEnded
		counted := s.counted
		s.mu.Unlock()

		for i := len(subs) - 1; i >= 0; i-- {
			subs[i]()
		}
		s.writes.Stop()

		if notify {
			ctx, cancel := context.WithTimeout(context.Background(), s.deps.WriteTimeout)
			if err := ch.publishHangup(ctx); err != nil {
				s.log().Warn().Err(err).Msg("hangup flag not written")
			}
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		if local != nil {
			local.Stop()
		}
		if counted {
			metrics.ActiveCalls.Dec()
		}
		s.events.Finish()
		close(s.released)
		s.log().Info().Msg("call released")
	})
	<-s.released
}

// ConnectionObserver

func (s *Session) OnLocalCandidate(cand domain.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if s.channel == nil {
		s.outbox = append(s.outbox, cand)
		return
	}
	s.queuePublishLocked(s.channel, cand)
}

func (s *Session) OnRemoteTrack(track *webrtc.TrackRemote) {
	kind := core.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.KindVideo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.emitLocked(RemoteTrackAdded{
		CallID:   s.id,
		TrackID:  track.ID(),
		StreamID: track.StreamID(),
		Kind:     kind,
	})
}

func (s *Session) OnICEState(state webrtc.ICEConnectionState) {
	s.log().Debug().Str("ice", state.String()).Msg("ice state")
	if state != webrtc.ICEConnectionStateConnected && state != webrtc.ICEConnectionStateCompleted {
		return
	}
	s.mu.Lock()
	s.iceUp = true
	s.maybeConnectedLocked()
	s.mu.Unlock()
}

func (s *Session) OnPeerState(state webrtc.PeerConnectionState) {
	if state == webrtc.PeerConnectionStateFailed {
		s.fail(fmt.Errorf("%w: peer connection failed", domain.ErrNegotiationFailed))
	}
}

// channelHandler

func (s *Session) onRemoteCandidate(cand domain.Candidate) {
	s.mu.Lock()
	conn := s.conn
	live := !s.state.Terminal()
	s.mu.Unlock()
	if conn == nil || !live {
		return
	}
	queued := !conn.HasRemoteDescription()
	if err := conn.AddRemoteCandidate(cand); err != nil {
		metrics.CandidatesTotal.WithLabelValues("rejected").Inc()
		s.log().Warn().Err(err).Msg("remote candidate rejected")
		return
	}
	if queued {
		metrics.CandidatesTotal.WithLabelValues("queued").Inc()
	} else {
		metrics.CandidatesTotal.WithLabelValues("applied").Inc()
	}
	s.mu.Lock()
	s.applied++
	s.maybeConnectedLocked()
	s.mu.Unlock()
}

func (s *Session) onAnswer(answer domain.Description) {
	s.mu.Lock()
	switch s.state {
	case domain.StateCreating:
		// offer write still in flight; StartCall applies it after offering
		s.pending = &answer
		s.mu.Unlock()
		return
	case domain.StateOffering:
		s.mu.Unlock()
		s.applyAnswer(answer)
	default:
		s.mu.Unlock()
	}
}

func (s *Session) onRemoteHangup() {
	s.mu.Lock()
	if s.state.CanTransition(domain.StateEnded) {
		s.remoteEnded = true
	}
	ok := s.transitionLocked(domain.StateEnded, nil)
	s.mu.Unlock()
	if ok {
		s.log().Info().Msg("remote peer hung up")
		go s.release()
	}
}

func (s *Session) onChannelError(err error) {
	s.fail(err)
}

func negotiationErr(err error) error {
	if errors.Is(err, domain.ErrNegotiationFailed) || errors.Is(err, domain.ErrUseAfterClose) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
}

func remoteDescErr(err error) error {
	if errors.Is(err, domain.ErrInvalidRemoteDescription) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidRemoteDescription, err)
}
