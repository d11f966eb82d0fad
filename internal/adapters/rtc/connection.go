package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/metrics"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the native connection setup. Only STUN servers are configured by
// default; there is no TURN fallback unless credentials are supplied.
type Config struct {
	ICEServers          []webrtc.ICEServer
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultWebRTCConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"},
			},
		},
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// WebRTCConnection is the peer connection manager for one call session.
type WebRTCConnection struct {
	pc       *webrtc.PeerConnection
	sid      core.SessionID
	observer core.ConnectionObserver
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu        sync.Mutex
	local     core.LocalStream
	remoteSet bool
	pending   []domain.Candidate
	remote    RemoteStream
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)

// Factory binds cfg and source into a core.ConnectionFactory for call sessions.
func Factory(cfg Config, source core.MediaSource) core.ConnectionFactory {
	return func(sid core.SessionID, observer core.ConnectionObserver) (core.MediaConnection, error) {
		return NewWebRTCConnection(cfg, sid, source, observer)
	}
}

// NewWebRTCConnection builds the pion API from the media source's codecs and
// registers every observer before a track can be attached.
func NewWebRTCConnection(cfg Config, sid core.SessionID, source core.MediaSource, observer core.ConnectionObserver) (*WebRTCConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := source.ConfigureMediaEngine(mediaEngine); err != nil {
		return nil, fmt.Errorf("configure media engine: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:       pc,
		sid:      sid,
		observer: observer,
		logger:   log.With().Str("module", "webrtc").Str("sid", string(sid)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.observer.OnICEState(s)
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.observer.OnPeerState(s)
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand == nil || c.closed.Load() {
			return
		}
		init := cand.ToJSON()
		c.observer.OnLocalCandidate(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if c.closed.Load() {
			return
		}
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		rt := c.remote.add(track)
		go rt.drain(c.ctx, &c.logger)
		c.observer.OnRemoteTrack(track)
	})
}

func (c *WebRTCConnection) AttachLocalTracks(stream core.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.ErrUseAfterClose
	}
	for _, track := range stream.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("%w: add track %s: %w", domain.ErrNegotiationFailed, track.ID(), err)
		}
		go c.readRTCP(sender)
	}
	c.local = stream
	c.logger.Info().Int("tracks", len(stream.Tracks())).Msg("local tracks attached")
	return nil
}

// readRTCP drains sender reports so NACK/PLI interceptors get processed.
func (c *WebRTCConnection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.Description{}, domain.ErrUseAfterClose
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("%w: create offer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.Description{}, fmt.Errorf("%w: set local offer: %w", domain.ErrNegotiationFailed, err)
	}
	return domain.Description{Type: domain.DescriptionOffer, SDP: offer.SDP}, nil
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context, offer domain.Description) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	if err := offer.Validate(domain.DescriptionOffer); err != nil {
		return domain.Description{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.Description{}, domain.ErrUseAfterClose
	}
	if err := c.setRemoteLocked(offer); err != nil {
		return domain.Description{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("%w: create answer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.Description{}, fmt.Errorf("%w: set local answer: %w", domain.ErrNegotiationFailed, err)
	}
	return domain.Description{Type: domain.DescriptionAnswer, SDP: answer.SDP}, nil
}

func (c *WebRTCConnection) SetRemoteDescription(desc domain.Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.ErrUseAfterClose
	}
	return c.setRemoteLocked(desc)
}

func (c *WebRTCConnection) setRemoteLocked(desc domain.Description) error {
	if c.remoteSet || c.pc.RemoteDescription() != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRemoteDescription, domain.ErrRemoteDescriptionSet)
	}
	if desc.Type != domain.DescriptionOffer && desc.Type != domain.DescriptionAnswer {
		return fmt.Errorf("%w: type %q", domain.ErrInvalidRemoteDescription, desc.Type)
	}
	if err := desc.Validate(desc.Type); err != nil {
		return err
	}
	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRemoteDescription, err)
	}
	c.remoteSet = true
	c.flushLocked()
	return nil
}

// flushLocked applies candidates that arrived before the remote description,
// in arrival order.
func (c *WebRTCConnection) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	c.logger.Info().Int("candidates", len(c.pending)).Msg("flushing queued candidates")
	for _, cand := range c.pending {
		if err := c.applyLocked(cand); err != nil {
			c.logger.Warn().Err(err).Str("candidate", cand.Candidate).Msg("queued candidate rejected")
		}
	}
	c.pending = nil
}

func (c *WebRTCConnection) applyLocked(cand domain.Candidate) error {
	err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
	if err != nil {
		metrics.CandidatesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: add candidate: %w", domain.ErrNegotiationFailed, err)
	}
	metrics.CandidatesTotal.WithLabelValues("applied").Inc()
	return nil
}

func (c *WebRTCConnection) AddRemoteCandidate(cand domain.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.ErrUseAfterClose
	}
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		metrics.CandidatesTotal.WithLabelValues("queued").Inc()
		return nil
	}
	return c.applyLocked(cand)
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

// PendingCandidates is the number of remote candidates waiting for the remote description.
func (c *WebRTCConnection) PendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *WebRTCConnection) RemoteStream() core.RemoteStream { return &c.remote }

// RemoteStats exposes per-track receive counters.
func (c *WebRTCConnection) RemoteStats() []*RemoteTrack { return c.remote.Stats() }

// Close releases the native connection, stops local tracks and forgets remote ones.
func (c *WebRTCConnection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	local := c.local
	c.local = nil
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	if local != nil {
		local.Stop()
	}
	c.remote.clear()
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }
