// Command peer is a headless call endpoint: it starts or joins a call through
// a Telecall relay and stays on the line until interrupted or hung up.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Telecall/internal/adapters/media"
	"github.com/dkeye/Telecall/internal/adapters/remotestore"
	"github.com/dkeye/Telecall/internal/adapters/rtc"
	"github.com/dkeye/Telecall/internal/app/call"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("peer", pflag.ExitOnError)
	fs.String("server_url", "", "relay store websocket, e.g. ws://localhost:8080/api/ws/store")
	join := fs.String("join", "", "call id to join; empty starts a new call")
	fs.Bool("video", true, "send video")
	fs.Bool("audio", true, "send audio")
	fs.Bool("synthetic", false, "use generated media instead of capture devices")
	debug := fs.Bool("debug", false, "debug logging")
	_ = fs.Parse(os.Args[1:])
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	source, err := mediaSource(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("media source")
	}

	store, err := remotestore.Dial(ctx, cfg.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("relay unreachable")
	}
	defer store.Close()

	rtcCfg := rtc.DefaultWebRTCConfig()
	rtcCfg.ICEServers = cfg.WebRTCServers()

	finished := make(chan struct{})
	sess, err := call.NewSession(call.Deps{
		Store:        store,
		Media:        source,
		Connections:  rtc.Factory(rtcCfg, source),
		Video:        cfg.Video,
		Audio:        cfg.Audio,
		WriteTimeout: cfg.WriteTimeout,
		OnEvent:      logEvent(finished),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}

	if *join == "" {
		id, err := sess.StartCall(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("start call")
		}
		log.Info().Str("call_id", string(id)).Msg("call started, share this id with the callee")
	} else {
		if err := sess.JoinCall(ctx, domain.CallID(*join)); err != nil {
			log.Fatal().Err(err).Msg("join call")
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("hanging up")
	case <-finished:
	case <-store.Done():
		log.Warn().Msg("relay connection lost")
	}
	sess.EndCall()
	log.Info().Str("state", string(sess.State())).Msg("bye")
}

func mediaSource(cfg *config.Config) (core.MediaSource, error) {
	if cfg.Synthetic {
		return media.NewSynthetic(), nil
	}
	return media.NewDevice()
}

func logEvent(finished chan struct{}) func(call.Event) {
	return func(ev call.Event) {
		switch e := ev.(type) {
		case call.StateChanged:
			l := log.Info().Str("module", "peer").Str("call_id", string(e.CallID)).
				Str("from", string(e.From)).Str("to", string(e.To))
			if e.Err != nil {
				l = l.Err(e.Err)
			}
			l.Msg("call state")
			if e.To.Terminal() {
				close(finished)
			}
		case call.RemoteTrackAdded:
			log.Info().Str("module", "peer").Str("track", e.TrackID).Str("kind", string(e.Kind)).Msg("remote track")
		}
	}
}
