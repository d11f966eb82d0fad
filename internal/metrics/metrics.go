package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecall_active_calls",
		Help: "Number of call sessions that left idle and have not reached a terminal state",
	})
	StoreListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecall_store_listeners",
		Help: "Number of open document store listeners",
	})
	SignalClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telecall_signal_clients",
		Help: "Number of connected relay websocket clients",
	})
)

// Counters
var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecall_calls_total",
		Help: "Call sessions started, by role",
	}, []string{"role"})
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecall_state_transitions_total",
		Help: "Call lifecycle transitions, by target state",
	}, []string{"state"})
	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecall_candidates_total",
		Help: "ICE candidates by outcome (published, queued, applied, rejected)",
	}, []string{"outcome"})
	StoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecall_store_ops_total",
		Help: "Document store operations by op and result",
	}, []string{"op", "result"})
	RTPPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telecall_rtp_packets_total",
		Help: "RTP packets received on remote tracks, by kind",
	}, []string{"kind"})
	SignalDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telecall_signal_dropped_total",
		Help: "Relay frames dropped due to client backpressure",
	})
)
