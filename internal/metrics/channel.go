package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BoundaryTransitionTotal counts boundary state machine transitions.
	BoundaryTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_boundary_transition_total",
		Help: "Boundary state machine transitions by edge",
	}, []string{"channel", "from", "to"})

	// BoundaryViolationTotal counts rejected illegal transitions.
	BoundaryViolationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_boundary_violation_total",
		Help: "Illegal boundary transitions rejected",
	}, []string{"channel"})

	// ChannelLive reports whether a channel is in the LIVE boundary state.
	ChannelLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_channel_live",
		Help: "1 if the channel boundary state is LIVE",
	}, []string{"channel"})

	// EngineRPCDuration tracks engine control-plane RPC latencies.
	EngineRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retrovue_engine_rpc_duration_seconds",
		Help:    "Engine RPC round-trip latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"rpc", "result"})

	// ViewerCount tracks the advisory viewer count per channel.
	ViewerCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_channel_viewers",
		Help: "Current viewer count per channel",
	}, []string{"channel"})
)

// IncBoundaryTransition records one legal transition.
func IncBoundaryTransition(channel, from, to string) {
	BoundaryTransitionTotal.WithLabelValues(channel, from, to).Inc()
}

// ObserveEngineRPC records one engine RPC outcome.
func ObserveEngineRPC(rpc string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EngineRPCDuration.WithLabelValues(rpc, result).Observe(d.Seconds())
}
