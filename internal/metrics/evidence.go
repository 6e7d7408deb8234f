package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpoolPendingBytes tracks appended-minus-acked bytes per session.
	SpoolPendingBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_evidence_spool_pending_bytes",
		Help: "Evidence spool bytes appended but not yet acknowledged",
	}, []string{"channel"})

	// SpoolAppendTotal counts spool appends by result.
	SpoolAppendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_evidence_spool_append_total",
		Help: "Evidence spool append attempts by result",
	}, []string{"channel", "result"})

	// SpoolFlushTotal counts writer-thread flushes by trigger.
	SpoolFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_evidence_spool_flush_total",
		Help: "Evidence spool flushes by trigger (batch, interval, shutdown)",
	}, []string{"trigger"})

	// AckedSequence tracks the last acknowledged evidence sequence.
	AckedSequence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_evidence_acked_sequence",
		Help: "Last acknowledged evidence sequence per session",
	}, []string{"channel"})

	// TransportReconnectTotal counts reconnect attempts of the evidence stream.
	TransportReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_evidence_transport_reconnect_total",
		Help: "Evidence transport reconnect attempts",
	}, []string{"channel"})

	// DegradedMode reports whether the emitter is in spool-full degraded mode.
	DegradedMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_evidence_degraded",
		Help: "1 while the evidence emitter is degraded (spool full)",
	}, []string{"channel"})
)

// IncSpoolAppend records one append outcome.
func IncSpoolAppend(channel string, result string) {
	SpoolAppendTotal.WithLabelValues(channel, result).Inc()
}

// SetDegraded flips the degraded-mode gauge for a channel.
func SetDegraded(channel string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	DegradedMode.WithLabelValues(channel).Set(v)
}
