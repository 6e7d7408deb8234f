package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HorizonDepth tracks the remaining committed execution depth per channel.
	HorizonDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_horizon_depth_seconds",
		Help: "Remaining committed execution window depth",
	}, []string{"channel"})

	// HorizonExtensionTotal counts extension attempts by result.
	HorizonExtensionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_horizon_extension_total",
		Help: "Execution window extension attempts by result and reason",
	}, []string{"channel", "result", "reason"})

	// HorizonCompliant reports whether the channel meets its execution SLA.
	HorizonCompliant = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_horizon_execution_compliant",
		Help: "1 if the execution horizon satisfies the configured minimum",
	}, []string{"channel"})

	// IneligibleAssetReplacedTotal counts filler substitutions at admission.
	IneligibleAssetReplacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_ineligible_asset_replaced_total",
		Help: "Entries replaced with declared filler due to asset ineligibility",
	}, []string{"channel", "reason"})
)

// ObserveHorizonDepth records the current depth for a channel.
func ObserveHorizonDepth(channel string, depthMS int64) {
	HorizonDepth.WithLabelValues(channel).Set(float64(depthMS) / 1000)
}

// IncHorizonExtension records one extension attempt outcome.
func IncHorizonExtension(channel string, success bool, reason string) {
	result := "success"
	if !success {
		result = "failure"
	}
	HorizonExtensionTotal.WithLabelValues(channel, result, reason).Inc()
}

// SetHorizonCompliant records SLA compliance for a channel.
func SetHorizonCompliant(channel string, compliant bool) {
	v := 0.0
	if compliant {
		v = 1.0
	}
	HorizonCompliant.WithLabelValues(channel).Set(v)
}
