package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusPublishTotal counts published bus messages per topic.
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_bus_publish_total",
		Help: "Messages published to the in-process bus",
	}, []string{"topic"})

	// BusDroppedTotal counts messages dropped on publish by reason.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_bus_dropped_total",
		Help: "Messages dropped on publish by topic and reason",
	}, []string{"topic", "reason"})
)

// IncBusDropReason records a dropped publish.
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}
