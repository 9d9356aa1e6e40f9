package notifications

import (
	"time"

	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crewdesk"

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_depth",
			Help:      "Number of queue entries by state",
		},
		[]string{"state"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in transport send calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	claims = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "claims_total",
			Help:      "Total queue entries claimed by workers",
		},
	)
)

// recordDelivery records a per-channel delivery outcome.
func recordDelivery(channel, status string) {
	deliveries.WithLabelValues(channel, status).Inc()
}

// recordDeliveryDuration records transport send duration.
func recordDeliveryDuration(channel string, duration time.Duration) {
	deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// recordClaim counts one claimed queue entry.
func recordClaim() {
	claims.Inc()
}

// RecordQueueStats updates queue depth gauges from a stats snapshot.
func RecordQueueStats(stats *queue.Stats) {
	queueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
	queueDepth.WithLabelValues("active").Set(float64(stats.Active))
	queueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
	queueDepth.WithLabelValues("completed").Set(float64(stats.Completed))
	queueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
}
