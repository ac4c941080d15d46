package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess        = "success"
	OutcomeInvalid        = "invalid"
	OutcomeRenderFailed   = "render_failed"
	OutcomeDeliveryFailed = "delivery_failed"
)

var (
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidrender_renders_total",
			Help: "Render requests by final outcome",
		},
		[]string{"outcome"},
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidrender_render_duration_seconds",
			Help:    "Wall time of the external renderer process",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	RendersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidrender_renders_in_flight",
			Help: "Renderer processes currently running",
		},
	)

	SlotWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidrender_slot_wait_seconds",
			Help:    "Time spent waiting for a render slot when concurrency is capped",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidrender_delivery_failures_total",
			Help: "Artifacts that could not be streamed to the caller",
		},
		[]string{"committed"},
	)

	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidrender_cleanup_failures_total",
			Help: "Temporary artifacts that could not be removed",
		},
	)

	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidrender_archive_failures_total",
			Help: "Artifacts that could not be copied to the archive provider",
		},
	)
)

func ObserveDeliveryFailure(committed bool) {
	DeliveryFailures.WithLabelValues(strconv.FormatBool(committed)).Inc()
}
