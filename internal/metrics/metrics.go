// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

// Metrics groups the collectors updated by the pipeline.
type Metrics struct {
	FetchOutcomes    *prometheus.CounterVec
	PostsIngested    prometheus.Counter
	DeliveryAttempts *prometheus.CounterVec
	PostTransitions  *prometheus.CounterVec
	RunsDropped      prometheus.Counter
	RunDuration      prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Source runs by outcome (success or error)",
		}, []string{"outcome"}),
		PostsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_ingested_total",
			Help:      "Draft posts created from feed items",
		}),
		DeliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Per-recipient delivery attempts by outcome",
		}, []string{"outcome"}),
		PostTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_transitions_total",
			Help:      "Post status transitions by target status",
		}, []string{"status"}),
		RunsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_dropped_total",
			Help:      "Triggers dropped because the source was still running",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete source run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// NewUnregistered returns collectors attached to a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
