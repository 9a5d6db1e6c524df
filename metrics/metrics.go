package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "admission"

// Metrics groups the collectors of the admission layer. Collectors are
// registered on the registerer given to New so tests can use a private
// registry.
type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  *prometheus.CounterVec
	TokenOps     *prometheus.CounterVec
	CheckLatency prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"identity_class", "outcome"},
		),
		StoreErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed credential store operations",
			},
			[]string{"operation"},
		),
		TokenOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_operations_total",
				Help:      "Total number of token operations",
			},
			[]string{"operation", "status"},
		),
		CheckLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of check-and-record calls in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
	}
}

// Nop returns collectors that are not registered anywhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
