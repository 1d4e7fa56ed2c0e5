package longrange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "longwalk",
			Subsystem: "longrange",
			Name:      "search_duration_seconds",
			Help:      "Wall-clock duration of long-range searches by outcome.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"outcome"},
	)

	searchExpansions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "longwalk",
			Subsystem: "longrange",
			Name:      "expanded_nodes_total",
			Help:      "Nodes expanded across all long-range searches.",
		},
	)
)

func observe(res Result, err error) {
	outcome := res.Kind.String()
	if err != nil {
		outcome = "cancelled"
	}
	searchDuration.WithLabelValues(outcome).Observe(res.Duration.Seconds())
	searchExpansions.Add(float64(res.Expanded))
}
