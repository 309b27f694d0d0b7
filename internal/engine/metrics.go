package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidguard_cycles_total",
		Help: "Evaluation cycles run, by result.",
	}, []string{"result"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidguard_cycle_duration_seconds",
		Help:    "Wall time of completed evaluation cycles.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	recommendationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidguard_recommendations_created_total",
		Help: "Recommendations created, by adjustment type and priority.",
	}, []string{"adjustment_type", "priority"})
)
