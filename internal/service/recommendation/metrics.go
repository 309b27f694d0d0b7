package recommendation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bidguard_recommendation_transitions_total",
	Help: "Recommendation lifecycle transitions, by target status and actor kind.",
}, []string{"status", "actor"})

func countTransition(status, actor string) {
	if actor != "autopilot" && actor != "system" {
		actor = "operator"
	}
	transitions.WithLabelValues(status, actor).Inc()
}
