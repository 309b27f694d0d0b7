package safety

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bidguard",
	Subsystem: "safety",
	Name:      "gate_rejections_total",
	Help:      "Recommendations vetoed by the safety gate, by reason.",
}, []string{"reason"})
