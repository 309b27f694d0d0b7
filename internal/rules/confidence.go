package rules

import "github.com/ignite/bidguard/internal/config"

// Curve shapes how confidence grows with distance beyond a trigger threshold.
//
//	confidence = Base + (1-Base) * min(1, excess / (scale * Saturation))
//
// A metric just at its threshold gets Base; one Saturation scale-units past
// it gets 1.0. The curve is monotonic and deterministic.
type Curve struct {
	Base       float64
	Saturation float64
}

// CurveFrom builds a Curve from configuration.
func CurveFrom(c config.ConfidenceConfig) Curve {
	return Curve{Base: c.Base, Saturation: c.Saturation}
}

// Confidence maps an excess beyond a threshold to [0,1]. scale is the
// rule's natural unit (tolerance, minimum or watermark gap).
func Confidence(excess, scale float64, c Curve) float64 {
	base := clamp01(c.Base)
	if excess <= 0 || scale <= 0 || c.Saturation <= 0 {
		return base
	}
	r := excess / (scale * c.Saturation)
	if r > 1 {
		r = 1
	}
	return base + (1-base)*r
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
