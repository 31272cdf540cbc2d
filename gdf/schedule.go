package gdf

import (
	"math"
)

// Schedule maps diffusion progress t in [0,1] to a log signal-to-noise ratio
// and back. Implementations must be pure and monotonically decreasing in t.
type Schedule interface {
	// LogSNR returns the logSNR at progress t.
	LogSNR(t float64) float64

	// T inverts LogSNR within the schedule's clamp range.
	T(logSNR float64) float64
}

// CosineSchedule is the squared-cosine noise schedule. The signal variance
// cos((s+t)/(1+s)·π/2)² is normalized by its value at t=0 so var(0) = 1
// exactly, then clamped away from 0 and 1 before the log-odds transform so
// the endpoints stay finite.
type CosineSchedule struct {
	S        float64
	ClampMin float64
	ClampMax float64
}

// NewCosineSchedule creates a cosine schedule with the given variance clamp
// range, typically [1e-4, 0.9999].
func NewCosineSchedule(clampMin, clampMax float64) *CosineSchedule {
	return &CosineSchedule{
		S:        0.008,
		ClampMin: clampMin,
		ClampMax: clampMax,
	}
}

func (cs *CosineSchedule) clampVar(v float64) float64 {
	if v < cs.ClampMin {
		return cs.ClampMin
	}
	if v > cs.ClampMax {
		return cs.ClampMax
	}
	return v
}

// minVar is the unnormalized variance at t=0, the divisor that pins var(0)
// to 1 so the clamp to ClampMax engages at the clean-data endpoint.
func (cs *CosineSchedule) minVar() float64 {
	c := math.Cos(cs.S / (1 + cs.S) * math.Pi * 0.5)
	return c * c
}

func (cs *CosineSchedule) LogSNR(t float64) float64 {
	c := math.Cos((cs.S + t) / (1 + cs.S) * math.Pi * 0.5)
	if c < 0 {
		c = 0
	}
	v := cs.clampVar(c * c / cs.minVar())
	return math.Log(v / (1 - v))
}

func (cs *CosineSchedule) T(logSNR float64) float64 {
	v := cs.clampVar(sigmoid(logSNR))
	return math.Acos(math.Sqrt(v*cs.minVar()))*(1+cs.S)*2/math.Pi - cs.S
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// shiftLogSNR reparameterizes logSNR for a shifted timestep density. A shift
// greater than 1 lowers logSNR, biasing toward higher-noise regimes.
func shiftLogSNR(logSNR, shift float64) float64 {
	if shift == 1 {
		return logSNR
	}
	return logSNR + 2*math.Log(1/shift)
}
