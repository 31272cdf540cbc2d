package gdf

import (
	"math"
	"testing"
)

func TestCosineScheduleMonotonic(t *testing.T) {
	schedule := NewCosineSchedule(0.0001, 0.9999)

	prev := math.Inf(1)
	for i := 0; i <= 100; i++ {
		tt := float64(i) / 100
		logSNR := schedule.LogSNR(tt)
		if logSNR > prev {
			t.Fatalf("logSNR not decreasing at t=%.2f: %f > %f", tt, logSNR, prev)
		}
		if math.IsNaN(logSNR) || math.IsInf(logSNR, 0) {
			t.Fatalf("logSNR not finite at t=%.2f: %f", tt, logSNR)
		}
		prev = logSNR
	}
}

func TestCosineScheduleRoundTrip(t *testing.T) {
	schedule := NewCosineSchedule(0.0001, 0.9999)

	// Interior logSNR values survive the t -> logSNR -> t round trip.
	for _, logSNR := range []float64{-8, -4, -1, 0, 1, 4, 8} {
		tt := schedule.T(logSNR)
		back := schedule.LogSNR(tt)
		if math.Abs(back-logSNR) > 1e-6 {
			t.Errorf("round trip for logSNR=%g: got %g", logSNR, back)
		}
	}
}

func TestCosineScheduleClamp(t *testing.T) {
	schedule := NewCosineSchedule(0.0001, 0.9999)

	// Endpoints must stay finite despite cos hitting 0 and 1.
	for _, tt := range []float64{0, 1} {
		logSNR := schedule.LogSNR(tt)
		if math.IsInf(logSNR, 0) || math.IsNaN(logSNR) {
			t.Errorf("logSNR at t=%g should be clamped finite, got %f", tt, logSNR)
		}
	}

	maxLogSNR := math.Log(0.9999 / (1 - 0.9999))
	if got := schedule.LogSNR(0); math.Abs(got-maxLogSNR) > 1e-9 {
		t.Errorf("expected clamped max logSNR %f, got %f", maxLogSNR, got)
	}
}

func TestVPScalerInvariant(t *testing.T) {
	scaler := VPScaler{}

	for logSNR := -20.0; logSNR <= 20.0; logSNR += 0.5 {
		a, b := scaler.Scaling(logSNR)
		if sum := a*a + b*b; math.Abs(sum-1) > 1e-9 {
			t.Errorf("a²+b² at logSNR=%g: expected 1, got %f", logSNR, sum)
		}
		if a < 0 || a > 1 || b < 0 || b > 1 {
			t.Errorf("coefficients out of [0,1] at logSNR=%g: a=%f b=%f", logSNR, a, b)
		}
	}
}

func TestShiftLowersLogSNR(t *testing.T) {
	if shiftLogSNR(0, 2) >= 0 {
		t.Error("shift > 1 should lower logSNR")
	}
	if shiftLogSNR(1.5, 1) != 1.5 {
		t.Error("shift = 1 should be the identity")
	}
}

func TestNoiseCondInverts(t *testing.T) {
	schedule := NewCosineSchedule(0.0001, 0.9999)
	cond := NewCosineTNoiseCond()

	// The conditioner recovers the progress value that produced the logSNR.
	// It omits the schedule's endpoint normalization, so the inverse is
	// exact only up to that factor.
	for _, tt := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		got := cond.Cond(schedule.LogSNR(tt))
		if math.Abs(got-tt) > 1e-3 {
			t.Errorf("t=%g: conditioner returned %g", tt, got)
		}
	}
}
