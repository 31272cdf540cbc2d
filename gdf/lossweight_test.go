package gdf

import (
	"math"
	"testing"
)

func TestP2LossWeight(t *testing.T) {
	w := NewP2LossWeight()

	// (1 + e^logSNR)^-1: monotonically decreasing, down-weighting low noise.
	prev := math.Inf(1)
	for logSNR := -10.0; logSNR <= 10.0; logSNR += 1 {
		weight := w.Weight(logSNR)
		if weight >= prev {
			t.Fatalf("P2 weight not decreasing at logSNR=%g", logSNR)
		}
		prev = weight
	}

	if got := w.Weight(0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("weight at logSNR=0: expected 0.5, got %f", got)
	}
}

func TestAdaptiveBucketUpdate(t *testing.T) {
	w := &AdaptiveLossWeight{
		BucketRanges: []float64{-10, -5, 0, 5, 10},
		BucketLosses: []float64{1, 1, 1, 1},
		Alpha:        0.99,
		WeightMin:    1e-7,
		WeightMax:    1e7,
	}

	if err := w.UpdateBuckets([]float64{2}, []float64{0.5}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Only the bucket covering [0, 5) changes, per the smoothing formula.
	want := 1*0.99 + 0.5*0.01
	for i, loss := range w.BucketLosses {
		if i == 2 {
			if math.Abs(loss-want) > 1e-12 {
				t.Errorf("bucket 2: expected %f, got %f", want, loss)
			}
		} else if loss != 1 {
			t.Errorf("bucket %d should be untouched, got %f", i, loss)
		}
	}
}

func TestAdaptiveNeutralDefault(t *testing.T) {
	w := NewAdaptiveLossWeight(300)

	for _, logSNR := range []float64{-9, 0, 9} {
		if got := w.Weight(logSNR); got != 1 {
			t.Errorf("untouched bucket at logSNR=%g should weight 1.0, got %f", logSNR, got)
		}
	}
}

func TestAdaptiveInverseRelation(t *testing.T) {
	w := NewAdaptiveLossWeight(4)

	// Weight is inverse to smoothed loss, equalizing the effective
	// contribution of each noise level.
	for i := 0; i < 500; i++ {
		if err := w.UpdateBuckets([]float64{-7, 7}, []float64{4.0, 0.25}); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	weightLowLoss := w.Weight(7)
	weightHighLoss := w.Weight(-7)
	if weightLowLoss <= weightHighLoss {
		t.Errorf("weights should invert bucket losses: weight(7)=%f weight(-7)=%f",
			weightLowLoss, weightHighLoss)
	}

	// The weighted loss is roughly equal across the two buckets.
	if r := (weightHighLoss * 4.0) / (weightLowLoss * 0.25); math.Abs(r-1) > 0.1 {
		t.Errorf("effective contributions should equalize, ratio=%f", r)
	}
}

func TestAdaptiveBoundarySampleOpensBucket(t *testing.T) {
	w := &AdaptiveLossWeight{
		BucketRanges: []float64{-10, -5, 0, 5, 10},
		BucketLosses: []float64{1, 1, 1, 1},
		Alpha:        0.5,
		WeightMin:    1e-7,
		WeightMax:    1e7,
	}

	// Intervals are [lo, hi): logSNR exactly 0 belongs to [0, 5), not
	// [-5, 0).
	if err := w.UpdateBuckets([]float64{0}, []float64{3}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if w.BucketLosses[2] != 2 {
		t.Errorf("boundary sample should land in bucket 2, got %v", w.BucketLosses)
	}
	if w.BucketLosses[1] != 1 {
		t.Errorf("bucket below the boundary should be untouched, got %v", w.BucketLosses)
	}
}

func TestAdaptiveOutOfRangeClamps(t *testing.T) {
	w := &AdaptiveLossWeight{
		BucketRanges: []float64{-10, 0, 10},
		BucketLosses: []float64{1, 1},
		Alpha:        0.5,
		WeightMin:    1e-7,
		WeightMax:    1e7,
	}

	if err := w.UpdateBuckets([]float64{-100, 100}, []float64{2, 2}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if w.BucketLosses[0] != 1.5 || w.BucketLosses[1] != 1.5 {
		t.Errorf("out-of-range samples should clamp to edge buckets, got %v", w.BucketLosses)
	}
}

func TestAdaptiveEmptyBatch(t *testing.T) {
	w := NewAdaptiveLossWeight(8)
	if err := w.UpdateBuckets(nil, nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}

	if err := w.UpdateBuckets([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected error for mismatched batch lengths")
	}
}

func TestAdaptiveStateRoundTrip(t *testing.T) {
	w := NewAdaptiveLossWeight(16)
	if err := w.UpdateBuckets([]float64{-3, 3}, []float64{0.7, 1.3}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	state := w.State()

	restored := NewAdaptiveLossWeight(16)
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for i := range w.BucketLosses {
		if restored.BucketLosses[i] != w.BucketLosses[i] {
			t.Fatalf("accumulator %d not restored bit-for-bit", i)
		}
	}
	for i := range w.BucketRanges {
		if restored.BucketRanges[i] != w.BucketRanges[i] {
			t.Fatalf("boundary %d not restored bit-for-bit", i)
		}
	}
}

func TestAdaptiveStateValidation(t *testing.T) {
	tests := []struct {
		name  string
		state AdaptiveLossState
	}{
		{"non-increasing boundaries", AdaptiveLossState{
			BucketRanges: []float64{0, 0, 1},
			BucketLosses: []float64{1, 1},
		}},
		{"accumulator length mismatch", AdaptiveLossState{
			BucketRanges: []float64{0, 1, 2},
			BucketLosses: []float64{1},
		}},
		{"too few boundaries", AdaptiveLossState{
			BucketRanges: []float64{0},
			BucketLosses: []float64{},
		}},
	}

	for _, tt := range tests {
		if err := tt.state.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
