package gdf

import (
	"fmt"
	"math"
	"sort"
)

// LossWeighter produces a per-sample loss weight from logSNR. Two variants
// exist: the fixed P2 curve and the adaptive bucketed tracker. Callers that
// need to feed observations back use a type switch on *AdaptiveLossWeight.
type LossWeighter interface {
	Weight(logSNR float64) float64
}

// P2LossWeight is the fixed analytic curve (k + SNR)^−γ, down-weighting
// near-trivial low-noise steps.
type P2LossWeight struct {
	K     float64
	Gamma float64
}

func NewP2LossWeight() *P2LossWeight {
	return &P2LossWeight{K: 1, Gamma: 1}
}

func (w *P2LossWeight) Weight(logSNR float64) float64 {
	return math.Pow(w.K+math.Exp(logSNR), -w.Gamma)
}

// AdaptiveLossState is the serializable snapshot of the adaptive tracker:
// strictly increasing bucket boundaries by logSNR and one smoothed loss
// accumulator per interval between adjacent boundaries.
type AdaptiveLossState struct {
	BucketRanges []float64 `json:"bucket_ranges"`
	BucketLosses []float64 `json:"bucket_losses"`
}

// Validate checks the structural invariants of the snapshot.
func (s *AdaptiveLossState) Validate() error {
	if len(s.BucketRanges) < 2 {
		return fmt.Errorf("adaptive loss state needs at least 2 bucket boundaries, got %d", len(s.BucketRanges))
	}
	for i := 1; i < len(s.BucketRanges); i++ {
		if s.BucketRanges[i] <= s.BucketRanges[i-1] {
			return fmt.Errorf("bucket boundaries must be strictly increasing, violated at index %d", i)
		}
	}
	if len(s.BucketLosses) != len(s.BucketRanges)-1 {
		return fmt.Errorf("expected %d bucket accumulators for %d boundaries, got %d",
			len(s.BucketRanges)-1, len(s.BucketRanges), len(s.BucketLosses))
	}
	return nil
}

// AdaptiveLossWeight tracks a running histogram of observed loss per logSNR
// bucket and weights each sample inversely to its bucket's smoothed average,
// equalizing effective gradient contribution across noise levels. Buckets
// start at the neutral accumulator 1.0 and therefore return weight 1.0 until
// first observation.
type AdaptiveLossWeight struct {
	BucketRanges []float64
	BucketLosses []float64
	Alpha        float64 // exponential smoothing factor
	WeightMin    float64
	WeightMax    float64
}

// NewAdaptiveLossWeight creates a tracker with buckets spanning logSNR
// [-10, 10] split into the given number of intervals.
func NewAdaptiveLossWeight(buckets int) *AdaptiveLossWeight {
	if buckets < 1 {
		buckets = 1
	}

	ranges := make([]float64, buckets+1)
	for i := range ranges {
		ranges[i] = -10 + 20*float64(i)/float64(buckets)
	}

	losses := make([]float64, buckets)
	for i := range losses {
		losses[i] = 1
	}

	return &AdaptiveLossWeight{
		BucketRanges: ranges,
		BucketLosses: losses,
		Alpha:        0.99,
		WeightMin:    1e-7,
		WeightMax:    1e7,
	}
}

// bucketIndex locates the accumulator covering logSNR. Intervals are
// half-open [lo, hi), so a value exactly on a boundary belongs to the bucket
// it opens; out-of-range values clamp to the edge buckets.
func (w *AdaptiveLossWeight) bucketIndex(logSNR float64) int {
	idx := sort.Search(len(w.BucketRanges), func(i int) bool {
		return w.BucketRanges[i] > logSNR
	}) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(w.BucketLosses)-1 {
		idx = len(w.BucketLosses) - 1
	}
	return idx
}

func (w *AdaptiveLossWeight) Weight(logSNR float64) float64 {
	weight := 1 / w.BucketLosses[w.bucketIndex(logSNR)]
	if weight < w.WeightMin {
		return w.WeightMin
	}
	if weight > w.WeightMax {
		return w.WeightMax
	}
	return weight
}

// UpdateBuckets folds observed per-sample losses into their buckets via
// exponential smoothing: new = α·old + (1−α)·observed. Slices must be
// parallel; an empty batch is a no-op.
func (w *AdaptiveLossWeight) UpdateBuckets(logSNR, loss []float64) error {
	if len(logSNR) != len(loss) {
		return fmt.Errorf("logSNR batch has %d samples, loss batch has %d", len(logSNR), len(loss))
	}

	for i, snr := range logSNR {
		idx := w.bucketIndex(snr)
		w.BucketLosses[idx] = w.BucketLosses[idx]*w.Alpha + loss[i]*(1-w.Alpha)
	}
	return nil
}

// State snapshots the tracker for checkpointing.
func (w *AdaptiveLossWeight) State() *AdaptiveLossState {
	return &AdaptiveLossState{
		BucketRanges: append([]float64{}, w.BucketRanges...),
		BucketLosses: append([]float64{}, w.BucketLosses...),
	}
}

// LoadState restores a snapshot, replacing boundaries and accumulators.
func (w *AdaptiveLossWeight) LoadState(state *AdaptiveLossState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	w.BucketRanges = append([]float64{}, state.BucketRanges...)
	w.BucketLosses = append([]float64{}, state.BucketLosses...)
	return nil
}
