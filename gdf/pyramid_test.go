package gdf

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/cascademl/cascade/tensor"
)

func TestPyramidNoiseVariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Pool elements across a few draws; the renormalization must keep the
	// empirical per-element variance near 1.
	var samples []float64
	for i := 0; i < 4; i++ {
		eps, err := tensor.Randn([]int{1, 1, 256, 256}, rng)
		if err != nil {
			t.Fatalf("randn failed: %v", err)
		}

		noise, err := PyramidNoise(eps, &SizeRange{Min: 1, Max: 16}, 10, rng)
		if err != nil {
			t.Fatalf("pyramid noise failed: %v", err)
		}

		for _, v := range noise.Data.([]float32) {
			samples = append(samples, float64(v))
		}
	}

	variance := stat.Variance(samples, nil)
	if math.Abs(variance-1) > 0.05 {
		t.Errorf("expected unit variance, got %f", variance)
	}

	// The coarse levels leave few independent draws, so the mean estimate
	// is loose.
	mean := stat.Mean(samples, nil)
	if math.Abs(mean) > 0.2 {
		t.Errorf("expected zero mean, got %f", mean)
	}
}

func TestPyramidNoiseSpatialCorrelation(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	eps, _ := tensor.Randn([]int{1, 1, 64, 64}, rng)
	noise, err := PyramidNoise(eps, nil, 6, rng)
	if err != nil {
		t.Fatalf("pyramid noise failed: %v", err)
	}

	// Neighbor correlation should exceed that of the i.i.d. input.
	corr := func(data []float32) float64 {
		var sum float64
		n := 0
		for y := 0; y < 64; y++ {
			for x := 0; x+1 < 64; x++ {
				sum += float64(data[y*64+x]) * float64(data[y*64+x+1])
				n++
			}
		}
		return sum / float64(n)
	}

	if corr(noise.Data.([]float32)) <= corr(eps.Data.([]float32)) {
		t.Error("pyramid noise should be spatially correlated beyond i.i.d. noise")
	}
}

func TestPyramidNoiseEarlyTermination(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	// 4x4 input: level 2 shrinks to 1x1 and the cascade must stop there
	// without error, even with an absurd level count.
	eps, _ := tensor.Randn([]int{2, 3, 4, 4}, rng)
	noise, err := PyramidNoise(eps, nil, 100, rng)
	if err != nil {
		t.Fatalf("pyramid noise failed: %v", err)
	}
	if !tensor.IsFinite(noise) {
		t.Error("pyramid noise produced non-finite values")
	}
}

func TestPyramidNoiseSizeRangeGating(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	eps, _ := tensor.Randn([]int{1, 1, 32, 32}, rng)

	// A range no shrunk level can satisfy leaves the input untouched apart
	// from the (no-op) renormalization by 1/√1.
	noise, err := PyramidNoise(eps, &SizeRange{Min: 64, Max: 128}, 5, rng)
	if err != nil {
		t.Fatalf("pyramid noise failed: %v", err)
	}

	in := eps.Data.([]float32)
	out := noise.Data.([]float32)
	for i := range in {
		if in[i] != out[i] {
			t.Fatal("gated-out levels must not modify the base noise")
		}
	}
}

func TestPyramidNoiseRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	eps, _ := tensor.Randn([]int{4, 4}, rng)
	if _, err := PyramidNoise(eps, nil, 3, rng); err == nil {
		t.Error("expected error for non-4D input")
	}
}
