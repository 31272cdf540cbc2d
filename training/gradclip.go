package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cascademl/cascade/tensor"
)

// ClipGradNorm rescales all gradients in place so their global L2 norm does
// not exceed maxNorm, and returns the pre-clip norm. Parameters without
// gradients are skipped.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("max norm must be positive, got %f", maxNorm)
	}

	grads := make([][]float32, 0, len(params))
	sumSquares := 0.0
	scratch := []float64(nil)
	for _, p := range params {
		if !p.RequiresGrad() || p.Grad() == nil {
			continue
		}
		g, err := p.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("failed to access gradient: %v", err)
		}
		if cap(scratch) < len(g) {
			scratch = make([]float64, len(g))
		}
		scratch = scratch[:len(g)]
		for i, v := range g {
			scratch[i] = float64(v)
		}
		sumSquares += floats.Dot(scratch, scratch)
		grads = append(grads, g)
	}

	norm := math.Sqrt(sumSquares)
	if norm <= maxNorm || norm == 0 {
		return norm, nil
	}

	scale := float32(maxNorm / norm)
	for _, g := range grads {
		for i := range g {
			g[i] *= scale
		}
	}
	return norm, nil
}
