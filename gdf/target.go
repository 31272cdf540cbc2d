package gdf

import (
	"fmt"

	"github.com/cascademl/cascade/tensor"
)

// Target defines what the network must predict and how to invert a prediction
// back into data space. Coefficient slices hold one (a, b) pair per sample.
type Target interface {
	// Target forms the per-sample prediction target from clean data and noise.
	Target(x0, epsilon *tensor.Tensor, a, b []float64) (*tensor.Tensor, error)

	// X0 reconstructs a clean-data estimate from a noised sample and the
	// network's prediction.
	X0(noised, pred *tensor.Tensor, a, b []float64) (*tensor.Tensor, error)
}

// EpsilonTarget is the noise-prediction parameterization: the target is the
// injected noise itself, and x0 = (noised − b·pred) / a. The reconstruction
// divides by the signal coefficient, so a schedule clamp keeping a bounded
// away from zero is required for numerical stability in the near-pure-noise
// regime.
type EpsilonTarget struct{}

func (EpsilonTarget) Target(x0, epsilon *tensor.Tensor, a, b []float64) (*tensor.Tensor, error) {
	return epsilon, nil
}

func (EpsilonTarget) X0(noised, pred *tensor.Tensor, a, b []float64) (*tensor.Tensor, error) {
	bT, err := sampleCoeff(b, len(noised.Shape))
	if err != nil {
		return nil, err
	}
	aT, err := sampleCoeff(a, len(noised.Shape))
	if err != nil {
		return nil, err
	}

	scaled, err := tensor.Mul(pred, bT)
	if err != nil {
		return nil, fmt.Errorf("noise scaling failed: %v", err)
	}
	num, err := tensor.Sub(noised, scaled)
	if err != nil {
		return nil, fmt.Errorf("noise removal failed: %v", err)
	}
	return tensor.Div(num, aT)
}

// sampleCoeff lifts a per-sample coefficient slice into a [B,1,...,1] tensor
// with ndim dimensions so it broadcasts over each sample.
func sampleCoeff(vals []float64, ndim int) (*tensor.Tensor, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("coefficient tensor needs at least one dimension")
	}

	data := make([]float32, len(vals))
	for i, v := range vals {
		data[i] = float32(v)
	}

	shape := make([]int, ndim)
	shape[0] = len(vals)
	for i := 1; i < ndim; i++ {
		shape[i] = 1
	}

	return tensor.NewTensor(shape, tensor.Float32, data)
}
