package training

import (
	"fmt"

	"github.com/cascademl/cascade/tensor"
)

// PerSampleMSE computes the mean squared error per sample: L_i = mean over
// the sample's elements of (pred - target)^2. The batch dimension is kept so
// per-sample loss weights can be applied before the final reduction.
func PerSampleMSE(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if len(predicted.Shape) != len(target.Shape) {
		return nil, fmt.Errorf("predicted and target tensors must have the same shape")
	}
	for i, dim := range predicted.Shape {
		if dim != target.Shape[i] {
			return nil, fmt.Errorf("shape mismatch at dimension %d: %d vs %d", i, dim, target.Shape[i])
		}
	}

	diff, err := tensor.SubAutograd(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("difference failed: %v", err)
	}
	squared, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("squaring failed: %v", err)
	}
	return tensor.SampleMeanAutograd(squared)
}

// WeightedMean reduces a per-sample loss vector to a scalar under per-sample
// weights. The weights never carry gradients.
func WeightedMean(perSample *tensor.Tensor, weights []float64) (*tensor.Tensor, error) {
	if len(perSample.Shape) != 1 {
		return nil, fmt.Errorf("expected a per-sample loss vector, got shape %v", perSample.Shape)
	}
	if len(weights) != perSample.Shape[0] {
		return nil, fmt.Errorf("got %d weights for %d samples", len(weights), perSample.Shape[0])
	}

	data := make([]float32, len(weights))
	for i, w := range weights {
		data[i] = float32(w)
	}
	weightTensor, err := tensor.NewTensor([]int{len(weights)}, tensor.Float32, data)
	if err != nil {
		return nil, err
	}

	weighted, err := tensor.MulAutograd(perSample, weightTensor)
	if err != nil {
		return nil, fmt.Errorf("weighting failed: %v", err)
	}
	return tensor.MeanAutograd(weighted)
}

// SampleLosses extracts the detached per-sample values for bucket updates and
// progress reporting.
func SampleLosses(perSample *tensor.Tensor) ([]float64, error) {
	data, err := perSample.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}
