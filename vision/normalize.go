// Package vision holds the image-side helpers of the training run: the
// normalization transform applied before the feature extractor and the PNG
// grid writer for sampling previews.
package vision

import (
	"fmt"

	"github.com/cascademl/cascade/tensor"
)

// Normalize applies the per-channel transform (x − mean) / std to a
// [B, C, H, W] tensor and returns a new tensor. The input stays untouched.
func Normalize(t *tensor.Tensor, mean, std []float64) (*tensor.Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("expected a [B,C,H,W] tensor, got shape %v", t.Shape)
	}
	channels := t.Shape[1]
	if len(mean) != channels || len(std) != channels {
		return nil, fmt.Errorf("got %d means and %d stds for %d channels", len(mean), len(std), channels)
	}
	for i, s := range std {
		if s == 0 {
			return nil, fmt.Errorf("std for channel %d is zero", i)
		}
	}

	out, err := t.Clone()
	if err != nil {
		return nil, err
	}
	data, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	plane := t.Shape[2] * t.Shape[3]
	for b := 0; b < t.Shape[0]; b++ {
		for c := 0; c < channels; c++ {
			offset := (b*channels + c) * plane
			m := float32(mean[c])
			inv := float32(1 / std[c])
			for i := offset; i < offset+plane; i++ {
				data[i] = (data[i] - m) * inv
			}
		}
	}
	return out, nil
}

// Denormalize inverts Normalize: x · std + mean.
func Denormalize(t *tensor.Tensor, mean, std []float64) (*tensor.Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("expected a [B,C,H,W] tensor, got shape %v", t.Shape)
	}
	channels := t.Shape[1]
	if len(mean) != channels || len(std) != channels {
		return nil, fmt.Errorf("got %d means and %d stds for %d channels", len(mean), len(std), channels)
	}

	out, err := t.Clone()
	if err != nil {
		return nil, err
	}
	data, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	plane := t.Shape[2] * t.Shape[3]
	for b := 0; b < t.Shape[0]; b++ {
		for c := 0; c < channels; c++ {
			offset := (b*channels + c) * plane
			m := float32(mean[c])
			s := float32(std[c])
			for i := offset; i < offset+plane; i++ {
				data[i] = data[i]*s + m
			}
		}
	}
	return out, nil
}
