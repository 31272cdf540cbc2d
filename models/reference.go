package models

import (
	"fmt"
	"math/rand"

	"github.com/cascademl/cascade/tensor"
)

// AffineDenoiser is a minimal trainable generator: an elementwise affine map
// of the noised input, blind to conditioning. It exists for dry runs and for
// exercising the optimizer, EMA, and checkpoint paths without a real backbone.
type AffineDenoiser struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewAffineDenoiser initializes the affine map near identity.
func NewAffineDenoiser(rng *rand.Rand) (*AffineDenoiser, error) {
	weight, err := tensor.Full([]int{1}, 1.0)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	// Break exact symmetry so two fresh instances do not share a trajectory.
	wData, _ := weight.GetFloat32Data()
	wData[0] += float32(rng.NormFloat64()) * 0.01
	return &AffineDenoiser{Weight: weight, Bias: bias}, nil
}

func (d *AffineDenoiser) Parameters() []Parameter {
	return []Parameter{
		{Name: "affine.weight", Tensor: d.Weight},
		{Name: "affine.bias", Tensor: d.Bias},
	}
}

func (d *AffineDenoiser) Forward(noised, noiseCond *tensor.Tensor, conds map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	scaled, err := tensor.MulAutograd(noised, d.Weight)
	if err != nil {
		return nil, fmt.Errorf("affine scale failed: %v", err)
	}
	out, err := tensor.AddAutograd(scaled, d.Bias)
	if err != nil {
		return nil, fmt.Errorf("affine shift failed: %v", err)
	}
	return out, nil
}

// IdentityAutoencoder passes data through unchanged; Decode clamps to [0,1]
// the way a real decoder's output range is clamped before preview writing.
type IdentityAutoencoder struct{}

func (IdentityAutoencoder) Encode(data *tensor.Tensor) (*tensor.Tensor, error) {
	return data.Clone()
}

func (IdentityAutoencoder) Decode(latent *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Clamp(latent, 0, 1)
}

// MeanPoolExtractor reduces each sample to its mean activation, standing in
// for a frozen feature backbone.
type MeanPoolExtractor struct{}

func (MeanPoolExtractor) Encode(image *tensor.Tensor) (*tensor.Tensor, error) {
	pooled, err := tensor.SampleMean(image)
	if err != nil {
		return nil, fmt.Errorf("pooling failed: %v", err)
	}
	return tensor.Reshape(pooled, []int{pooled.Shape[0], 1})
}

// ZeroTextEncoder returns an all-zero embedding per sample, the unconditional
// text embedding.
type ZeroTextEncoder struct {
	Dim int
}

func (z ZeroTextEncoder) Encode(tokens *tensor.Tensor) (*tensor.Tensor, error) {
	dim := z.Dim
	if dim <= 0 {
		dim = 1
	}
	return tensor.Zeros([]int{tokens.Shape[0], dim}, tensor.Float32)
}
