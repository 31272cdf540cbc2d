// Package models defines the collaborator contracts the training core drives.
// The diffusion backbones, autoencoder, and encoders are external concerns;
// the core only needs their forward contracts and named parameters.
package models

import (
	"fmt"

	"github.com/cascademl/cascade/checkpoints"
	"github.com/cascademl/cascade/tensor"
)

// Parameter pairs a stable name with a trainable tensor. Names key the
// checkpoint state dict, so they must be unique within a module and stable
// across process restarts.
type Parameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Module is anything with named parameters.
type Module interface {
	Parameters() []Parameter
}

// Generator is a diffusion backbone. Forward matches the sampler's denoiser
// contract: predict the target from a noised input and its noise conditioning.
type Generator interface {
	Module
	Forward(noised, noiseCond *tensor.Tensor, conds map[string]*tensor.Tensor) (*tensor.Tensor, error)
}

// Autoencoder maps between image space and the latent space the generator
// trains in.
type Autoencoder interface {
	Encode(data *tensor.Tensor) (*tensor.Tensor, error)
	Decode(latent *tensor.Tensor) (*tensor.Tensor, error)
}

// FeatureExtractor produces the conditioning embedding from a preprocessed
// image. Frozen; its output never carries gradients.
type FeatureExtractor interface {
	Encode(image *tensor.Tensor) (*tensor.Tensor, error)
}

// TextEncoder produces text conditioning embeddings. Frozen.
type TextEncoder interface {
	Encode(tokens *tensor.Tensor) (*tensor.Tensor, error)
}

// ModelSet bundles every sub-model of one run. The orchestrator holds the set
// exclusively for the run's lifetime. EMA is a structurally identical shadow
// of Generator updated only by the moving-average step; it never receives
// gradients. EMA is nil until EMA tracking activates.
type ModelSet struct {
	Generator        Generator
	EMA              Generator
	Autoencoder      Autoencoder
	FeatureExtractor FeatureExtractor
	TextEncoder      TextEncoder
}

// StateOf snapshots a module's parameters into a serializable state dict.
func StateOf(name string, m Module) (checkpoints.ModelState, error) {
	params := m.Parameters()
	state := checkpoints.ModelState{
		Name:    name,
		Weights: make([]checkpoints.WeightTensor, 0, len(params)),
	}
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return checkpoints.ModelState{}, fmt.Errorf("failed to read parameter %s: %v", p.Name, err)
		}
		snapshot := make([]float32, len(data))
		copy(snapshot, data)
		state.Weights = append(state.Weights, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  snapshot,
		})
	}
	return state, nil
}

// LoadState copies a state dict back into a module's parameters. Every saved
// weight must match a live parameter by name and shape; anything else means
// the checkpoint belongs to a different architecture.
func LoadState(m Module, state checkpoints.ModelState) error {
	byName := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		byName[p.Name] = p.Tensor
	}

	for _, w := range state.Weights {
		target, ok := byName[w.Name]
		if !ok {
			return fmt.Errorf("checkpoint weight %s has no matching parameter", w.Name)
		}
		if !sameShape(target.Shape, w.Shape) {
			return fmt.Errorf("shape mismatch for %s: parameter %v vs checkpoint %v", w.Name, target.Shape, w.Shape)
		}
		data, err := target.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access parameter %s: %v", w.Name, err)
		}
		if len(data) != len(w.Data) {
			return fmt.Errorf("element count mismatch for %s: %d vs %d", w.Name, len(data), len(w.Data))
		}
		copy(data, w.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
