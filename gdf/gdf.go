// Package gdf implements the generalized diffusion framework: the noise
// schedule, input scaling, prediction target, noise conditioning, and loss
// weighting that together define the forward noising process and its reverse
// sampler. The GDF struct is the single integration point; the training loop
// never calls the individual pieces directly.
package gdf

import (
	"fmt"
	"math/rand"

	"github.com/cascademl/cascade/tensor"
)

// GDF composes the diffusion components into Diffuse and Sample operations.
type GDF struct {
	Schedule   Schedule
	Scaler     Scaler
	Target     Target
	NoiseCond  NoiseConditioner
	LossWeight LossWeighter
}

// DiffusionSample is the transient per-batch result of Diffuse, consumed
// immediately by the training step.
type DiffusionSample struct {
	Noised     *tensor.Tensor
	Noise      *tensor.Tensor
	Target     *tensor.Tensor
	LogSNR     []float64
	NoiseCond  []float64
	LossWeight []float64
}

// DiffuseOptions customizes a Diffuse call. Zero values select the defaults:
// freshly sampled uniform progress, i.i.d. noise, shift 1, loss shift 1.
type DiffuseOptions struct {
	// Epsilon supplies the noise tensor; nil draws i.i.d. normal noise.
	Epsilon *tensor.Tensor

	// T fixes per-sample progress values; nil samples uniformly.
	T []float64

	// Shift reparameterizes the schedule's timestep density; >1 biases
	// toward higher-noise regimes.
	Shift float64

	// LossShift applies the same reparameterization to the loss weight only.
	LossShift float64
}

// Diffuse applies forward noising to a clean batch and computes the target,
// conditioning, and per-sample loss weight.
func (g *GDF) Diffuse(x0 *tensor.Tensor, rng *rand.Rand, opts DiffuseOptions) (*DiffusionSample, error) {
	if len(x0.Shape) < 1 {
		return nil, fmt.Errorf("diffuse requires a batched tensor")
	}

	shift := opts.Shift
	if shift == 0 {
		shift = 1
	}
	lossShift := opts.LossShift
	if lossShift == 0 {
		lossShift = 1
	}

	batch := x0.Shape[0]
	t := opts.T
	if t == nil {
		t = make([]float64, batch)
		for i := range t {
			t[i] = rng.Float64()
		}
	}
	if len(t) != batch {
		return nil, fmt.Errorf("got %d progress values for batch size %d", len(t), batch)
	}

	epsilon := opts.Epsilon
	if epsilon == nil {
		var err error
		epsilon, err = tensor.RandnLike(x0, rng)
		if err != nil {
			return nil, fmt.Errorf("noise sampling failed: %v", err)
		}
	}

	logSNR := make([]float64, batch)
	a := make([]float64, batch)
	b := make([]float64, batch)
	noiseCond := make([]float64, batch)
	lossWeight := make([]float64, batch)
	for i := range t {
		logSNR[i] = shiftLogSNR(g.Schedule.LogSNR(t[i]), shift)
		a[i], b[i] = g.Scaler.Scaling(logSNR[i])
		noiseCond[i] = g.NoiseCond.Cond(logSNR[i])
		lossWeight[i] = g.LossWeight.Weight(shiftLogSNR(logSNR[i], 1/lossShift))
	}

	aT, err := sampleCoeff(a, len(x0.Shape))
	if err != nil {
		return nil, err
	}
	bT, err := sampleCoeff(b, len(x0.Shape))
	if err != nil {
		return nil, err
	}

	signal, err := tensor.Mul(x0, aT)
	if err != nil {
		return nil, fmt.Errorf("signal scaling failed: %v", err)
	}
	noise, err := tensor.Mul(epsilon, bT)
	if err != nil {
		return nil, fmt.Errorf("noise scaling failed: %v", err)
	}
	noised, err := tensor.Add(signal, noise)
	if err != nil {
		return nil, fmt.Errorf("noising failed: %v", err)
	}

	target, err := g.Target.Target(x0, epsilon, a, b)
	if err != nil {
		return nil, fmt.Errorf("target computation failed: %v", err)
	}

	return &DiffusionSample{
		Noised:     noised,
		Noise:      epsilon,
		Target:     target,
		LogSNR:     logSNR,
		NoiseCond:  noiseCond,
		LossWeight: lossWeight,
	}, nil
}

// Sample runs the given sampler over this framework's components.
func (g *GDF) Sample(sampler Sampler, model Denoiser, x *tensor.Tensor, conds map[string]*tensor.Tensor, rng *rand.Rand, opts SampleOptions) (*tensor.Tensor, error) {
	return sampler.Sample(model, x, conds, rng, opts)
}
