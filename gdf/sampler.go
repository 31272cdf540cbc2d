package gdf

import (
	"fmt"
	"math/rand"

	"github.com/cascademl/cascade/tensor"
)

// Denoiser is the network contract the sampler drives. A failure from Forward
// aborts sampling; there are no retries at this layer.
type Denoiser interface {
	Forward(noised, noiseCond *tensor.Tensor, conds map[string]*tensor.Tensor) (*tensor.Tensor, error)
}

// SampleOptions configures a reverse-diffusion run.
type SampleOptions struct {
	// Timesteps is the number of denoising steps. Zero selects 10.
	Timesteps int

	// Shift reparameterizes the schedule, matching DiffuseOptions.Shift.
	Shift float64

	// CFG is the classifier-free guidance scale. Values other than 1 require
	// Unconditional to be set and blend the two predictions.
	CFG float64

	// Unconditional holds the condition set for the unconditional pass.
	Unconditional map[string]*tensor.Tensor
}

// Sampler steps a noise tensor back to a data estimate.
type Sampler interface {
	Sample(model Denoiser, x *tensor.Tensor, conds map[string]*tensor.Tensor, rng *rand.Rand, opts SampleOptions) (*tensor.Tensor, error)
}

// DDPMSampler performs ancestral sampling: each step reconstructs a clean
// estimate from the prediction, then re-noises it toward the next step's
// logSNR with fresh noise, except on the final step which returns the clean
// estimate directly.
type DDPMSampler struct {
	gdf *GDF
}

func NewDDPMSampler(g *GDF) *DDPMSampler {
	return &DDPMSampler{gdf: g}
}

func (s *DDPMSampler) Sample(model Denoiser, x *tensor.Tensor, conds map[string]*tensor.Tensor, rng *rand.Rand, opts SampleOptions) (*tensor.Tensor, error) {
	timesteps := opts.Timesteps
	if timesteps <= 0 {
		timesteps = 10
	}
	shift := opts.Shift
	if shift == 0 {
		shift = 1
	}
	cfg := opts.CFG
	if cfg == 0 {
		cfg = 1
	}
	if cfg != 1 && opts.Unconditional == nil {
		return nil, fmt.Errorf("guidance scale %g requires an unconditional condition set", cfg)
	}

	batch := x.Shape[0]
	ndim := len(x.Shape)

	for step := 0; step < timesteps; step++ {
		t := 1 - float64(step)/float64(timesteps)
		tNext := 1 - float64(step+1)/float64(timesteps)

		logSNR := shiftLogSNR(s.gdf.Schedule.LogSNR(t), shift)
		logSNRNext := shiftLogSNR(s.gdf.Schedule.LogSNR(tNext), shift)

		a, b := perSample(batch, s.gdf.Scaler, logSNR)
		aNext, bNext := perSample(batch, s.gdf.Scaler, logSNRNext)

		condVals := make([]float64, batch)
		for i := range condVals {
			condVals[i] = s.gdf.NoiseCond.Cond(logSNR)
		}
		noiseCond, err := sampleCoeff(condVals, 1)
		if err != nil {
			return nil, err
		}

		pred, err := model.Forward(x, noiseCond, conds)
		if err != nil {
			return nil, fmt.Errorf("denoiser failed at step %d: %v", step, err)
		}

		if cfg != 1 {
			uncond, err := model.Forward(x, noiseCond, opts.Unconditional)
			if err != nil {
				return nil, fmt.Errorf("unconditional denoiser failed at step %d: %v", step, err)
			}
			// pred = uncond + cfg·(pred − uncond)
			delta, err := tensor.Sub(pred, uncond)
			if err != nil {
				return nil, err
			}
			scaled, err := tensor.Scale(delta, cfg)
			if err != nil {
				return nil, err
			}
			pred, err = tensor.Add(uncond, scaled)
			if err != nil {
				return nil, err
			}
		}

		x0, err := s.gdf.Target.X0(x, pred, a, b)
		if err != nil {
			return nil, fmt.Errorf("reconstruction failed at step %d: %v", step, err)
		}

		if step == timesteps-1 {
			return x0, nil
		}

		// Ancestral step: re-noise the estimate toward the next logSNR.
		fresh, err := tensor.RandnLike(x, rng)
		if err != nil {
			return nil, err
		}
		aT, err := sampleCoeff(aNext, ndim)
		if err != nil {
			return nil, err
		}
		bT, err := sampleCoeff(bNext, ndim)
		if err != nil {
			return nil, err
		}
		signal, err := tensor.Mul(x0, aT)
		if err != nil {
			return nil, err
		}
		noise, err := tensor.Mul(fresh, bT)
		if err != nil {
			return nil, err
		}
		x, err = tensor.Add(signal, noise)
		if err != nil {
			return nil, err
		}
	}

	return x, nil
}

func perSample(batch int, scaler Scaler, logSNR float64) ([]float64, []float64) {
	a := make([]float64, batch)
	b := make([]float64, batch)
	av, bv := scaler.Scaling(logSNR)
	for i := 0; i < batch; i++ {
		a[i], b[i] = av, bv
	}
	return a, b
}
