// Package stageb is the concrete Stage-B training run: it fulfills the
// lifecycle core's hook contract by wiring the diffusion framework, pyramid
// noise, conditioning, the AdamW optimizer, and warmup scheduling around the
// generator backbone selected by the config.
package stageb

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/cascademl/cascade/dist"
	"github.com/cascademl/cascade/gdf"
	"github.com/cascademl/cascade/models"
	"github.com/cascademl/cascade/tensor"
	"github.com/cascademl/cascade/training"
	"github.com/cascademl/cascade/vision"
)

const (
	adaptiveBuckets = 300
	pyramidLevels   = 10

	schedClampMin = 0.0001
	schedClampMax = 0.9999
)

func init() {
	// Both backbone sizes resolve to the reference model until a real
	// network implementation is dropped in behind the Generator interface.
	models.Register("3B", func(ctx dist.Context) (models.Generator, error) {
		return models.NewAffineDenoiser(rand.New(rand.NewSource(int64(ctx.Rank))))
	})
	models.Register("700M", func(ctx dist.Context) (models.Generator, error) {
		return models.NewAffineDenoiser(rand.New(rand.NewSource(int64(ctx.Rank))))
	})
}

// Run implements training.Run for Stage B.
type Run struct {
	dataset    training.Dataset
	previewDir string

	gdf       *gdf.GDF
	sampler   gdf.Sampler
	sizeRange *gdf.SizeRange

	generator models.Generator
	ema       models.Generator

	// lastLatents remembers the most recent latent shape so periodic
	// sampling can draw matching noise.
	lastLatents []int
	lastConds   map[string]*tensor.Tensor
}

// NewRun creates a Stage-B run over the given dataset. Preview grids are
// written into previewDir on sampling steps.
func NewRun(dataset training.Dataset, previewDir string) *Run {
	return &Run{dataset: dataset, previewDir: previewDir}
}

// SetupExtrasPre assembles the diffusion framework from the config, restoring
// adaptive loss-weight buckets from the checkpointed RunInfo.
func (r *Run) SetupExtrasPre(c *training.Core) error {
	var weighter gdf.LossWeighter
	if c.Config.AdaptiveWeight {
		adaptive := gdf.NewAdaptiveLossWeight(adaptiveBuckets)
		if c.Info.AdaptiveLoss != nil {
			if err := adaptive.LoadState(c.Info.AdaptiveLoss); err != nil {
				return fmt.Errorf("failed to restore adaptive loss state: %v", err)
			}
		}
		weighter = adaptive
	} else {
		weighter = gdf.NewP2LossWeight()
	}

	r.gdf = &gdf.GDF{
		Schedule:   gdf.NewCosineSchedule(schedClampMin, schedClampMax),
		Scaler:     gdf.VPScaler{},
		Target:     gdf.EpsilonTarget{},
		NoiseCond:  gdf.NewCosineTNoiseCond(),
		LossWeight: weighter,
	}
	r.sampler = gdf.NewDDPMSampler(r.gdf)
	if c.Config.PyramidNoise {
		r.sizeRange = &gdf.SizeRange{Min: 1, Max: 16}
	}
	return nil
}

func (r *Run) SetupModels(c *training.Core) (*models.ModelSet, error) {
	generator, err := models.Build(c.Config.ModelVariant, c.Dist)
	if err != nil {
		return nil, err
	}
	shadow, err := models.Build(c.Config.ModelVariant, c.Dist)
	if err != nil {
		return nil, err
	}
	if err := training.InitEMA(shadow, generator); err != nil {
		return nil, err
	}

	r.generator = generator
	r.ema = shadow
	return &models.ModelSet{
		Generator:        generator,
		EMA:              shadow,
		Autoencoder:      models.IdentityAutoencoder{},
		FeatureExtractor: models.MeanPoolExtractor{},
		TextEncoder:      models.ZeroTextEncoder{Dim: 1},
	}, nil
}

func (r *Run) SetupOptimizers(c *training.Core) (map[string]training.Optimizer, error) {
	return map[string]training.Optimizer{
		"generator": training.NewAdamW(r.generator.Parameters(), c.Config.LR, 0.9, 0.999, 1e-8, 0.01),
	}, nil
}

func (r *Run) SetupSchedulers(c *training.Core) (map[string]training.LRScheduler, error) {
	return map[string]training.LRScheduler{
		"generator": training.NewGradualWarmupScheduler(c.Config.WarmupUpdates),
	}, nil
}

func (r *Run) SetupData(c *training.Core) (*training.DataLoader, error) {
	return training.NewDataLoader(r.dataset, c.Config.BatchSize, true, true, 2, c.RNG), nil
}

// ForwardPass runs one micro-step: encode latents and conditioning without
// gradients, noise the latents through the diffusion framework, then the
// gradient-tracked backbone call and the weighted loss.
func (r *Run) ForwardPass(c *training.Core, batch *training.Batch) (*training.ForwardResult, error) {
	latents, err := c.Models.Autoencoder.Encode(batch.Images)
	if err != nil {
		return nil, fmt.Errorf("latent encoding failed: %v", err)
	}

	embedding, err := conditionEmbedding(c.Models.FeatureExtractor, batch.Images, c.RNG)
	if err != nil {
		return nil, err
	}
	clip, err := c.Models.TextEncoder.Encode(batch.Tokens)
	if err != nil {
		return nil, fmt.Errorf("text encoding failed: %v", err)
	}
	if err := dropoutRows(clip, c.RNG); err != nil {
		return nil, err
	}
	conds := map[string]*tensor.Tensor{"effnet": embedding, "clip": clip}

	var epsilon *tensor.Tensor
	if r.sizeRange != nil {
		base, err := tensor.RandnLike(latents, c.RNG)
		if err != nil {
			return nil, err
		}
		epsilon, err = gdf.PyramidNoise(base, r.sizeRange, pyramidLevels, c.RNG)
		if err != nil {
			return nil, fmt.Errorf("pyramid noise failed: %v", err)
		}
	}

	sample, err := r.gdf.Diffuse(latents, c.RNG, gdf.DiffuseOptions{
		Epsilon: epsilon,
		Shift:   c.Config.Shift,
	})
	if err != nil {
		return nil, fmt.Errorf("diffusion failed: %v", err)
	}

	noiseCond, err := tensor.NewTensor([]int{len(sample.NoiseCond)}, tensor.Float32, floats32(sample.NoiseCond))
	if err != nil {
		return nil, err
	}

	pred, err := r.generator.Forward(sample.Noised, noiseCond, conds)
	if err != nil {
		return nil, fmt.Errorf("backbone forward failed: %v", err)
	}

	perSample, err := training.PerSampleMSE(pred, sample.Target)
	if err != nil {
		return nil, err
	}
	loss, err := training.WeightedMean(perSample, sample.LossWeight)
	if err != nil {
		return nil, err
	}
	rawLosses, err := training.SampleLosses(perSample)
	if err != nil {
		return nil, err
	}

	// The adaptive policy learns from the unweighted losses; the snapshot
	// keeps RunInfo current for the next checkpoint.
	if adaptive, ok := r.gdf.LossWeight.(*gdf.AdaptiveLossWeight); ok {
		if err := adaptive.UpdateBuckets(sample.LogSNR, rawLosses); err != nil {
			return nil, fmt.Errorf("bucket update failed: %v", err)
		}
		c.Info.AdaptiveLoss = adaptive.State()
	}

	r.lastLatents = append([]int(nil), latents.Shape...)
	r.lastConds = conds

	return &training.ForwardResult{
		Loss:         loss,
		SampleLosses: rawLosses,
		LogSNR:       sample.LogSNR,
	}, nil
}

// BackwardPass propagates gradients, scaling the loss so a full accumulation
// window sums to one batch-sized gradient. Optimizer mutation is the core's
// job and happens only on update steps.
func (r *Run) BackwardPass(c *training.Core, result *training.ForwardResult, update bool) error {
	scaled, err := tensor.MulAutograd(result.Loss, tensor.FromScalar(1/float64(c.Config.GradAccumSteps)))
	if err != nil {
		return err
	}
	return scaled.Backward()
}

func (r *Run) ModelsToSave(c *training.Core) map[string]models.Module {
	return map[string]models.Module{
		"generator":     r.generator,
		"generator_ema": r.ema,
	}
}

// Sample draws a small preview batch through the reverse process with
// classifier-free guidance and writes it as a PNG grid.
func (r *Run) Sample(c *training.Core) error {
	if r.lastLatents == nil {
		return nil
	}

	start, err := tensor.Randn(r.lastLatents, c.RNG)
	if err != nil {
		return err
	}

	uncond := make(map[string]*tensor.Tensor, len(r.lastConds))
	for name, t := range r.lastConds {
		zero, err := tensor.Zeros(t.Shape, tensor.Float32)
		if err != nil {
			return err
		}
		uncond[name] = zero
	}

	denoiser := r.generator
	if r.ema != nil && c.Info.TotalSteps >= c.Config.EMAStartStep {
		denoiser = r.ema
	}

	out, err := r.gdf.Sample(r.sampler, denoiser, start, r.lastConds, c.RNG, gdf.SampleOptions{
		Timesteps:     c.Config.SampleSteps,
		Shift:         c.Config.Shift,
		CFG:           c.Config.GuidanceScale,
		Unconditional: uncond,
	})
	if err != nil {
		return fmt.Errorf("sampling failed: %v", err)
	}

	decoded, err := c.Models.Autoencoder.Decode(out)
	if err != nil {
		return fmt.Errorf("latent decoding failed: %v", err)
	}

	if err := os.MkdirAll(r.previewDir, 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %v", err)
	}
	path := filepath.Join(r.previewDir, fmt.Sprintf("step_%08d.png", c.Info.TotalSteps))
	return vision.SaveGrid(path, decoded, 4, 0)
}

func floats32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
