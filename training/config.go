package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// RawConfig is the decoded config file before validation. Pointer fields
// distinguish "absent" from zero values; Validate turns a RawConfig into the
// immutable RunConfig or reports every problem at once.
type RawConfig struct {
	ModelVariant  *string  `json:"model_variant"`
	LR            *float64 `json:"lr"`
	BatchSize     *int     `json:"batch_size"`
	TotalUpdates  *int     `json:"updates"`
	WarmupUpdates *int     `json:"warmup_updates"`

	GradAccumSteps  int     `json:"grad_accum_steps"`
	GradClipNorm    float64 `json:"grad_clip_norm"`
	EMADecay        float64 `json:"ema_decay"`
	EMAStartStep    int     `json:"ema_start_iters"`
	CheckpointEvery int     `json:"backup_every"`
	SampleEvery     int     `json:"sample_every"`
	CheckpointDir   string  `json:"checkpoint_dir"`
	AdaptiveWeight  bool    `json:"adaptive_loss_weight"`
	ImageSize       int     `json:"image_size"`
	GuidanceScale   float64 `json:"cfg"`
	SampleSteps     int     `json:"sample_steps"`
	Shift           float64 `json:"shift"`
	PyramidNoise    bool    `json:"pyramid_noise"`
	Seed            int64   `json:"seed"`
}

// RunConfig is the validated, read-only run parameter record. Built once at
// process start and never mutated.
type RunConfig struct {
	ModelVariant  string
	LR            float64
	BatchSize     int
	TotalUpdates  int
	WarmupUpdates int

	GradAccumSteps  int
	GradClipNorm    float64
	EMADecay        float64
	EMAStartStep    int
	CheckpointEvery int
	SampleEvery     int
	CheckpointDir   string
	AdaptiveWeight  bool
	ImageSize       int
	GuidanceScale   float64
	SampleSteps     int
	Shift           float64
	PyramidNoise    bool
	Seed            int64
}

// LoadRawConfig decodes a config file. Unknown fields are rejected so a typo
// cannot silently fall back to a default.
func LoadRawConfig(path string) (*RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var raw RawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %v", err)
	}
	return &raw, nil
}

// Validate checks the raw config and fills defaults for the optional fields.
func (r *RawConfig) Validate() (*RunConfig, error) {
	cerr := &ConfigError{}
	if r.ModelVariant == nil {
		cerr.Missing = append(cerr.Missing, "model_variant")
	}
	if r.LR == nil {
		cerr.Missing = append(cerr.Missing, "lr")
	}
	if r.BatchSize == nil {
		cerr.Missing = append(cerr.Missing, "batch_size")
	}
	if r.TotalUpdates == nil {
		cerr.Missing = append(cerr.Missing, "updates")
	}
	if r.WarmupUpdates == nil {
		cerr.Missing = append(cerr.Missing, "warmup_updates")
	}

	if r.LR != nil && *r.LR <= 0 {
		cerr.Reasons = append(cerr.Reasons, fmt.Sprintf("lr must be positive, got %g", *r.LR))
	}
	if r.BatchSize != nil && *r.BatchSize <= 0 {
		cerr.Reasons = append(cerr.Reasons, fmt.Sprintf("batch_size must be positive, got %d", *r.BatchSize))
	}
	if r.GradAccumSteps < 0 {
		cerr.Reasons = append(cerr.Reasons, fmt.Sprintf("grad_accum_steps must not be negative, got %d", r.GradAccumSteps))
	}
	if len(cerr.Missing) > 0 || len(cerr.Reasons) > 0 {
		return nil, cerr
	}

	cfg := &RunConfig{
		ModelVariant:  *r.ModelVariant,
		LR:            *r.LR,
		BatchSize:     *r.BatchSize,
		TotalUpdates:  *r.TotalUpdates,
		WarmupUpdates: *r.WarmupUpdates,

		GradAccumSteps:  r.GradAccumSteps,
		GradClipNorm:    r.GradClipNorm,
		EMADecay:        r.EMADecay,
		EMAStartStep:    r.EMAStartStep,
		CheckpointEvery: r.CheckpointEvery,
		SampleEvery:     r.SampleEvery,
		CheckpointDir:   r.CheckpointDir,
		AdaptiveWeight:  r.AdaptiveWeight,
		ImageSize:       r.ImageSize,
		GuidanceScale:   r.GuidanceScale,
		SampleSteps:     r.SampleSteps,
		Shift:           r.Shift,
		PyramidNoise:    r.PyramidNoise,
		Seed:            r.Seed,
	}
	if cfg.GradAccumSteps == 0 {
		cfg.GradAccumSteps = 1
	}
	if cfg.GradClipNorm == 0 {
		cfg.GradClipNorm = 1.0
	}
	if cfg.EMADecay == 0 {
		cfg.EMADecay = 0.9999
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 256
	}
	if cfg.GuidanceScale == 0 {
		cfg.GuidanceScale = 1.5
	}
	if cfg.SampleSteps == 0 {
		cfg.SampleSteps = 10
	}
	if cfg.Shift == 0 {
		cfg.Shift = 1
	}
	return cfg, nil
}
