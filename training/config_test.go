package training

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestConfigValidation(t *testing.T) {
	raw, err := LoadRawConfig(writeConfig(t, `{
		"model_variant": "700M",
		"lr": 1e-4,
		"batch_size": 32,
		"updates": 10000,
		"warmup_updates": 100
	}`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	cfg, err := raw.Validate()
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	if cfg.ModelVariant != "700M" || cfg.LR != 1e-4 || cfg.BatchSize != 32 {
		t.Errorf("required fields not carried over: %+v", cfg)
	}
	// Defaults for the optional fields.
	if cfg.GradAccumSteps != 1 {
		t.Errorf("expected default grad_accum_steps 1, got %d", cfg.GradAccumSteps)
	}
	if cfg.GradClipNorm != 1.0 {
		t.Errorf("expected default grad_clip_norm 1.0, got %f", cfg.GradClipNorm)
	}
	if cfg.EMADecay != 0.9999 {
		t.Errorf("expected default ema_decay 0.9999, got %f", cfg.EMADecay)
	}
	if cfg.GuidanceScale != 1.5 || cfg.SampleSteps != 10 || cfg.Shift != 1 {
		t.Errorf("sampling defaults wrong: %+v", cfg)
	}
}

func TestConfigReportsAllMissingFields(t *testing.T) {
	raw, err := LoadRawConfig(writeConfig(t, `{"lr": 1e-4}`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	_, err = raw.Validate()
	if err == nil {
		t.Fatal("incomplete config accepted")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}

	// Every missing field is reported at once, not one per run.
	for _, field := range []string{"model_variant", "batch_size", "updates", "warmup_updates"} {
		found := false
		for _, m := range cerr.Missing {
			if m == field {
				found = true
			}
		}
		if !found {
			t.Errorf("missing field %q not reported in %v", field, cerr.Missing)
		}
	}
	if strings.Contains(err.Error(), "lr") {
		t.Errorf("present field reported missing: %v", err)
	}
}

func TestConfigRejectsUnknownFields(t *testing.T) {
	_, err := LoadRawConfig(writeConfig(t, `{
		"model_variant": "700M",
		"lr": 1e-4,
		"batch_size": 32,
		"updates": 10000,
		"warmup_updates": 100,
		"learning_rate": 0.01
	}`))
	if err == nil {
		t.Fatal("config with unknown field accepted")
	}
}

func TestConfigRejectsBadValues(t *testing.T) {
	raw, err := LoadRawConfig(writeConfig(t, `{
		"model_variant": "700M",
		"lr": -1,
		"batch_size": 0,
		"updates": 100,
		"warmup_updates": 10
	}`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := raw.Validate(); err == nil {
		t.Fatal("non-positive lr and batch_size accepted")
	}
}
