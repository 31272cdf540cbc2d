package training

import (
	"fmt"

	"github.com/cascademl/cascade/models"
)

// InitEMA copies the primary's weights into the shadow so EMA tracking starts
// from the live model, not from a fresh initialization.
func InitEMA(shadow, primary models.Module) error {
	state, err := models.StateOf("ema_init", primary)
	if err != nil {
		return fmt.Errorf("failed to snapshot primary weights: %v", err)
	}
	if err := models.LoadState(shadow, state); err != nil {
		return fmt.Errorf("failed to seed shadow weights: %v", err)
	}
	return nil
}

// UpdateEMA folds the primary's weights into the shadow:
// shadow = decay·shadow + (1−decay)·primary, matched by parameter name.
// The shadow never receives gradients; this is its only mutator.
func UpdateEMA(shadow, primary models.Module, decay float64) error {
	if decay < 0 || decay > 1 {
		return fmt.Errorf("decay must be in [0,1], got %f", decay)
	}

	live := make(map[string][]float32)
	for _, p := range primary.Parameters() {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access primary parameter %s: %v", p.Name, err)
		}
		live[p.Name] = data
	}

	for _, p := range shadow.Parameters() {
		src, ok := live[p.Name]
		if !ok {
			return fmt.Errorf("shadow parameter %s has no primary counterpart", p.Name)
		}
		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access shadow parameter %s: %v", p.Name, err)
		}
		if len(dst) != len(src) {
			return fmt.Errorf("parameter %s size mismatch: %d vs %d", p.Name, len(dst), len(src))
		}
		for i := range dst {
			dst[i] = float32(decay*float64(dst[i]) + (1-decay)*float64(src[i]))
		}
	}
	return nil
}
