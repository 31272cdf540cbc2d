package training

import (
	"fmt"

	"github.com/cascademl/cascade/gdf"
)

// RunInfo is the only mutable state persisted across checkpoints: the global
// update counter, the smoothed loss for progress reporting, and the adaptive
// loss-weight bucket snapshot when that policy is active.
type RunInfo struct {
	TotalSteps   int                    `json:"total_steps"`
	EMALoss      float64                `json:"ema_loss"`
	AdaptiveLoss *gdf.AdaptiveLossState `json:"adaptive_loss,omitempty"`
}

// Validate rejects a restored RunInfo that cannot have come from a healthy
// run.
func (ri *RunInfo) Validate() error {
	if ri.TotalSteps < 0 {
		return fmt.Errorf("negative step counter %d", ri.TotalSteps)
	}
	if ri.AdaptiveLoss != nil {
		if err := ri.AdaptiveLoss.Validate(); err != nil {
			return fmt.Errorf("adaptive loss state: %v", err)
		}
	}
	return nil
}

// ObserveLoss folds a step's loss into the smoothed progress metric.
func (ri *RunInfo) ObserveLoss(loss float64) {
	if ri.TotalSteps == 0 && ri.EMALoss == 0 {
		ri.EMALoss = loss
		return
	}
	ri.EMALoss = 0.99*ri.EMALoss + 0.01*loss
}
