package training

import (
	"context"
	"fmt"
	"sort"

	"github.com/cascademl/cascade/dist"
	"github.com/cascademl/cascade/tensor"
)

const progressEvery = 10

// runLoop is the step machine. Each iteration pulls a batch, runs the
// forward and backward passes, and on the last micro-step of an accumulation
// window applies the update: collective gradient sync, global norm clip,
// optimizer and scheduler steps, gradient zeroing, the step counter, and the
// EMA shadow. Micro-steps mutate nothing but gradients and skip the
// collective sync, deferring it to the window's final step.
func (c *Core) runLoop(ctx context.Context) error {
	micro := 0
	for c.Info.TotalSteps < c.Config.TotalUpdates {
		batch, err := c.Loader.Next(ctx)
		if err != nil {
			return err
		}

		result, err := c.run.ForwardPass(c, batch)
		if err != nil {
			return fmt.Errorf("forward pass failed at step %d: %v", c.Info.TotalSteps, err)
		}
		if !tensor.IsFinite(result.Loss) {
			return fmt.Errorf("step %d: %w", c.Info.TotalSteps, ErrNonFiniteLoss)
		}

		micro++
		update := micro >= c.Config.GradAccumSteps

		if err := c.run.BackwardPass(c, result, update); err != nil {
			return fmt.Errorf("backward pass failed at step %d: %v", c.Info.TotalSteps, err)
		}
		if !update {
			continue
		}
		micro = 0

		if err := c.applyUpdate(); err != nil {
			return err
		}

		loss, err := meanLoss(result)
		if err != nil {
			return err
		}
		c.Info.ObserveLoss(loss)
		c.Info.TotalSteps++
		step := c.Info.TotalSteps

		if c.Models != nil && c.Models.EMA != nil && step >= c.Config.EMAStartStep {
			if err := UpdateEMA(c.Models.EMA, c.Models.Generator, c.Config.EMADecay); err != nil {
				return fmt.Errorf("EMA update failed at step %d: %v", step, err)
			}
		}

		if c.Dist.IsMain() && step%progressEvery == 0 {
			fmt.Printf("step %d/%d  loss %.5f  ema_loss %.5f  lr %.3e\n",
				step, c.Config.TotalUpdates, loss, c.Info.EMALoss, c.currentLR())
		}

		if c.Config.CheckpointEvery > 0 && step%c.Config.CheckpointEvery == 0 {
			if err := c.checkpoint(); err != nil {
				return err
			}
		}
		if c.Config.SampleEvery > 0 && step%c.Config.SampleEvery == 0 && c.Dist.IsMain() {
			if err := c.run.Sample(c); err != nil {
				return fmt.Errorf("sampling failed at step %d: %v", step, err)
			}
		}
	}
	return nil
}

// applyUpdate finishes an accumulation window: synchronize gradients across
// replicas, clip the global norm, step every named optimizer under its
// scheduler's learning rate, and zero gradients.
func (c *Core) applyUpdate() error {
	params := c.allParameters()

	if err := c.Dist.Group.SyncGradients(params); err != nil {
		return &dist.CollectiveError{Op: "gradient sync", Err: err}
	}

	if _, err := ClipGradNorm(params, c.Config.GradClipNorm); err != nil {
		return fmt.Errorf("gradient clipping failed: %v", err)
	}

	for _, name := range sortedNames(c.Optimizers) {
		opt := c.Optimizers[name]
		if sched, ok := c.Schedulers[name]; ok {
			opt.SetLR(sched.GetLR(c.Info.TotalSteps, c.baseLRs[name]))
		}
		if err := opt.Step(); err != nil {
			return fmt.Errorf("optimizer %q step failed: %v", name, err)
		}
		opt.ZeroGrad()
	}
	return nil
}

func (c *Core) allParameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, name := range sortedNames(c.Optimizers) {
		params = append(params, c.Optimizers[name].Parameters()...)
	}
	return params
}

func (c *Core) currentLR() float64 {
	for _, name := range sortedNames(c.Optimizers) {
		return c.Optimizers[name].GetLR()
	}
	return 0
}

func sortedNames(m map[string]Optimizer) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func meanLoss(result *ForwardResult) (float64, error) {
	if len(result.SampleLosses) > 0 {
		sum := 0.0
		for _, v := range result.SampleLosses {
			sum += v
		}
		return sum / float64(len(result.SampleLosses)), nil
	}
	return result.Loss.Item()
}
