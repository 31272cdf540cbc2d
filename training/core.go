// Package training owns the run lifecycle: config validation, checkpoint
// restore, the ordered setup hooks a concrete run fulfills, and the training
// step machine with gradient accumulation, clipping, EMA tracking, and
// periodic checkpointing. The core is agnostic to what a model or loss is; it
// drives the Run contract and persists RunInfo plus named model and optimizer
// state at checkpoint boundaries.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cascademl/cascade/checkpoints"
	"github.com/cascademl/cascade/dist"
	"github.com/cascademl/cascade/models"
	"github.com/cascademl/cascade/tensor"
)

// ForwardResult carries one micro-step's loss: the gradient-tracked scalar
// used for backpropagation plus the detached per-sample values used for
// bucket updates and progress reporting.
type ForwardResult struct {
	Loss         *tensor.Tensor
	SampleLosses []float64
	LogSNR       []float64
}

// Run is the extension contract a concrete training run fulfills. The core
// invokes the setup hooks in declaration order at startup, then ForwardPass
// and BackwardPass every iteration. BackwardPass propagates gradients; all
// optimizer, counter, and EMA mutation is the core's job and happens only
// when update is true.
type Run interface {
	SetupExtrasPre(c *Core) error
	SetupModels(c *Core) (*models.ModelSet, error)
	SetupOptimizers(c *Core) (map[string]Optimizer, error)
	SetupSchedulers(c *Core) (map[string]LRScheduler, error)
	SetupData(c *Core) (*DataLoader, error)

	ForwardPass(c *Core, batch *Batch) (*ForwardResult, error)
	BackwardPass(c *Core, result *ForwardResult, update bool) error

	// ModelsToSave names the modules whose weights persist across restarts.
	ModelsToSave(c *Core) map[string]models.Module

	// Sample produces periodic evaluation imagery. Called synchronously on
	// the main replica only.
	Sample(c *Core) error
}

// Core orchestrates a full training run for one replica.
type Core struct {
	Config     *RunConfig
	Info       *RunInfo
	Dist       dist.Context
	Store      checkpoints.Store
	Models     *models.ModelSet
	Optimizers map[string]Optimizer
	Schedulers map[string]LRScheduler
	Loader     *DataLoader
	RNG        *rand.Rand

	run     Run
	logger  *slog.Logger
	meta    checkpoints.Metadata
	baseLRs map[string]float64
}

// NewCore wires a validated config, a concrete run, and a checkpoint store
// into an orchestrator for the given replica.
func NewCore(cfg *RunConfig, run Run, store checkpoints.Store, ctx dist.Context, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		Config: cfg,
		Info:   &RunInfo{},
		Dist:   ctx,
		Store:  store,
		RNG:    rand.New(rand.NewSource(cfg.Seed + int64(ctx.Rank))),
		run:    run,
		logger: logger,
	}
}

// Run executes the full lifecycle: restore → setup hooks in order → training
// loop → final checkpoint. Hook errors propagate uncaught; there are no
// retries at this layer.
func (c *Core) Run(ctx context.Context) error {
	if err := c.restoreInfo(); err != nil {
		return err
	}

	c.logger.Info("starting run",
		"run_id", c.meta.RunID,
		"variant", c.Config.ModelVariant,
		"rank", c.Dist.Rank,
		"world_size", c.Dist.WorldSize,
		"device", c.Dist.Device,
		"restored_steps", c.Info.TotalSteps)

	if err := c.run.SetupExtrasPre(c); err != nil {
		return fmt.Errorf("extras setup failed: %v", err)
	}

	modelSet, err := c.run.SetupModels(c)
	if err != nil {
		return fmt.Errorf("model setup failed: %v", err)
	}
	c.Models = modelSet
	if err := c.restoreModels(); err != nil {
		return err
	}

	c.Optimizers, err = c.run.SetupOptimizers(c)
	if err != nil {
		return fmt.Errorf("optimizer setup failed: %v", err)
	}
	c.baseLRs = make(map[string]float64, len(c.Optimizers))
	for name, opt := range c.Optimizers {
		c.baseLRs[name] = opt.GetLR()
	}
	if err := c.restoreOptimizers(); err != nil {
		return err
	}

	c.Schedulers, err = c.run.SetupSchedulers(c)
	if err != nil {
		return fmt.Errorf("scheduler setup failed: %v", err)
	}
	for name := range c.Schedulers {
		if _, ok := c.Optimizers[name]; !ok {
			return fmt.Errorf("scheduler %q has no matching optimizer", name)
		}
	}

	c.Loader, err = c.run.SetupData(c)
	if err != nil {
		return fmt.Errorf("data setup failed: %v", err)
	}
	c.Loader.Start(ctx)
	defer c.Loader.Stop()

	// A cancelled context is a requested stop, not a failure: checkpoint
	// and report success so the process exits zero under SIGINT/SIGTERM.
	switch err := c.runLoop(ctx); {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		c.logger.Info("stop requested", "step", c.Info.TotalSteps)
	default:
		return err
	}

	if err := c.checkpoint(); err != nil {
		return err
	}
	c.logger.Info("run complete", "total_steps", c.Info.TotalSteps, "ema_loss", c.Info.EMALoss)
	return nil
}

const (
	infoKey = "info"
	metaKey = "meta"
)

func (c *Core) restoreInfo() error {
	found, err := c.Store.Load(infoKey, c.Info)
	if err != nil {
		return err
	}
	if found {
		if err := c.Info.Validate(); err != nil {
			return &checkpoints.CheckpointError{Key: infoKey, Op: "load", Err: err}
		}
	}

	foundMeta, err := c.Store.Load(metaKey, &c.meta)
	if err != nil {
		return err
	}
	if !foundMeta {
		c.meta = checkpoints.NewMetadata()
	}
	return nil
}

func (c *Core) restoreModels() error {
	for name, m := range c.run.ModelsToSave(c) {
		var state checkpoints.ModelState
		found, err := c.Store.Load(name, &state)
		if err != nil {
			return err
		}
		if !found {
			c.logger.Info("initializing model from scratch", "model", name)
			continue
		}
		if err := models.LoadState(m, state); err != nil {
			return &checkpoints.CheckpointError{Key: name, Op: "load", Err: err}
		}
		c.logger.Info("restored model weights", "model", name, "tensors", len(state.Weights))
	}
	return nil
}

func (c *Core) restoreOptimizers() error {
	for name, opt := range c.Optimizers {
		key := name + "_optim"
		var state checkpoints.OptimizerState
		found, err := c.Store.Load(key, &state)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := opt.LoadState(state); err != nil {
			return &checkpoints.CheckpointError{Key: key, Op: "load", Err: err}
		}
		c.logger.Info("restored optimizer state", "optimizer", name, "step", state.Step)
	}
	return nil
}

// checkpoint persists RunInfo and every named model and optimizer. Under
// sharded state the write must be collective, so all replicas reach the
// barrier even though only the main replica writes.
func (c *Core) checkpoint() error {
	if err := c.Dist.Group.Barrier(); err != nil {
		return &dist.CollectiveError{Op: "checkpoint barrier", Err: err}
	}

	if c.Dist.IsMain() {
		c.meta.Touch()
		if err := c.Store.Save(metaKey, c.meta); err != nil {
			return err
		}
		if err := c.Store.Save(infoKey, c.Info); err != nil {
			return err
		}
		for name, m := range c.run.ModelsToSave(c) {
			state, err := models.StateOf(name, m)
			if err != nil {
				return &checkpoints.CheckpointError{Key: name, Op: "save", Err: err}
			}
			if err := c.Store.Save(name, state); err != nil {
				return err
			}
		}
		for name, opt := range c.Optimizers {
			state, err := opt.State()
			if err != nil {
				return &checkpoints.CheckpointError{Key: name + "_optim", Op: "save", Err: err}
			}
			if err := c.Store.Save(name+"_optim", state); err != nil {
				return err
			}
		}
		c.logger.Info("checkpoint written", "step", c.Info.TotalSteps)
	}

	if err := c.Dist.Group.Barrier(); err != nil {
		return &dist.CollectiveError{Op: "checkpoint barrier", Err: err}
	}
	return nil
}
