// Command trainb launches one Stage-B training replica. It takes the config
// file path as its argument and reads the device index from SLURM_LOCALID,
// the placement variable the cluster scheduler sets per task.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cascademl/cascade/checkpoints"
	"github.com/cascademl/cascade/dist"
	"github.com/cascademl/cascade/stageb"
	"github.com/cascademl/cascade/training"
)

func main() {
	var syntheticSamples int

	cmd := &cobra.Command{
		Use:          "trainb CONFIG",
		Short:        "Train the Stage-B latent diffusion generator",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], syntheticSamples)
		},
	}
	cmd.Flags().IntVar(&syntheticSamples, "synthetic-samples", 1024, "size of the synthetic data source")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, syntheticSamples int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	raw, err := training.LoadRawConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := raw.Validate()
	if err != nil {
		return err
	}

	device, err := deviceIndex()
	if err != nil {
		return err
	}

	checkpointDir := cfg.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = "checkpoints"
	}
	store, err := checkpoints.NewFileStore(checkpointDir)
	if err != nil {
		return err
	}

	dataset := stageb.NewSyntheticDataset(syntheticSamples, cfg.ImageSize, cfg.Seed)
	trainRun := stageb.NewRun(dataset, filepath.Join(checkpointDir, "previews"))
	core := training.NewCore(cfg, trainRun, store, dist.Local(device), logger)
	return core.Run(ctx)
}

// deviceIndex reads the accelerator assignment from the scheduler. An unset
// variable means a single-device run on device 0.
func deviceIndex() (int, error) {
	v := os.Getenv("SLURM_LOCALID")
	if v == "" {
		return 0, nil
	}
	idx, err := strconv.Atoi(v)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid SLURM_LOCALID %q", v)
	}
	return idx, nil
}
