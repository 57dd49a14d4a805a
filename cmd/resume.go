package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/cmafit/internal/objective"
	"github.com/cwbudde/cmafit/internal/opt"
	"github.com/cwbudde/cmafit/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir string
	resumeGens    int
	resumeSigma   float64
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume optimization from a checkpoint",
	Long: `Resumes an optimization from a saved checkpoint. The strategy restarts
centered on the checkpointed best parameters with a fresh covariance, so
the best cost can only improve. The checkpoint and trace are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().IntVar(&resumeGens, "gens", 0, "Max generations for the resumed run (0 = checkpoint config)")
	resumeCmd.Flags().Float64Var(&resumeSigma, "sigma", 0, "Restart step-size (0 = checkpoint config)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint found for job %s", jobID)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint is not usable: %w", err)
	}

	config := checkpoint.Config
	if resumeGens > 0 {
		config.Generations = resumeGens
	}
	if resumeSigma > 0 {
		config.Sigma = resumeSigma
	}

	// A resumed run must search the same problem the checkpoint came from
	if err := checkpoint.IsCompatible(config); err != nil {
		return fmt.Errorf("checkpoint incompatible with requested run: %w", err)
	}

	fn, err := objective.ByName(config.Objective)
	if err != nil {
		return fmt.Errorf("failed to resolve objective: %w", err)
	}

	slog.Info("Resuming from checkpoint",
		"job_id", jobID,
		"objective", config.Objective,
		"dim", config.Dim,
		"generation", checkpoint.Generation,
		"best_cost", checkpoint.BestCost,
	)

	// Append to the existing trace if one exists
	tracer, err := store.NewTraceWriter(resumeDataDir, jobID, true)
	if err != nil {
		slog.Warn("Failed to open trace writer, continuing without trace", "error", err)
		tracer = nil
	} else {
		defer tracer.Close()
	}

	optimizer := opt.NewCMAES(config.Generations, config.PopSize, config.Mu, config.Sigma, config.Seed)
	generationOffset := checkpoint.Generation
	if tracer != nil {
		optimizer.OnGeneration(func(p opt.Progress) {
			entry := store.TraceEntry{
				Generation: generationOffset + p.Generation,
				Cost:       p.BestCost,
				Sigma:      p.Sigma,
				Condition:  p.Condition,
				Timestamp:  time.Now(),
			}
			if err := tracer.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "error", err)
			}
		})
	}

	start := time.Now()
	result, err := optimizer.Run(fn.Eval, checkpoint.BestParams)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}
	elapsed := time.Since(start)

	if result.Diverged {
		return fmt.Errorf("optimization diverged: non-finite values in strategy state")
	}

	// Keep the better of the two outcomes
	bestParams := checkpoint.BestParams
	bestCost := checkpoint.BestCost
	if result.BestCost < bestCost {
		bestParams = result.BestParams
		bestCost = result.BestCost
	}

	updated := store.NewCheckpoint(
		jobID,
		bestParams,
		bestCost,
		checkpoint.InitialCost,
		checkpoint.Generation+result.Generations,
		checkpoint.Config,
	)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		return fmt.Errorf("failed to save updated checkpoint: %w", err)
	}

	slog.Info("Resume complete",
		"job_id", jobID,
		"elapsed", elapsed,
		"generations", result.Generations,
		"best_cost", bestCost,
		"reason", result.Reason.String(),
	)

	fmt.Printf("Resumed %s for %d generations (cost: %.6g -> %.6g, stop: %s)\n",
		jobID, result.Generations, checkpoint.BestCost, bestCost, result.Reason)

	return nil
}
