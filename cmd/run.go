package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/cmafit/internal/objective"
	"github.com/cwbudde/cmafit/internal/opt"
	"github.com/cwbudde/cmafit/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	objectiveName string
	dim           int
	generations   int
	popSize       int
	muSize        int
	sigma         float64
	seed          int64
	outPath       string
	traceDir      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run single-shot optimization",
	Long:  `Runs CMA-ES minimization of the chosen objective and writes the best parameters.`,
	RunE:  runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&objectiveName, "objective", "sphere", "Objective function to minimize")
	runCmd.Flags().IntVar(&dim, "dim", 10, "Search space dimensionality")
	runCmd.Flags().IntVar(&generations, "gens", 200, "Max generations")
	runCmd.Flags().IntVar(&popSize, "pop", 30, "Population size")
	runCmd.Flags().IntVar(&muSize, "mu", 0, "Number of parents (0 = pop/2)")
	runCmd.Flags().Float64Var(&sigma, "sigma", 1.0, "Initial step-size")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write best parameters as JSON to this file")
	runCmd.Flags().StringVar(&traceDir, "trace-dir", "", "Record a per-generation trace under this directory")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	if muSize <= 0 {
		muSize = popSize / 2
	}

	slog.Info("Starting optimization", "objective", objectiveName, "dim", dim, "generations", generations)

	fn, err := objective.ByName(objectiveName)
	if err != nil {
		return fmt.Errorf("failed to resolve objective: %w", err)
	}

	// Open trace writer if requested
	var tracer *store.TraceWriter
	runID := uuid.New().String()
	if traceDir != "" {
		tracer, err = store.NewTraceWriter(traceDir, runID, false)
		if err != nil {
			return fmt.Errorf("failed to open trace writer: %w", err)
		}
		defer tracer.Close()
		slog.Info("Recording trace", "run_id", runID, "dir", traceDir)
	}

	// Create optimizer
	optimizer := opt.NewCMAES(generations, popSize, muSize, sigma, seed)
	if tracer != nil {
		optimizer.OnGeneration(func(p opt.Progress) {
			entry := store.TraceEntry{
				Generation: p.Generation,
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

	meanInit := objective.DefaultStart(dim)
	initialCost := fn.Eval(meanInit)

	start := time.Now()
	result, err := optimizer.Run(fn.Eval, meanInit)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}
	elapsed := time.Since(start)

	if result.Diverged {
		return fmt.Errorf("optimization diverged: non-finite values in strategy state")
	}

	// Compute throughput
	totalEvals := result.Generations * popSize
	evalsPerSec := float64(totalEvals) / elapsed.Seconds()

	slog.Info("Optimization complete",
		"elapsed", elapsed,
		"generations", result.Generations,
		"initial_cost", initialCost,
		"final_cost", result.BestCost,
		"improvement", initialCost-result.BestCost,
		"reason", result.Reason.String(),
		"evals_per_second", fmt.Sprintf("%.0f", evalsPerSec),
	)

	if outPath != "" {
		if err := writeResultJSON(outPath, result, initialCost); err != nil {
			return err
		}
	}

	fmt.Printf("Minimized %s in %d generations (cost: %.6g -> %.6g, stop: %s)\n",
		objectiveName, result.Generations, initialCost, result.BestCost, result.Reason)

	return nil
}

// writeResultJSON saves the run outcome as indented JSON.
func writeResultJSON(path string, result *opt.Result, initialCost float64) error {
	out := map[string]interface{}{
		"bestParams":  result.BestParams,
		"bestCost":    result.BestCost,
		"initialCost": initialCost,
		"generations": result.Generations,
		"reason":      result.Reason.String(),
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	slog.Info("Wrote result", "path", path)
	return nil
}
