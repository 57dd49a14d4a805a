package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/cmafit/internal/objective"
	"github.com/cwbudde/cmafit/internal/opt"
	"github.com/cwbudde/cmafit/internal/store"
)

// broadcastThrottle limits SSE progress events to 2 per second.
const broadcastThrottle = 500 * time.Millisecond

// runJob executes an optimization job in the background.
// If checkpointStore is not nil and the job has checkpointInterval > 0,
// periodic checkpoints are saved. If dataDir is not empty, a per-generation
// trace is written to <dataDir>/jobs/<jobID>/trace.jsonl.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, dataDir string, jobID string) error {
	// Get the job
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Update state to running
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "objective", job.Config.Objective, "dim", job.Config.Dim)

	// Resolve the objective function
	fn, err := objective.ByName(job.Config.Objective)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to resolve objective: %w", err))
		return err
	}

	meanInit := objective.DefaultStart(job.Config.Dim)
	initialCost := fn.Eval(meanInit)

	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialCost = initialCost
	})

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	// Open trace writer if enabled
	var tracer *store.TraceWriter
	if dataDir != "" {
		tracer, err = store.NewTraceWriter(dataDir, jobID, false)
		if err != nil {
			slog.Warn("Failed to open trace writer, continuing without trace", "job_id", jobID, "error", err)
			tracer = nil
		} else {
			defer tracer.Close()
		}
	}

	// Create optimizer
	optimizer := opt.NewCMAES(job.Config.Generations, job.Config.PopSize, job.Config.Mu, job.Config.Sigma, job.Config.Seed)

	// Report progress from inside the loop: update the job record,
	// broadcast throttled SSE events, record the trace and save
	// interval checkpoints.
	start := time.Now()
	var lastBroadcast time.Time
	lastCheckpoint := start
	checkpointInterval := time.Duration(job.Config.CheckpointInterval) * time.Second

	optimizer.OnGeneration(func(p opt.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Generations = p.Generation
			j.BestCost = p.BestCost
			j.BestParams = append([]float64(nil), p.BestParams...)
			j.Sigma = p.Sigma
		})

		if time.Since(lastBroadcast) >= broadcastThrottle {
			lastBroadcast = time.Now()
			elapsed := time.Since(start).Seconds()
			var evalsPerSec float64
			if elapsed > 0 {
				evalsPerSec = float64(p.Generation*job.Config.PopSize) / elapsed
			}
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:       jobID,
				State:       StateRunning,
				Generation:  p.Generation,
				BestCost:    p.BestCost,
				Sigma:       p.Sigma,
				EvalsPerSec: evalsPerSec,
				Timestamp:   time.Now(),
			})
		}

		if tracer != nil {
			entry := store.TraceEntry{
				Generation: p.Generation,
				Cost:       p.BestCost,
				Sigma:      p.Sigma,
				Condition:  p.Condition,
				Timestamp:  time.Now(),
			}
			if err := tracer.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}

		if checkpointStore != nil && checkpointInterval > 0 && time.Since(lastCheckpoint) >= checkpointInterval {
			lastCheckpoint = time.Now()
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	})

	// Run optimization
	result, err := optimizer.Run(fn.Eval, meanInit)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("optimization failed: %w", err))
		return err
	}
	elapsed := time.Since(start)

	// Check for cancellation after optimization
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	if result.Diverged {
		err := fmt.Errorf("optimization diverged: non-finite values in strategy state")
		markJobFailed(jm, jobID, err)
		return err
	}

	// Update job with results
	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestParams = result.BestParams
		j.BestCost = result.BestCost
		j.Generations = result.Generations
		j.Reason = result.Reason.String()
		j.EndTime = &endTime
	})

	if err != nil {
		return err
	}

	// Compute throughput
	totalEvals := result.Generations * job.Config.PopSize
	evalsPerSec := float64(totalEvals) / elapsed.Seconds()

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"generations", result.Generations,
		"initial_cost", initialCost,
		"best_cost", result.BestCost,
		"reason", result.Reason.String(),
		"evals_per_second", evalsPerSec,
	)

	// Save final checkpoint
	if checkpointStore != nil {
		if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Generation:  result.Generations,
		BestCost:    result.BestCost,
		Sigma:       job.Sigma,
		EvalsPerSec: evalsPerSec,
		Timestamp:   time.Now(),
	})

	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	// Get current job state
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Skip if no best params yet
	if len(job.BestParams) == 0 {
		slog.Debug("Skipping checkpoint, no best params yet", "job_id", jobID)
		return nil
	}

	// Create checkpoint
	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestParams,
		job.BestCost,
		job.InitialCost,
		job.Generations,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"generation", job.Generations,
		"best_cost", job.BestCost,
	)

	return nil
}
