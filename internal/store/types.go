package store

import (
	"fmt"
	"math"
	"time"
)

// JobConfig holds configuration for an optimization job (checkpoint copy).
// This avoids import cycles with server package.
type JobConfig struct {
	Objective          string  `json:"objective"`
	Dim                int     `json:"dim"`
	Generations        int     `json:"generations"`
	PopSize            int     `json:"popSize"`
	Mu                 int     `json:"mu"`
	Sigma              float64 `json:"sigma"` // initial step-size
	Seed               int64   `json:"seed"`
	CheckpointInterval int     `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// Checkpoint represents a saved optimization state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// The checkpoint saves the BEST PARAMETERS found so far, not the
// internal strategy state (mean, covariance, evolution paths). Resuming
// therefore restarts the strategy centered on the best parameters with
// a fresh covariance rather than continuing the exact distribution:
//
//   - Resume is not a perfect continuation; convergence speed may
//     differ slightly from an uninterrupted run.
//   - The best cost never gets worse, since the best parameters are kept.
//   - The checkpoint format stays independent of the strategy internals
//     and small (one vector instead of an n x n covariance matrix).
type Checkpoint struct {
	// JobID is the unique identifier for this optimization job
	JobID string `json:"jobId"`

	// BestParams is the candidate vector that produced the best
	// (lowest) cost so far
	BestParams []float64 `json:"bestParams"`

	// BestCost is the objective value achieved by BestParams
	BestCost float64 `json:"bestCost"`

	// InitialCost is the objective value at the starting mean, for
	// tracking improvement
	InitialCost float64 `json:"initialCost"`

	// Generation is the ask/tell cycle count when this checkpoint was created
	Generation int `json:"generation"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during resume.
	// We ensure that resumed jobs use compatible settings (same objective,
	// dimension, etc.)
	Config JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// parameter data. Used for listing checkpoints efficiently.
type CheckpointInfo struct {
	// JobID is the unique identifier for this checkpoint
	JobID string `json:"jobId"`

	// BestCost is the cost achieved at the time of checkpointing
	BestCost float64 `json:"bestCost"`

	// Generation is the generation count at checkpoint time
	Generation int `json:"generation"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Objective is the name of the objective function being minimized
	Objective string `json:"objective"`

	// Dim is the dimensionality of the search space
	Dim int `json:"dim"`
}

// NewCheckpoint creates a checkpoint from job state.
// This is a helper for converting runtime job state to a persistable checkpoint.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, generation int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Generation:  generation,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		BestCost:   c.BestCost,
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Objective:  c.Config.Objective,
		Dim:        c.Config.Dim,
	}
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if math.IsNaN(c.BestCost) || math.IsInf(c.BestCost, 0) {
		return &ValidationError{Field: "BestCost", Reason: "must be finite"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Objective == "" {
		return &ValidationError{Field: "Config.Objective", Reason: "cannot be empty"}
	}
	if c.Config.Dim < 2 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be at least 2"}
	}
	if c.Config.Generations <= 0 {
		return &ValidationError{Field: "Config.Generations", Reason: "must be positive"}
	}
	if c.Config.PopSize <= 0 {
		return &ValidationError{Field: "Config.PopSize", Reason: "must be positive"}
	}
	if c.Config.Mu < 1 || c.Config.Mu > c.Config.PopSize {
		return &ValidationError{Field: "Config.Mu", Reason: "must be in [1, popSize]"}
	}
	if c.Config.Sigma <= 0 {
		return &ValidationError{Field: "Config.Sigma", Reason: "must be positive"}
	}
	// Verify BestParams length matches the search dimension
	if len(c.BestParams) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: got %d params for dim %d", len(c.BestParams), c.Config.Dim),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if c.Config.PopSize != config.PopSize {
		return &CompatibilityError{
			Field:    "PopSize",
			Expected: fmt.Sprintf("%d", c.Config.PopSize),
			Actual:   fmt.Sprintf("%d", config.PopSize),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
