// Package backend defines the execution backend contract: the external
// AI runtime that actually performs a task on an agent's behalf.
package backend

import (
	"context"
	"time"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// Options carries per-run parameters to the backend.
type Options struct {
	// SystemPrompt is the instruction text built by the persona manager.
	SystemPrompt string
	// Timeout caps the run's wall-clock duration. Zero means the backend's
	// default.
	Timeout time.Duration
	// Context carries caller-supplied key/values forwarded with the run.
	Context map[string]any
}

// Result is the outcome of a backend run.
type Result struct {
	// Success indicates the backend finished the task.
	Success bool
	// Response is the agent's output text.
	Response string
	// Error holds the backend-reported failure reason when Success is false.
	Error string
	// Duration is the wall-clock run time.
	Duration time.Duration
	// InputTokens and OutputTokens record LLM usage, when known.
	InputTokens  int64
	OutputTokens int64
}

// ExecutionBackend executes a task for an agent profile.
// The orchestrator calls ExecuteTask at most once per task run.
type ExecutionBackend interface {
	ExecuteTask(ctx context.Context, profile *models.AgentProfile, task *models.Task, opts Options) (*Result, error)
}
