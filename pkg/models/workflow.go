package models

import "time"

// StepType identifies the kind of workflow step.
type StepType string

const (
	// StepTypeAgentTask dispatches a task to the orchestrator and polls it.
	StepTypeAgentTask StepType = "agent_task"
	// StepTypeCondition branches on a runtime expression.
	StepTypeCondition StepType = "condition"
	// StepTypeParallel records intent to fan out sub-steps. Currently a stub:
	// it succeeds without running sub-steps concurrently.
	StepTypeParallel StepType = "parallel"
	// StepTypeWait delays for a literal duration. Symbolic until/event forms
	// resolve immediately.
	StepTypeWait StepType = "wait"
	// StepTypeNotify sends an interpolated message through the notification sink.
	StepTypeNotify StepType = "notify"
)

// Valid returns true if the step type is a known value.
func (s StepType) Valid() bool {
	switch s {
	case StepTypeAgentTask, StepTypeCondition, StepTypeParallel, StepTypeWait, StepTypeNotify:
		return true
	default:
		return false
	}
}

// WorkflowStep is one declarative step in a workflow.
type WorkflowStep struct {
	// ID uniquely identifies the step within its workflow.
	ID string `json:"id" yaml:"id"`
	// Name is the display name for the step.
	Name string `json:"name,omitempty" yaml:"name"`
	// Type determines how the step executes.
	Type StepType `json:"type" yaml:"type"`
	// Config holds type-specific settings (expression, message, task_id, ...).
	Config map[string]any `json:"config,omitempty" yaml:"config"`
	// OnSuccess is the step ID to jump to after success. Empty advances
	// sequentially unless the step produced an explicit next step.
	OnSuccess string `json:"on_success,omitempty" yaml:"on_success"`
	// OnFailure is the step ID to jump to after failure. Empty terminates
	// the workflow failed.
	OnFailure string `json:"on_failure,omitempty" yaml:"on_failure"`
}

// Workflow is a declarative, branchable step sequence.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id" yaml:"id"`
	// SquadID is the squad this workflow belongs to.
	SquadID string `json:"squad_id,omitempty" yaml:"squad_id"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Steps are executed from index zero following each step's routing.
	Steps []WorkflowStep `json:"steps" yaml:"steps"`
	// Triggers lists event names that may start this workflow.
	Triggers []string `json:"triggers,omitempty" yaml:"triggers"`
	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// StepIndex returns the index of the step with the given ID, or -1.
func (w *Workflow) StepIndex(id string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// WorkflowExecutionStatus represents the state of a workflow run.
type WorkflowExecutionStatus string

const (
	// WorkflowStatusRunning indicates the run is executing steps.
	WorkflowStatusRunning WorkflowExecutionStatus = "running"
	// WorkflowStatusPaused indicates the run was explicitly stopped and can resume.
	WorkflowStatusPaused WorkflowExecutionStatus = "paused"
	// WorkflowStatusCompleted indicates the run passed the last step.
	WorkflowStatusCompleted WorkflowExecutionStatus = "completed"
	// WorkflowStatusFailed indicates a step failed with no onFailure route.
	WorkflowStatusFailed WorkflowExecutionStatus = "failed"
)

// Terminal returns true if the run can no longer make progress.
func (s WorkflowExecutionStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// WorkflowExecution tracks one run of a workflow.
// Context carries the "input" and "results" namespaces used by condition
// expressions and message interpolation.
type WorkflowExecution struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// WorkflowID is the workflow being executed.
	WorkflowID string `json:"workflow_id"`
	// CurrentStep is the index of the step being (or about to be) executed.
	CurrentStep int `json:"current_step"`
	// Status is the current run state.
	Status WorkflowExecutionStatus `json:"status"`
	// Context holds the input and per-step results namespaces.
	Context map[string]any `json:"context,omitempty"`
	// Error holds the failure reason for failed runs.
	Error string `json:"error,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input returns the input namespace map, creating it if needed.
func (e *WorkflowExecution) Input() map[string]any {
	return e.namespace("input")
}

// Results returns the results namespace map, creating it if needed.
func (e *WorkflowExecution) Results() map[string]any {
	return e.namespace("results")
}

func (e *WorkflowExecution) namespace(key string) map[string]any {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	if m, ok := e.Context[key].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	e.Context[key] = m
	return m
}
