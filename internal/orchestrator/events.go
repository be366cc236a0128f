// Package orchestrator owns the live agent pool, assigns queued tasks to
// agents, and drives the execution lifecycle.
package orchestrator

import "time"

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskAssigned indicates a task was assigned to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates a task run has begun.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task run finished successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskBlocked indicates a run halted on a block trigger or pause.
	EventTaskBlocked EventType = "task_blocked"
	// EventTaskUnblocked indicates a blocked task was resumed.
	EventTaskUnblocked EventType = "task_unblocked"
	// EventExecutionError indicates a task run failed.
	EventExecutionError EventType = "execution_error"
)

// Event is emitted by the orchestrator for observers such as the CLI.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// ExecutionID is the ID of the related execution, if applicable.
	ExecutionID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error string
	// Duration is the run duration for completion events.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
