package models

import "time"

// ExecutionStatus represents the state of a tracked task run.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the run has not started.
	ExecutionStatusPending ExecutionStatus = "pending"
	// ExecutionStatusRunning indicates the run is in flight.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the run finished successfully.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the run failed.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusBlocked indicates the run halted pending human action.
	ExecutionStatusBlocked ExecutionStatus = "blocked"
)

// Terminal returns true if the execution can no longer make progress.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusBlocked:
		return true
	default:
		return false
	}
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one timestamped line in an execution's log.
type LogEntry struct {
	// Time is when the entry was appended.
	Time time.Time `json:"time"`
	// Level is the entry severity.
	Level LogLevel `json:"level"`
	// Message is the log text.
	Message string `json:"message"`
}

// Execution is a tracked run of one task by one agent.
// A task has at most one live (non-terminal) execution.
type Execution struct {
	// ID is the unique identifier for this execution.
	ID string `json:"id"`
	// TaskID is the task being executed.
	TaskID string `json:"task_id"`
	// AgentID is the agent performing the work.
	AgentID string `json:"agent_id"`
	// Status is the current run state.
	Status ExecutionStatus `json:"status"`
	// Progress is the completion estimate, 0-100.
	Progress int `json:"progress"`
	// Logs are the ordered log entries for this run.
	Logs []LogEntry `json:"logs,omitempty"`
	// Result holds the agent's output on success.
	Result string `json:"result,omitempty"`
	// Error holds the failure reason, if any.
	Error string `json:"error,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
