package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusBacklog indicates the task is waiting to be picked up.
	TaskStatusBacklog TaskStatus = "backlog"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed without human action.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusReview indicates the task output is awaiting human review.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusDone indicates the task is finished and accepted.
	TaskStatusDone TaskStatus = "done"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusInProgress, TaskStatusBlocked, TaskStatusReview, TaskStatusDone:
		return true
	default:
		return false
	}
}

// Task represents a unit of work owned by the store.
// The orchestrator mutates status and assignment only through store calls.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// SquadID is the squad that owns this task.
	SquadID string `json:"squad_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type categorizes the task (e.g. "coding", "research", "ops").
	Type string `json:"type,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders the task in the queue; higher runs first.
	Priority int `json:"priority"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// BlockedReason explains why the task is blocked, if it is.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached done, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
