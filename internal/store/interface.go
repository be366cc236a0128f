// Package store defines the persistence contract consumed by the
// orchestrator and workflow engine, with SQLite and in-memory
// implementations. Lookups return (nil, nil) for missing records; callers
// decide whether absence is an error.
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// StoreError wraps a failure from a store implementation.
// The core never retries store calls; errors propagate to the caller.
type StoreError struct {
	// Op names the failing operation, e.g. "update_task_status".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// TaskStore handles task persistence.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTasksByStatus(ctx context.Context, squadID string, status models.TaskStatus) ([]*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, reason string) error
	AssignTask(ctx context.Context, taskID, agentID string) error
}

// AgentStore handles agent profile persistence.
type AgentStore interface {
	CreateAgent(ctx context.Context, p *models.AgentProfile) error
	GetActiveAgents(ctx context.Context, squadID string) ([]*models.AgentProfile, error)
}

// MessageStore records messages produced during task execution.
type MessageStore interface {
	// CreateMessage records a message on a task. agentID may be empty for
	// system messages; kind classifies the message (e.g. "delivery").
	CreateMessage(ctx context.Context, taskID, agentID, content, kind string) error
}

// WorkflowStore handles workflow and workflow execution persistence.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, w *models.Workflow) error
	CreateWorkflowExecution(ctx context.Context, e *models.WorkflowExecution) error
	GetWorkflowExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	UpdateWorkflowExecution(ctx context.Context, e *models.WorkflowExecution) error
}

// Store is the full persistence contract. It composes focused
// sub-interfaces so components can depend on only what they use.
type Store interface {
	io.Closer
	TaskStore
	AgentStore
	MessageStore
	WorkflowStore
}

// Compile-time verification that both implementations satisfy the contract.
var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)
