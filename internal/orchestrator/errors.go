package orchestrator

import "errors"

// Unlike the queue, orchestrator entry points fail loudly on unknown
// identifiers rather than silently no-opping.
var (
	// ErrTaskNotFound indicates the requested task does not exist in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAgentNotFound indicates the explicitly requested agent is not
	// registered in the pool.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNoAvailableAgent indicates no idle, active agent could be selected.
	// Callers may rely on the background tick to retry later.
	ErrNoAvailableAgent = errors.New("no available agent")

	// ErrTaskAlreadyRunning indicates the task already has a live execution.
	ErrTaskAlreadyRunning = errors.New("task already has a live execution")

	// ErrTaskNotBlocked indicates a resume was requested for a task that is
	// not in the blocked state.
	ErrTaskNotBlocked = errors.New("task is not blocked")
)
