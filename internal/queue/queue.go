// Package queue provides the in-memory priority queue and execution ledger
// for squad tasks. Mutators called with unknown IDs are no-ops rather than
// errors; the orchestrator layers loud failures on top where required.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskcrew/taskcrew/pkg/models"
)

const (
	// DefaultMaxRetries is how many attempts a task gets before it stays blocked.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the minimum wait between attempts of the same task.
	DefaultRetryDelay = 60 * time.Second
)

// Entry wraps a pending task with its queueing metadata.
// Entries exist only while the task is pending; they are destroyed on
// dequeue or when an execution starts.
type Entry struct {
	// Task is the queued task.
	Task *models.Task
	// Priority orders the entry; higher runs first.
	Priority int
	// EnqueuedAt breaks priority ties, earliest first.
	EnqueuedAt time.Time
	// Attempts counts how many times execution of this task was tried.
	Attempts int
	// LastAttempt is when the most recent attempt was recorded.
	LastAttempt time.Time
}

// TaskQueue is the in-memory priority queue plus execution-tracking ledger.
// It is safe for concurrent use.
type TaskQueue struct {
	mu sync.RWMutex

	// entries is kept sorted by priority desc, then enqueue time asc, so the
	// eligibility scan in GetNext is a plain iteration.
	entries []*Entry
	// byID indexes pending entries by task ID.
	byID map[string]*Entry

	// executions indexes all tracked executions by execution ID.
	executions map[string]*models.Execution
	// latestByTask maps a task ID to its most recent execution ID.
	latestByTask map[string]string
	// execOrder preserves creation order for stable listings.
	execOrder []string

	maxRetries int
	retryDelay time.Duration

	// now is the clock, swappable in tests.
	now func() time.Time

	// seq breaks enqueue-time ties when the clock does not advance between
	// two enqueues.
	seq    uint64
	seqFor map[string]uint64
}

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithMaxRetries overrides the default retry cap.
func WithMaxRetries(n int) Option {
	return func(q *TaskQueue) { q.maxRetries = n }
}

// WithRetryDelay overrides the default minimum wait between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(q *TaskQueue) { q.retryDelay = d }
}

// WithClock overrides the queue's clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *TaskQueue) { q.now = now }
}

// New creates an empty TaskQueue.
func New(opts ...Option) *TaskQueue {
	q := &TaskQueue{
		byID:         make(map[string]*Entry),
		executions:   make(map[string]*models.Execution),
		latestByTask: make(map[string]string),
		seqFor:       make(map[string]uint64),
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds the task using its own priority. See EnqueueWithPriority.
func (q *TaskQueue) Enqueue(task *models.Task) {
	if task == nil {
		return
	}
	q.EnqueueWithPriority(task, task.Priority)
}

// EnqueueWithPriority upserts the task by ID. Re-enqueueing an existing task
// updates its task snapshot and priority but keeps its enqueue time and
// attempt count.
func (q *TaskQueue) EnqueueWithPriority(task *models.Task, priority int) {
	if task == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byID[task.ID]; ok {
		e.Task = task
		e.Priority = priority
		q.resortLocked()
		return
	}

	q.seq++
	q.seqFor[task.ID] = q.seq
	e := &Entry{
		Task:       task,
		Priority:   priority,
		EnqueuedAt: q.now(),
	}
	q.byID[task.ID] = e
	q.entries = append(q.entries, e)
	q.resortLocked()
}

// resortLocked restores the priority-desc, enqueue-asc ordering.
// Caller must hold q.mu.
func (q *TaskQueue) resortLocked() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		if q.entries[i].Priority != q.entries[j].Priority {
			return q.entries[i].Priority > q.entries[j].Priority
		}
		if !q.entries[i].EnqueuedAt.Equal(q.entries[j].EnqueuedAt) {
			return q.entries[i].EnqueuedAt.Before(q.entries[j].EnqueuedAt)
		}
		return q.seqFor[q.entries[i].Task.ID] < q.seqFor[q.entries[j].Task.ID]
	})
}

// Dequeue removes and returns the task, or nil if it is not queued.
func (q *TaskQueue) Dequeue(taskID string) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return nil
	}
	q.removeLocked(taskID)
	return e.Task
}

// removeLocked drops the entry for taskID. Caller must hold q.mu.
func (q *TaskQueue) removeLocked(taskID string) {
	delete(q.byID, taskID)
	delete(q.seqFor, taskID)
	for i, e := range q.entries {
		if e.Task.ID == taskID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// GetNext returns the task that should run next, or nil if nothing is
// eligible. It scans entries in priority order (ties FIFO by enqueue time)
// and returns the first entry that is retry-eligible: never attempted, or
// past the retry delay since its last attempt.
//
// When the top-priority entry is still inside its retry delay, a lower
// priority eligible entry is returned instead. This best-effort policy is
// intentional and must be preserved.
func (q *TaskQueue) GetNext() *models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.now()
	for _, e := range q.entries {
		if e.Attempts == 0 || now.Sub(e.LastAttempt) >= q.retryDelay {
			return e.Task
		}
	}
	return nil
}

// MarkAttempt increments the entry's attempt count and refreshes its last
// attempt time. Returns false for unknown task IDs.
func (q *TaskQueue) MarkAttempt(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return false
	}
	e.Attempts++
	e.LastAttempt = q.now()
	return true
}

// CanRetry reports whether the queued task has attempts remaining.
// Unknown task IDs report false.
func (q *TaskQueue) CanRetry(taskID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.byID[taskID]
	if !ok {
		return false
	}
	return e.Attempts < q.maxRetries
}

// GetEntry returns a copy of the queue entry for the task, or nil.
func (q *TaskQueue) GetEntry(taskID string) *Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.byID[taskID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// GetAll returns the pending tasks in queue order.
func (q *TaskQueue) GetAll() []*models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(q.entries))
	for _, e := range q.entries {
		tasks = append(tasks, e.Task)
	}
	return tasks
}

// Len returns the number of pending entries.
func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// StartExecution creates a running execution for the task and removes the
// task from the pending queue. Returns nil if the task already has a live
// execution; a task is never simultaneously queued and executing.
func (q *TaskQueue) StartExecution(taskID, agentID string) *models.Execution {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.latestByTask[taskID]; ok {
		if prev := q.executions[id]; prev != nil && !prev.Status.Terminal() {
			return nil
		}
	}

	exec := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    models.ExecutionStatusRunning,
		StartedAt: q.now(),
	}
	q.executions[exec.ID] = exec
	q.latestByTask[taskID] = exec.ID
	q.execOrder = append(q.execOrder, exec.ID)
	q.removeLocked(taskID)

	q.appendLogLocked(exec, models.LogLevelInfo, fmt.Sprintf("execution started by agent %s", agentID))
	return exec
}

// UpdateProgress sets the execution's progress (clamped to 0-100).
// Returns false for unknown or terminal executions.
func (q *TaskQueue) UpdateProgress(executionID string, progress int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec := q.liveLocked(executionID)
	if exec == nil {
		return false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	exec.Progress = progress
	q.appendLogLocked(exec, models.LogLevelInfo, fmt.Sprintf("progress %d%%", progress))
	return true
}

// AddLog appends a log entry to the execution.
// Returns false for unknown executions.
func (q *TaskQueue) AddLog(executionID string, level models.LogLevel, message string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec, ok := q.executions[executionID]
	if !ok {
		return false
	}
	q.appendLogLocked(exec, level, message)
	return true
}

// CompleteExecution marks the execution completed with the given result and
// forces progress to 100. Returns false for unknown or already-terminal
// executions, which guards the failure path against double bookkeeping.
func (q *TaskQueue) CompleteExecution(executionID, result string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec := q.liveLocked(executionID)
	if exec == nil {
		return false
	}
	exec.Status = models.ExecutionStatusCompleted
	exec.Progress = 100
	exec.Result = result
	q.finishLocked(exec)
	q.appendLogLocked(exec, models.LogLevelInfo, "execution completed")
	return true
}

// FailExecution marks the execution failed with the given error.
// Returns false for unknown or already-terminal executions.
func (q *TaskQueue) FailExecution(executionID, errMsg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec := q.liveLocked(executionID)
	if exec == nil {
		return false
	}
	exec.Status = models.ExecutionStatusFailed
	exec.Error = errMsg
	q.finishLocked(exec)
	q.appendLogLocked(exec, models.LogLevelError, "execution failed: "+errMsg)
	return true
}

// BlockExecution marks the execution blocked with the given reason.
// Returns false for unknown or already-terminal executions.
func (q *TaskQueue) BlockExecution(executionID, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	exec := q.liveLocked(executionID)
	if exec == nil {
		return false
	}
	exec.Status = models.ExecutionStatusBlocked
	exec.Error = reason
	q.finishLocked(exec)
	q.appendLogLocked(exec, models.LogLevelWarn, "execution blocked: "+reason)
	return true
}

// GetExecution returns the execution by ID, or nil.
func (q *TaskQueue) GetExecution(executionID string) *models.Execution {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.executions[executionID]
}

// GetExecutionByTask returns the most recent execution for the task, or nil.
func (q *TaskQueue) GetExecutionByTask(taskID string) *models.Execution {
	q.mu.RLock()
	defer q.mu.RUnlock()

	id, ok := q.latestByTask[taskID]
	if !ok {
		return nil
	}
	return q.executions[id]
}

// GetActiveExecutions returns all non-terminal executions in creation order.
func (q *TaskQueue) GetActiveExecutions() []*models.Execution {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var active []*models.Execution
	for _, id := range q.execOrder {
		if exec := q.executions[id]; exec != nil && !exec.Status.Terminal() {
			active = append(active, exec)
		}
	}
	return active
}

// SyncFromTasks reconciles the queue against an external task snapshot.
// Only backlog tasks that are neither queued nor executing are enqueued.
// Returns the number of tasks added.
func (q *TaskQueue) SyncFromTasks(tasks []*models.Task) int {
	added := 0
	for _, task := range tasks {
		if task == nil || task.Status != models.TaskStatusBacklog {
			continue
		}
		q.mu.Lock()
		_, queued := q.byID[task.ID]
		executing := false
		if id, ok := q.latestByTask[task.ID]; ok {
			if exec := q.executions[id]; exec != nil && !exec.Status.Terminal() {
				executing = true
			}
		}
		q.mu.Unlock()
		if queued || executing {
			continue
		}
		q.Enqueue(task)
		added++
	}
	return added
}

// Cleanup discards terminal executions beyond the keepLast most recently
// completed ones. Running executions are never eligible. Returns the number
// of executions removed.
func (q *TaskQueue) Cleanup(keepLast int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var terminal []*models.Execution
	for _, exec := range q.executions {
		if exec.Status.Terminal() {
			terminal = append(terminal, exec)
		}
	}
	if keepLast < 0 {
		keepLast = 0
	}
	if len(terminal) <= keepLast {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		ti, tj := terminal[i].CompletedAt, terminal[j].CompletedAt
		switch {
		case ti == nil && tj == nil:
			return false
		case tj == nil:
			return true
		case ti == nil:
			return false
		default:
			return ti.After(*tj)
		}
	})

	removed := 0
	for _, exec := range terminal[keepLast:] {
		delete(q.executions, exec.ID)
		if q.latestByTask[exec.TaskID] == exec.ID {
			delete(q.latestByTask, exec.TaskID)
		}
		for i, id := range q.execOrder {
			if id == exec.ID {
				q.execOrder = append(q.execOrder[:i], q.execOrder[i+1:]...)
				break
			}
		}
		removed++
	}
	return removed
}

// Stats summarizes the queue for status reporting.
type Stats struct {
	// Pending is the number of queued entries.
	Pending int `json:"pending"`
	// Running is the number of live executions.
	Running int `json:"running"`
	// Completed is the number of retained completed executions.
	Completed int `json:"completed"`
	// Failed is the number of retained failed executions.
	Failed int `json:"failed"`
	// Blocked is the number of retained blocked executions.
	Blocked int `json:"blocked"`
	// ByPriority counts pending entries per priority.
	ByPriority map[int]int `json:"by_priority,omitempty"`
}

// GetStats returns a snapshot of queue and ledger counts.
func (q *TaskQueue) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{
		Pending:    len(q.entries),
		ByPriority: make(map[int]int),
	}
	for _, e := range q.entries {
		s.ByPriority[e.Priority]++
	}
	for _, exec := range q.executions {
		switch exec.Status {
		case models.ExecutionStatusCompleted:
			s.Completed++
		case models.ExecutionStatusFailed:
			s.Failed++
		case models.ExecutionStatusBlocked:
			s.Blocked++
		default:
			s.Running++
		}
	}
	return s
}

// liveLocked returns the execution if it exists and is not terminal.
// Caller must hold q.mu.
func (q *TaskQueue) liveLocked(executionID string) *models.Execution {
	exec, ok := q.executions[executionID]
	if !ok || exec.Status.Terminal() {
		return nil
	}
	return exec
}

// finishLocked stamps the completion time. Caller must hold q.mu.
func (q *TaskQueue) finishLocked(exec *models.Execution) {
	now := q.now()
	exec.CompletedAt = &now
}

// appendLogLocked appends a log entry. Caller must hold q.mu.
func (q *TaskQueue) appendLogLocked(exec *models.Execution, level models.LogLevel, message string) {
	exec.Logs = append(exec.Logs, models.LogEntry{
		Time:    q.now(),
		Level:   level,
		Message: message,
	})
}
