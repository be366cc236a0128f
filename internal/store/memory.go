package store

import (
	"context"
	"sync"
	"time"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// Message is a recorded task message.
type Message struct {
	TaskID    string
	AgentID   string
	Content   string
	Kind      string
	CreatedAt time.Time
}

// Memory is an in-memory Store. It backs tests and ephemeral runs.
// It records the names of mutating operations so tests can assert on
// write behavior.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]*models.Task
	agents     map[string]*models.AgentProfile
	agentOrder []string
	messages   []Message
	workflows  map[string]*models.Workflow
	wfExecs    map[string]*models.WorkflowExecution
	writeOps   []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:     make(map[string]*models.Task),
		agents:    make(map[string]*models.AgentProfile),
		workflows: make(map[string]*models.Workflow),
		wfExecs:   make(map[string]*models.WorkflowExecution),
	}
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

// WriteOps returns the mutating operations performed, in order.
func (m *Memory) WriteOps() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.writeOps...)
}

func (m *Memory) recordLocked(op string) {
	m.writeOps = append(m.writeOps, op)
}

// CreateTask stores the task.
func (m *Memory) CreateTask(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tasks[t.ID] = t
	m.recordLocked("create_task")
	return nil
}

// GetTask returns the task, or (nil, nil) if absent.
func (m *Memory) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[id], nil
}

// GetTasksByStatus returns tasks for the squad with the given status.
func (m *Memory) GetTasksByStatus(_ context.Context, squadID string, status models.TaskStatus) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == status && (squadID == "" || t.SquadID == squadID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// UpdateTaskStatus sets the task's status and blocked reason.
// Unknown IDs are a silent no-op, matching a CRUD backend's update-0-rows.
func (m *Memory) UpdateTaskStatus(_ context.Context, id string, status models.TaskStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked("update_task_status")
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	t.Status = status
	t.BlockedReason = reason
	if status == models.TaskStatusDone {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

// AssignTask sets the task's assigned agent.
func (m *Memory) AssignTask(_ context.Context, taskID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked("assign_task")
	if t, ok := m.tasks[taskID]; ok {
		t.AssignedTo = agentID
	}
	return nil
}

// CreateAgent stores the agent profile.
func (m *Memory) CreateAgent(_ context.Context, p *models.AgentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[p.ID]; !ok {
		m.agentOrder = append(m.agentOrder, p.ID)
	}
	m.agents[p.ID] = p
	m.recordLocked("create_agent")
	return nil
}

// GetActiveAgents returns active agent profiles for the squad in insertion order.
func (m *Memory) GetActiveAgents(_ context.Context, squadID string) ([]*models.AgentProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AgentProfile
	for _, id := range m.agentOrder {
		p := m.agents[id]
		if p.Active && (squadID == "" || p.SquadID == squadID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateMessage records a task message.
func (m *Memory) CreateMessage(_ context.Context, taskID, agentID, content, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{
		TaskID:    taskID,
		AgentID:   agentID,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
	m.recordLocked("create_message")
	return nil
}

// Messages returns all recorded messages.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.messages...)
}

// CreateWorkflow stores the workflow.
func (m *Memory) CreateWorkflow(_ context.Context, w *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	m.workflows[w.ID] = w
	m.recordLocked("create_workflow")
	return nil
}

// GetWorkflow returns the workflow, or (nil, nil) if absent.
func (m *Memory) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workflows[id], nil
}

// UpdateWorkflow replaces the stored workflow.
func (m *Memory) UpdateWorkflow(_ context.Context, w *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
	m.recordLocked("update_workflow")
	return nil
}

// CreateWorkflowExecution stores the workflow execution.
func (m *Memory) CreateWorkflowExecution(_ context.Context, e *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wfExecs[e.ID] = e
	m.recordLocked("create_workflow_execution")
	return nil
}

// GetWorkflowExecution returns the execution, or (nil, nil) if absent.
func (m *Memory) GetWorkflowExecution(_ context.Context, id string) (*models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wfExecs[id], nil
}

// UpdateWorkflowExecution replaces the stored execution.
func (m *Memory) UpdateWorkflowExecution(_ context.Context, e *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wfExecs[e.ID] = e
	m.recordLocked("update_workflow_execution")
	return nil
}
