package backend

import (
	"context"
	"sync"
	"time"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// Stub is a scripted ExecutionBackend for tests and dry runs.
// By default every task succeeds; per-task outcomes can be scripted with
// Script, and Fn replaces the behavior entirely when set.
type Stub struct {
	mu sync.Mutex
	// results maps task IDs to scripted outcomes.
	results map[string]*Result
	// calls records the task IDs executed, in order.
	calls []string
	// Delay, when set, is slept before returning.
	Delay time.Duration
	// Fn, when set, handles the call instead of the scripted results.
	Fn func(ctx context.Context, profile *models.AgentProfile, task *models.Task, opts Options) (*Result, error)
}

// NewStub creates a stub backend where every task succeeds.
func NewStub() *Stub {
	return &Stub{results: make(map[string]*Result)}
}

// Script sets the outcome for a task ID.
func (s *Stub) Script(taskID string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = result
}

// Calls returns the task IDs executed so far.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ExecuteTask returns the scripted outcome for the task, or a generic
// success when none is scripted.
func (s *Stub) ExecuteTask(ctx context.Context, profile *models.AgentProfile, task *models.Task, opts Options) (*Result, error) {
	if s.Fn != nil {
		s.mu.Lock()
		s.calls = append(s.calls, task.ID)
		s.mu.Unlock()
		return s.Fn(ctx, profile, task, opts)
	}

	s.mu.Lock()
	s.calls = append(s.calls, task.ID)
	scripted := s.results[task.ID]
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted != nil {
		return scripted, nil
	}
	return &Result{
		Success:  true,
		Response: "done: " + task.Title,
		Duration: delay,
	}, nil
}
