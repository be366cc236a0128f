package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskcrew/taskcrew/internal/notify"
	"github.com/taskcrew/taskcrew/internal/orchestrator"
	"github.com/taskcrew/taskcrew/internal/store"
	"github.com/taskcrew/taskcrew/pkg/models"
)

const (
	// defaultPollInterval is how often an agent_task step polls its task.
	defaultPollInterval = 2 * time.Second
	// defaultStepTimeout caps how long an agent_task step waits for its task.
	defaultStepTimeout = 5 * time.Minute
)

var (
	// ErrWorkflowNotFound indicates the workflow does not exist in the store.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrExecutionNotFound indicates the workflow execution does not exist.
	ErrExecutionNotFound = errors.New("workflow execution not found")
	// ErrNotPaused indicates a resume was requested for a run that is not paused.
	ErrNotPaused = errors.New("workflow execution is not paused")
	// ErrNoSteps indicates the workflow has no steps to run.
	ErrNoSteps = errors.New("workflow has no steps")
)

// TaskRunner is the orchestrator surface agent_task steps depend on.
// *orchestrator.Orchestrator satisfies it.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, req orchestrator.ExecuteRequest) (*orchestrator.Handle, error)
	GetTaskProgress(taskID string) *orchestrator.TaskProgress
}

// Config assembles an Engine's collaborators.
type Config struct {
	// Store persists workflows and their runs. Required.
	Store store.WorkflowStore
	// Runner dispatches agent_task steps. Required for workflows that use them.
	Runner TaskRunner
	// Sink delivers notify-step messages. Optional; a notify step with no
	// sink succeeds without delivering.
	Sink notify.Sink
	// Evaluator decides condition-step branching. Defaults to NewEvaluator().
	Evaluator ConditionEvaluator
	// PollInterval overrides how often agent_task steps poll.
	PollInterval time.Duration
	// StepTimeout overrides how long agent_task steps wait.
	StepTimeout time.Duration
}

// Engine runs workflow executions. Each run walks steps in its own
// goroutine, persisting the run after every step so a restart can surface
// where it left off.
type Engine struct {
	store  store.WorkflowStore
	runner TaskRunner
	sink   notify.Sink
	cond   ConditionEvaluator

	pollInterval time.Duration
	stepTimeout  time.Duration

	mu sync.RWMutex
	// active tracks runs this engine is currently driving, keyed by run ID.
	// Membership doubles as the stop signal for the run loop.
	active map[string]*models.WorkflowExecution
	order  []string

	runs sync.WaitGroup
}

// NewEngine creates an Engine from the config.
func NewEngine(cfg Config) *Engine {
	cond := cfg.Evaluator
	if cond == nil {
		cond = NewEvaluator()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	return &Engine{
		store:        cfg.Store,
		runner:       cfg.Runner,
		sink:         cfg.Sink,
		cond:         cond,
		pollInterval: poll,
		stepTimeout:  timeout,
		active:       make(map[string]*models.WorkflowExecution),
	}
}

// StartWorkflow begins a new run of the workflow with the given input and
// returns the tracked execution.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowExecution, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("lookup workflow: %w", err)
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSteps, workflowID)
	}

	exec := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     models.WorkflowStatusRunning,
		StartedAt:  time.Now(),
	}
	in := exec.Input()
	for k, v := range input {
		in[k] = v
	}
	exec.Results()

	if err := e.store.CreateWorkflowExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	e.track(exec)
	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		e.run(ctx, wf, exec)
	}()
	return exec, nil
}

// StopWorkflow pauses a run this engine is driving. The run loop notices
// before its next step, marks the execution paused and persists it; the
// current step is never interrupted mid-flight. Returns false for runs not
// active on this engine.
func (e *Engine) StopWorkflow(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[executionID]; !ok {
		return false
	}
	e.untrackLocked(executionID)
	return true
}

// ResumeWorkflow continues a paused run from its current step.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	exec, err := e.store.GetWorkflowExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("lookup execution: %w", err)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if exec.Status != models.WorkflowStatusPaused {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPaused, executionID, exec.Status)
	}

	wf, err := e.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("lookup workflow: %w", err)
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, exec.WorkflowID)
	}

	exec.Status = models.WorkflowStatusRunning
	if err := e.store.UpdateWorkflowExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	e.track(exec)
	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		e.run(ctx, wf, exec)
	}()
	return exec, nil
}

// GetExecution returns the run from the active set or the store.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	exec, ok := e.active[executionID]
	e.mu.RUnlock()
	if ok {
		return exec, nil
	}
	return e.store.GetWorkflowExecution(ctx, executionID)
}

// GetActiveExecutions returns the runs this engine is driving, oldest first.
func (e *Engine) GetActiveExecutions() []*models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.WorkflowExecution, 0, len(e.order))
	for _, id := range e.order {
		if exec, ok := e.active[id]; ok {
			out = append(out, exec)
		}
	}
	return out
}

// Wait blocks until all runs this engine started have returned.
func (e *Engine) Wait() {
	e.runs.Wait()
}

// run walks the workflow's steps until the run terminates, is paused, or
// the context is cancelled.
func (e *Engine) run(ctx context.Context, wf *models.Workflow, exec *models.WorkflowExecution) {
	for {
		if ctx.Err() != nil || !e.isActive(exec.ID) {
			// Stopped or cancelled; leave the run paused and resumable.
			exec.Status = models.WorkflowStatusPaused
			_ = e.store.UpdateWorkflowExecution(context.WithoutCancel(ctx), exec)
			e.mu.Lock()
			e.untrackLocked(exec.ID)
			e.mu.Unlock()
			return
		}
		if exec.CurrentStep < 0 || exec.CurrentStep >= len(wf.Steps) {
			e.finish(ctx, exec, models.WorkflowStatusCompleted, "")
			return
		}

		step := wf.Steps[exec.CurrentStep]
		res := e.runStep(ctx, exec, step)

		if res.output != nil {
			exec.Results()[step.ID] = res.output
		}
		if err := e.store.UpdateWorkflowExecution(ctx, exec); err != nil {
			e.finish(ctx, exec, models.WorkflowStatusFailed, fmt.Sprintf("persist after step %s: %v", step.ID, err))
			return
		}

		if res.err != nil {
			if step.OnFailure != "" {
				idx := wf.StepIndex(step.OnFailure)
				if idx < 0 {
					e.finish(ctx, exec, models.WorkflowStatusFailed, fmt.Sprintf("step %s routes failure to unknown step %q", step.ID, step.OnFailure))
					return
				}
				exec.CurrentStep = idx
				continue
			}
			e.finish(ctx, exec, models.WorkflowStatusFailed, fmt.Sprintf("step %s: %v", step.ID, res.err))
			return
		}

		next := res.nextStep
		if next == "" {
			next = step.OnSuccess
		}
		if next != "" {
			idx := wf.StepIndex(next)
			if idx < 0 {
				e.finish(ctx, exec, models.WorkflowStatusFailed, fmt.Sprintf("step %s routes to unknown step %q", step.ID, next))
				return
			}
			exec.CurrentStep = idx
			continue
		}
		exec.CurrentStep++
	}
}

// finish moves the run to a terminal status, persists it and drops it from
// the active set.
func (e *Engine) finish(ctx context.Context, exec *models.WorkflowExecution, status models.WorkflowExecutionStatus, errMsg string) {
	exec.Status = status
	exec.Error = errMsg
	now := time.Now()
	exec.CompletedAt = &now
	_ = e.store.UpdateWorkflowExecution(ctx, exec)

	e.mu.Lock()
	e.untrackLocked(exec.ID)
	e.mu.Unlock()
}

func (e *Engine) track(exec *models.WorkflowExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[exec.ID]; !ok {
		e.order = append(e.order, exec.ID)
	}
	e.active[exec.ID] = exec
}

// untrackLocked removes the run from the active set. Caller must hold e.mu.
func (e *Engine) untrackLocked(id string) {
	if _, ok := e.active[id]; !ok {
		return
	}
	delete(e.active, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) isActive(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.active[id]
	return ok
}
