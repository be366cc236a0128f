package workflow

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/taskcrew/taskcrew/internal/notify"
	"github.com/taskcrew/taskcrew/internal/orchestrator"
	"github.com/taskcrew/taskcrew/pkg/models"
)

// stepResult is the outcome of one step.
type stepResult struct {
	// output is stored under results.<stepID> in the run context.
	output map[string]any
	// nextStep overrides routing when set, e.g. a condition branch.
	nextStep string
	// err marks the step failed.
	err error
}

// runStep dispatches on the step type.
func (e *Engine) runStep(ctx context.Context, exec *models.WorkflowExecution, step models.WorkflowStep) stepResult {
	switch step.Type {
	case models.StepTypeAgentTask:
		return e.runAgentTask(ctx, exec, step)
	case models.StepTypeCondition:
		return e.runCondition(exec, step)
	case models.StepTypeParallel:
		return e.runParallel(step)
	case models.StepTypeWait:
		return e.runWait(ctx, step)
	case models.StepTypeNotify:
		return e.runNotify(ctx, exec, step)
	default:
		return stepResult{err: fmt.Errorf("unknown step type %q", step.Type)}
	}
}

// runAgentTask dispatches the configured task through the orchestrator and
// polls it to a terminal state. A task that ends blocked is a successful
// step whose output carries the blocked flag; a human decides what happens
// next, the workflow moves on.
func (e *Engine) runAgentTask(ctx context.Context, exec *models.WorkflowExecution, step models.WorkflowStep) stepResult {
	taskID := Interpolate(configString(step.Config, "task_id"), exec)
	if taskID == "" {
		// Nothing to dispatch; record the skip and succeed.
		return stepResult{output: map[string]any{"skipped": true}}
	}
	if e.runner == nil {
		return stepResult{err: fmt.Errorf("agent_task step %s: no task runner configured", step.ID)}
	}

	req := orchestrator.ExecuteRequest{
		TaskID:  taskID,
		AgentID: configString(step.Config, "agent_id"),
	}
	handle, err := e.runner.ExecuteTask(ctx, req)
	if err != nil {
		return stepResult{err: fmt.Errorf("dispatch task %s: %w", taskID, err)}
	}

	timeout := e.stepTimeout
	if ms, ok := configInt(step.Config, "timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		prog := e.runner.GetTaskProgress(taskID)
		if prog != nil {
			switch prog.Status {
			case models.ExecutionStatusCompleted:
				return stepResult{output: map[string]any{
					"task_id":      taskID,
					"execution_id": prog.ExecutionID,
					"agent_id":     prog.AgentID,
					"result":       prog.Result,
				}}
			case models.ExecutionStatusFailed:
				return stepResult{err: fmt.Errorf("task %s failed: %s", taskID, prog.Error)}
			case models.ExecutionStatusBlocked:
				return stepResult{output: map[string]any{
					"task_id":      taskID,
					"execution_id": prog.ExecutionID,
					"agent_id":     prog.AgentID,
					"blocked":      true,
					"reason":       prog.Error,
				}}
			}
		}

		select {
		case <-ctx.Done():
			return stepResult{err: fmt.Errorf("task %s: %w", taskID, ctx.Err())}
		case <-deadline.C:
			return stepResult{err: fmt.Errorf("task %s timed out after %s (execution %s)", taskID, timeout, handle.ExecutionID)}
		case <-ticker.C:
		}
	}
}

// runCondition evaluates the expression and routes to true_step or
// false_step. The step itself succeeds either way; only a malformed
// expression fails it.
func (e *Engine) runCondition(exec *models.WorkflowExecution, step models.WorkflowStep) stepResult {
	expr := configString(step.Config, "expression")
	result, err := e.cond.Evaluate(expr, exec)
	if err != nil {
		return stepResult{err: fmt.Errorf("condition step %s: %w", step.ID, err)}
	}

	next := configString(step.Config, "false_step")
	if result {
		next = configString(step.Config, "true_step")
	}
	return stepResult{
		output: map[string]any{
			"expression": expr,
			"result":     result,
		},
		nextStep: next,
	}
}

// runParallel records the fan-out intent without running sub-steps
// concurrently. TODO: execute the configured steps in parallel goroutines
// and join their results.
func (e *Engine) runParallel(step models.WorkflowStep) stepResult {
	count := 0
	if steps, ok := step.Config["steps"].([]any); ok {
		count = len(steps)
	}
	return stepResult{output: map[string]any{
		"parallel":      false,
		"steps_skipped": count,
	}}
}

// runWait sleeps for a literal duration_ms. Symbolic forms (until, event)
// resolve immediately.
func (e *Engine) runWait(ctx context.Context, step models.WorkflowStep) stepResult {
	if ms, ok := configInt(step.Config, "duration_ms"); ok && ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return stepResult{err: ctx.Err()}
		}
		return stepResult{output: map[string]any{"waited_ms": ms}}
	}
	if until := configString(step.Config, "until"); until != "" {
		return stepResult{output: map[string]any{"skipped": true, "until": until}}
	}
	if event := configString(step.Config, "event"); event != "" {
		return stepResult{output: map[string]any{"skipped": true, "event": event}}
	}
	return stepResult{output: map[string]any{"waited_ms": 0}}
}

// runNotify interpolates the configured message and delivers it through the
// sink. Unlike orchestrator notifications, a delivery failure fails the step.
func (e *Engine) runNotify(ctx context.Context, exec *models.WorkflowExecution, step models.WorkflowStep) stepResult {
	message := Interpolate(configString(step.Config, "message"), exec)
	if e.sink == nil {
		return stepResult{output: map[string]any{"message": message, "delivered": false}}
	}

	squadID := configString(step.Config, "squad_id")
	err := e.sink.Notify(ctx, squadID, notify.Notification{
		Event:   notify.EventWorkflow,
		Message: message,
	})
	if err != nil {
		return stepResult{err: fmt.Errorf("notify step %s: %w", step.ID, err)}
	}
	return stepResult{output: map[string]any{"message": message, "delivered": true}}
}

// placeholderPattern matches {{ dotted.path }} tokens.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolate replaces {{path}} tokens with values resolved from the run
// context. Tokens that do not resolve are left as-is.
func Interpolate(s string, exec *models.WorkflowExecution) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := resolvePath(path, exec); ok {
			return render(v)
		}
		return token
	})
}

// configString reads a string config key, tolerating absence.
func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if s, ok := cfg[key].(string); ok {
		return s
	}
	return ""
}

// configInt reads a numeric config key. YAML and JSON decode numbers
// differently, so both int and float forms are accepted.
func configInt(cfg map[string]any, key string) (int64, bool) {
	if cfg == nil {
		return 0, false
	}
	switch n := cfg[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
