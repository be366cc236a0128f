package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/taskcrew/taskcrew/internal/backend"
	"github.com/taskcrew/taskcrew/internal/notify"
	"github.com/taskcrew/taskcrew/internal/persona"
	"github.com/taskcrew/taskcrew/internal/queue"
	"github.com/taskcrew/taskcrew/internal/store"
	"github.com/taskcrew/taskcrew/pkg/models"
)

const (
	// defaultEventBuffer sizes the emitter channel.
	defaultEventBuffer = 100
	// defaultTickInterval is how often the background loop dispatches work.
	defaultTickInterval = 10 * time.Second
	// defaultTaskTimeout caps a backend call when the request carries none.
	defaultTaskTimeout = 5 * time.Minute
	// defaultKeepLast bounds the trailing window of terminal executions the
	// ledger retains.
	defaultKeepLast = 50
)

// Config assembles an Orchestrator's collaborators. Store and Backend are
// required; the rest default to sensible zero configurations.
type Config struct {
	// Store persists tasks, agents and delivery messages.
	Store store.Store
	// Backend executes tasks on behalf of agents.
	Backend backend.ExecutionBackend
	// Sink receives squad notifications. Optional; nil disables delivery.
	Sink notify.Sink
	// Queue is the task queue and execution ledger. Defaults to queue.New().
	Queue *queue.TaskQueue
	// Personas is the profile registry. Defaults to persona.NewManager().
	Personas *persona.Manager
	// Logger receives debug traces. Defaults to a no-op logger.
	Logger *DebugLogger
	// TickInterval overrides the background dispatch cadence.
	TickInterval time.Duration
	// TaskTimeout caps backend calls for requests without their own timeout.
	// Defaults to 5 minutes.
	TaskTimeout time.Duration
	// KeepLast bounds how many terminal executions the ledger retains; the
	// background loop trims beyond it each tick. Defaults to 50.
	KeepLast int
}

// Orchestrator owns the live agent pool and coordinates task execution:
// it selects agents, starts executions, runs them against the backend,
// and settles the resulting bookkeeping. All public methods are safe for
// concurrent use.
type Orchestrator struct {
	squadID  string
	store    store.Store
	backend  backend.ExecutionBackend
	sink     notify.Sink
	queue    *queue.TaskQueue
	personas *persona.Manager
	emitter  *EventEmitter
	logger   *DebugLogger

	tickInterval time.Duration
	taskTimeout  time.Duration
	keepLast     int

	mu sync.RWMutex
	// agents is the live pool keyed by profile ID.
	agents map[string]*models.AgentInstance
	// agentOrder preserves registration order; selection ties resolve to the
	// earliest registered agent.
	agentOrder []string

	loopMu     sync.Mutex
	loopCancel context.CancelFunc

	// runs tracks in-flight task goroutines for shutdown.
	runs sync.WaitGroup
}

// New creates an Orchestrator from the config. Call Initialize before
// dispatching work.
func New(cfg Config) *Orchestrator {
	q := cfg.Queue
	if q == nil {
		q = queue.New()
	}
	pm := cfg.Personas
	if pm == nil {
		pm = persona.NewManager()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	keep := cfg.KeepLast
	if keep <= 0 {
		keep = defaultKeepLast
	}
	return &Orchestrator{
		store:        cfg.Store,
		backend:      cfg.Backend,
		sink:         cfg.Sink,
		queue:        q,
		personas:     pm,
		emitter:      NewEventEmitter(defaultEventBuffer),
		logger:       logger,
		tickInterval: tick,
		taskTimeout:  timeout,
		keepLast:     keep,
		agents:       make(map[string]*models.AgentInstance),
	}
}

// Initialize loads the squad's active agents into the pool and seeds the
// queue from backlog tasks in the store.
func (o *Orchestrator) Initialize(ctx context.Context, squadID string) error {
	o.mu.Lock()
	o.squadID = squadID
	o.mu.Unlock()

	profiles, err := o.store.GetActiveAgents(ctx, squadID)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	for _, p := range profiles {
		o.RegisterAgent(p)
	}

	backlog, err := o.store.GetTasksByStatus(ctx, squadID, models.TaskStatusBacklog)
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}
	added := o.queue.SyncFromTasks(backlog)

	o.logger.Log("initialized squad %s: %d agents, %d tasks queued", squadID, len(profiles), added)
	return nil
}

// RegisterAgent adds the profile to the persona registry and the live pool.
// A re-registered agent keeps its runtime metrics.
func (o *Orchestrator) RegisterAgent(p *models.AgentProfile) {
	if p == nil || p.ID == "" {
		return
	}
	o.personas.Register(p)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.agents[p.ID]; ok {
		return
	}
	o.agents[p.ID] = &models.AgentInstance{
		ID:     p.ID,
		Status: models.AgentStatusIdle,
	}
	o.agentOrder = append(o.agentOrder, p.ID)
	o.logger.Log("registered agent %s (%s)", p.ID, p.Type)
}

// UnregisterAgent removes the agent from the pool and the persona registry.
// Unknown IDs are a no-op.
func (o *Orchestrator) UnregisterAgent(id string) {
	o.personas.Unregister(id)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.agents[id]; !ok {
		return
	}
	delete(o.agents, id)
	for i, a := range o.agentOrder {
		if a == id {
			o.agentOrder = append(o.agentOrder[:i], o.agentOrder[i+1:]...)
			break
		}
	}
}

// ExecuteRequest parameterizes a task run.
type ExecuteRequest struct {
	// TaskID names the task to run. Required.
	TaskID string
	// AgentID pins the run to a specific registered agent. Empty selects one.
	AgentID string
	// Context carries extra key/values forwarded to the backend.
	Context map[string]any
	// Timeout caps the run; zero falls back to the orchestrator's configured
	// task timeout.
	Timeout time.Duration
	// Signals overrides the block-trigger snapshot. Nil derives an empty
	// snapshot with the agent's cost limit.
	Signals *persona.Signals
}

// Handle describes a started run.
type Handle struct {
	ExecutionID string
	TaskID      string
	AgentID     string
	Status      models.ExecutionStatus
}

// ExecuteTask starts an asynchronous run of the task. It validates the task
// and resolves an agent before touching any persistent state, so a failed
// lookup leaves no trace in the store.
func (o *Orchestrator) ExecuteTask(ctx context.Context, req ExecuteRequest) (*Handle, error) {
	task, err := o.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("lookup task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, req.TaskID)
	}

	o.mu.Lock()
	var inst *models.AgentInstance
	if req.AgentID != "" {
		inst = o.agents[req.AgentID]
		if inst == nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
		}
	} else {
		inst = o.selectAgentLocked(task)
		if inst == nil {
			o.mu.Unlock()
			return nil, ErrNoAvailableAgent
		}
	}

	profile := o.personas.Get(inst.ID)
	if profile == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has no profile", ErrAgentNotFound, inst.ID)
	}

	exec := o.queue.StartExecution(task.ID, inst.ID)
	if exec == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, task.ID)
	}

	inst.Status = models.AgentStatusWorking
	inst.CurrentTaskID = task.ID
	o.mu.Unlock()

	if err := o.store.AssignTask(ctx, task.ID, inst.ID); err != nil {
		o.queue.FailExecution(exec.ID, "assign failed: "+err.Error())
		o.freeAgent(inst.ID, models.AgentStatusIdle)
		return nil, fmt.Errorf("assign task: %w", err)
	}
	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, ""); err != nil {
		o.queue.FailExecution(exec.ID, "status update failed: "+err.Error())
		o.freeAgent(inst.ID, models.AgentStatusIdle)
		return nil, fmt.Errorf("update task status: %w", err)
	}
	task.AssignedTo = inst.ID
	task.Status = models.TaskStatusInProgress

	o.notify(ctx, notify.Notification{
		Event:   notify.EventTaskAssigned,
		Task:    task,
		AgentID: inst.ID,
	})
	o.emit(Event{
		Type:        EventTaskAssigned,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		AgentID:     inst.ID,
		ExecutionID: exec.ID,
	})
	o.logger.Log("task %s assigned to agent %s (execution %s)", task.ID, inst.ID, exec.ID)

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		o.runTask(ctx, exec, profile, task, req)
	}()

	return &Handle{
		ExecutionID: exec.ID,
		TaskID:      task.ID,
		AgentID:     inst.ID,
		Status:      models.ExecutionStatusRunning,
	}, nil
}

// selectAgentLocked returns the best-scoring idle, active agent able to
// handle the task type, or nil. Score favors high success rate, penalizes
// load (completed count) and slow average durations. Ties resolve to the
// earliest registered agent. Caller must hold o.mu.
func (o *Orchestrator) selectAgentLocked(task *models.Task) *models.AgentInstance {
	var best *models.AgentInstance
	bestScore := math.Inf(-1)
	for _, id := range o.agentOrder {
		inst := o.agents[id]
		if inst == nil || inst.Status != models.AgentStatusIdle {
			continue
		}
		p := o.personas.Get(id)
		if p == nil || !p.Active {
			continue
		}
		if !o.personas.CanHandleTaskType(p, task.Type) {
			continue
		}
		score := -0.1*float64(inst.Completed) +
			10*inst.SuccessRate() -
			float64(inst.AvgDuration.Milliseconds())/60000.0
		if score > bestScore {
			best = inst
			bestScore = score
		}
	}
	return best
}

// runTask drives one execution to a terminal state: block trigger check,
// backend call, then exactly one settlement path (success, failure or block).
func (o *Orchestrator) runTask(ctx context.Context, exec *models.Execution, profile *models.AgentProfile, task *models.Task, req ExecuteRequest) {
	start := time.Now()

	prompt := o.personas.BuildSystemPrompt(profile, taskContext(task))

	o.queue.AddLog(exec.ID, models.LogLevelInfo, fmt.Sprintf("agent %s starting task: %s", profile.ID, task.Title))
	o.notify(ctx, notify.Notification{
		Event:   notify.EventTaskStarted,
		Task:    task,
		AgentID: profile.ID,
	})
	o.emit(Event{
		Type:        EventTaskStarted,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		AgentID:     profile.ID,
		ExecutionID: exec.ID,
	})

	o.queue.UpdateProgress(exec.ID, 10)

	sig := o.signalSnapshot(req, profile)
	if trig := o.personas.CheckBlockTriggers(profile, sig); trig != nil {
		if trig.RequiresApproval {
			o.blockRun(ctx, exec, profile, task, trig.Message)
			return
		}
		o.queue.AddLog(exec.ID, models.LogLevelWarn, fmt.Sprintf("trigger %q fired without approval requirement, continuing", trig.Condition))
	}

	o.queue.UpdateProgress(exec.ID, 30)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.taskTimeout
	}
	result, err := o.backend.ExecuteTask(ctx, profile, task, backend.Options{
		SystemPrompt: prompt,
		Timeout:      timeout,
		Context:      req.Context,
	})
	if err != nil {
		o.failRun(ctx, exec, profile, task, err.Error())
		return
	}
	if result == nil || !result.Success {
		msg := "backend reported failure"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		o.failRun(ctx, exec, profile, task, msg)
		return
	}

	duration := result.Duration
	if duration <= 0 {
		duration = time.Since(start)
	}
	if err := o.settleSuccess(ctx, exec, profile, task, result, duration); err != nil {
		o.failRun(ctx, exec, profile, task, err.Error())
	}
}

// settleSuccess performs the success bookkeeping. A store failure partway
// through returns the error so the caller can run the failure path; the
// completed execution record itself is never rewound.
func (o *Orchestrator) settleSuccess(ctx context.Context, exec *models.Execution, profile *models.AgentProfile, task *models.Task, result *backend.Result, duration time.Duration) error {
	if !o.queue.CompleteExecution(exec.ID, result.Response) {
		// Already settled elsewhere, e.g. paused mid-flight. The pause path
		// owns the bookkeeping.
		return nil
	}

	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReview, ""); err != nil {
		return fmt.Errorf("move task to review: %w", err)
	}
	if err := o.store.CreateMessage(ctx, task.ID, profile.ID, result.Response, "delivery"); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}

	o.notify(ctx, notify.Notification{
		Event:    notify.EventTaskCompleted,
		Task:     task,
		AgentID:  profile.ID,
		Duration: duration,
	})
	o.emit(Event{
		Type:        EventTaskCompleted,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		AgentID:     profile.ID,
		ExecutionID: exec.ID,
		Duration:    duration,
	})
	o.logger.Log("task %s completed by agent %s in %s", task.ID, profile.ID, duration)

	o.mu.Lock()
	if inst := o.agents[profile.ID]; inst != nil {
		inst.Completed++
		n := inst.Completed
		inst.AvgDuration = time.Duration((int64(inst.AvgDuration)*int64(n-1) + int64(duration)) / int64(n))
		inst.Status = models.AgentStatusIdle
		inst.CurrentTaskID = ""
	}
	o.mu.Unlock()
	return nil
}

// failRun performs the failure bookkeeping: execution failed, task blocked,
// agent idle with a failure counted. Safe to reach twice; an execution
// already settled by another path is left alone.
func (o *Orchestrator) failRun(ctx context.Context, exec *models.Execution, profile *models.AgentProfile, task *models.Task, errMsg string) {
	if cur := o.queue.GetExecution(exec.ID); cur != nil && cur.Status == models.ExecutionStatusBlocked {
		// Paused or blocked while the backend call was in flight; that path
		// already freed the agent.
		return
	}
	o.queue.FailExecution(exec.ID, errMsg)

	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBlocked, errMsg); err != nil {
		o.logger.Log("task %s: failed to persist blocked status: %v", task.ID, err)
	}

	o.notify(ctx, notify.Notification{
		Event:   notify.EventExecutionError,
		Task:    task,
		AgentID: profile.ID,
		Error:   errMsg,
	})
	o.emit(Event{
		Type:        EventExecutionError,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		AgentID:     profile.ID,
		ExecutionID: exec.ID,
		Error:       errMsg,
	})
	o.logger.Log("task %s failed with agent %s: %s", task.ID, profile.ID, errMsg)

	o.mu.Lock()
	if inst := o.agents[profile.ID]; inst != nil {
		inst.Failed++
		inst.Status = models.AgentStatusIdle
		inst.CurrentTaskID = ""
	}
	o.mu.Unlock()
}

// blockRun halts the run on a block trigger that requires approval.
func (o *Orchestrator) blockRun(ctx context.Context, exec *models.Execution, profile *models.AgentProfile, task *models.Task, reason string) {
	o.queue.BlockExecution(exec.ID, reason)

	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBlocked, reason); err != nil {
		o.logger.Log("task %s: failed to persist blocked status: %v", task.ID, err)
	}

	o.notify(ctx, notify.Notification{
		Event:   notify.EventTaskBlocked,
		Task:    task,
		AgentID: profile.ID,
		Message: reason,
	})
	o.emit(Event{
		Type:        EventTaskBlocked,
		TaskID:      task.ID,
		TaskTitle:   task.Title,
		AgentID:     profile.ID,
		ExecutionID: exec.ID,
		Message:     reason,
	})
	o.logger.Log("task %s blocked for agent %s: %s", task.ID, profile.ID, reason)

	o.mu.Lock()
	if inst := o.agents[profile.ID]; inst != nil {
		inst.Blocked++
		inst.Status = models.AgentStatusBlocked
		inst.CurrentTaskID = ""
	}
	o.mu.Unlock()
}

// signalSnapshot builds the block-trigger snapshot for a run. Request
// signals win; the agent's cost limit fills in when the snapshot carries
// none.
func (o *Orchestrator) signalSnapshot(req ExecuteRequest, profile *models.AgentProfile) persona.Signals {
	var sig persona.Signals
	if req.Signals != nil {
		sig = *req.Signals
	}
	if sig.CostLimit == 0 {
		sig.CostLimit = profile.Limiters.CostLimit
	}
	return sig
}

// PauseTask blocks the task's running execution and frees its agent.
// Returns false when the task has no running execution.
func (o *Orchestrator) PauseTask(ctx context.Context, taskID string) bool {
	exec := o.queue.GetExecutionByTask(taskID)
	if exec == nil || exec.Status != models.ExecutionStatusRunning {
		return false
	}
	if !o.queue.BlockExecution(exec.ID, "paused by user") {
		return false
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusBlocked, "paused by user"); err != nil {
		o.logger.Log("task %s: failed to persist paused status: %v", taskID, err)
	}

	o.freeAgent(exec.AgentID, models.AgentStatusIdle)

	o.emit(Event{
		Type:        EventTaskBlocked,
		TaskID:      taskID,
		AgentID:     exec.AgentID,
		ExecutionID: exec.ID,
		Message:     "paused by user",
	})
	o.logger.Log("task %s paused by user", taskID)
	return true
}

// ResumeTask restarts a blocked task. The task must currently be blocked;
// a fresh agent is selected for the new run.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID string) (*Handle, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("lookup task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != models.TaskStatusBlocked {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotBlocked, taskID, task.Status)
	}

	o.notify(ctx, notify.Notification{
		Event: notify.EventTaskUnblocked,
		Task:  task,
	})
	o.emit(Event{
		Type:      EventTaskUnblocked,
		TaskID:    task.ID,
		TaskTitle: task.Title,
	})
	o.logger.Log("task %s resumed", taskID)

	return o.ExecuteTask(ctx, ExecuteRequest{TaskID: taskID})
}

// TaskProgress is a point-in-time view of a task's execution.
type TaskProgress struct {
	ExecutionID string                 `json:"execution_id"`
	AgentID     string                 `json:"agent_id"`
	Status      models.ExecutionStatus `json:"status"`
	Progress    int                    `json:"progress"`
	Result      string                 `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// GetTaskProgress returns the task's most recent execution view, or nil when
// the task has never executed.
func (o *Orchestrator) GetTaskProgress(taskID string) *TaskProgress {
	exec := o.queue.GetExecutionByTask(taskID)
	if exec == nil {
		return nil
	}
	return &TaskProgress{
		ExecutionID: exec.ID,
		AgentID:     exec.AgentID,
		Status:      exec.Status,
		Progress:    exec.Progress,
		Result:      exec.Result,
		Error:       exec.Error,
	}
}

// Status is a snapshot of the orchestrator for status reporting.
type Status struct {
	SquadID string                 `json:"squad_id"`
	Agents  []models.AgentInstance `json:"agents"`
	Queue   queue.Stats            `json:"queue"`
	Active  []*models.Execution    `json:"active,omitempty"`
	Dropped uint64                 `json:"dropped_events,omitempty"`
}

// GetStatus returns a snapshot of the pool and queue.
func (o *Orchestrator) GetStatus() Status {
	o.mu.RLock()
	agents := make([]models.AgentInstance, 0, len(o.agentOrder))
	for _, id := range o.agentOrder {
		if inst := o.agents[id]; inst != nil {
			agents = append(agents, *inst)
		}
	}
	squadID := o.squadID
	o.mu.RUnlock()

	return Status{
		SquadID: squadID,
		Agents:  agents,
		Queue:   o.queue.GetStats(),
		Active:  o.queue.GetActiveExecutions(),
		Dropped: o.emitter.DroppedCount(),
	}
}

// Events exposes the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Start launches the background dispatch loop. Calling Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start() {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.loopCancel = cancel
	go o.loop(ctx)
	o.logger.Log("dispatch loop started, interval %s", o.tickInterval)
}

// Stop cancels the background dispatch loop. Idempotent. In-flight task
// runs are not interrupted; use Shutdown to wait for them.
func (o *Orchestrator) Stop() {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loopCancel == nil {
		return
	}
	o.loopCancel()
	o.loopCancel = nil
	o.logger.Log("dispatch loop stopped")
}

// Shutdown stops the dispatch loop and waits for in-flight runs to settle,
// bounded by the context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.Stop()

	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// loop runs dispatch ticks until the context is cancelled. Ticks are
// serialized: a tick runs inline, so a slow dispatch delays the next tick
// rather than overlapping it. Each tick also trims the execution ledger to
// its retention bound.
func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ProcessNextTask(ctx)
			if removed := o.queue.Cleanup(o.keepLast); removed > 0 {
				o.logger.Log("ledger cleanup removed %d execution(s)", removed)
			}
		}
	}
}

// ProcessNextTask performs one dispatch tick: if an idle agent exists and
// the queue holds an eligible task, start it. A dispatch failure records an
// attempt; tasks out of retries are dropped from the queue and marked
// blocked. Returns whether a run was started.
func (o *Orchestrator) ProcessNextTask(ctx context.Context) bool {
	if !o.hasIdleAgent() {
		return false
	}
	task := o.queue.GetNext()
	if task == nil {
		return false
	}

	if _, err := o.ExecuteTask(ctx, ExecuteRequest{TaskID: task.ID}); err != nil {
		o.logger.Log("dispatch of task %s failed: %v", task.ID, err)
		if o.queue.CanRetry(task.ID) {
			o.queue.MarkAttempt(task.ID)
		} else {
			o.queue.Dequeue(task.ID)
			reason := "retries exhausted: " + err.Error()
			if uerr := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBlocked, reason); uerr != nil {
				o.logger.Log("task %s: failed to persist blocked status: %v", task.ID, uerr)
			}
		}
		return false
	}
	return true
}

// hasIdleAgent reports whether any registered agent is idle with an active
// profile.
func (o *Orchestrator) hasIdleAgent() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, id := range o.agentOrder {
		inst := o.agents[id]
		if inst == nil || inst.Status != models.AgentStatusIdle {
			continue
		}
		if p := o.personas.Get(id); p != nil && p.Active {
			return true
		}
	}
	return false
}

// freeAgent returns the agent to the given status with no current task.
func (o *Orchestrator) freeAgent(id string, status models.AgentStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inst := o.agents[id]; inst != nil {
		inst.Status = status
		inst.CurrentTaskID = ""
	}
}

// notify delivers best-effort; failures are logged and swallowed.
func (o *Orchestrator) notify(ctx context.Context, n notify.Notification) {
	if o.sink == nil {
		return
	}
	o.mu.RLock()
	squadID := o.squadID
	o.mu.RUnlock()
	if err := o.sink.Notify(ctx, squadID, n); err != nil {
		o.logger.Log("notification %s failed: %v", n.Event, err)
	}
}

// emit stamps and publishes an event.
func (o *Orchestrator) emit(ev Event) {
	ev.Timestamp = time.Now()
	o.emitter.Emit(ev)
}

// taskContext renders the task as the prompt's task section.
func taskContext(t *models.Task) string {
	var b strings.Builder
	b.WriteString(t.Title)
	if t.Type != "" {
		fmt.Fprintf(&b, " (%s)", t.Type)
	}
	if t.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(t.Description)
	}
	return b.String()
}
