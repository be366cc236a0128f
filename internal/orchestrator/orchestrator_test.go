package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskcrew/taskcrew/internal/backend"
	"github.com/taskcrew/taskcrew/internal/notify"
	"github.com/taskcrew/taskcrew/internal/persona"
	"github.com/taskcrew/taskcrew/internal/queue"
	"github.com/taskcrew/taskcrew/internal/store"
	"github.com/taskcrew/taskcrew/pkg/models"
)

type fixture struct {
	orch  *Orchestrator
	store *store.Memory
	stub  *backend.Stub
	sink  *notify.Memory
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		stub:  backend.NewStub(),
		sink:  notify.NewMemory(),
	}
	f.orch = New(Config{
		Store:   f.store,
		Backend: f.stub,
		Sink:    f.sink,
		Queue:   queue.New(opts...),
	})
	if err := f.orch.Initialize(context.Background(), "squad-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return f
}

func (f *fixture) addTask(t *testing.T, id, title string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:      id,
		SquadID: "squad-1",
		Title:   title,
		Status:  models.TaskStatusBacklog,
	}
	if err := f.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (f *fixture) addAgent(id string) *models.AgentProfile {
	p := &models.AgentProfile{
		ID:      id,
		Name:    id,
		SquadID: "squad-1",
		Active:  true,
	}
	f.orch.RegisterAgent(p)
	return p
}

func (f *fixture) agent(t *testing.T, id string) models.AgentInstance {
	t.Helper()
	f.orch.mu.RLock()
	defer f.orch.mu.RUnlock()
	inst := f.orch.agents[id]
	if inst == nil {
		t.Fatalf("agent %s not in pool", id)
	}
	return *inst
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecuteTaskSuccess(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	task := f.addTask(t, "t1", "implement feature")
	f.stub.Script("t1", &backend.Result{Success: true, Response: "patch ready", Duration: 30 * time.Second})

	h, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.AgentID != "dev-1" {
		t.Errorf("assigned agent = %s, want dev-1", h.AgentID)
	}

	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Completed == 1
	})

	prog := f.orch.GetTaskProgress("t1")
	if prog == nil {
		t.Fatal("no progress for t1")
	}
	if prog.Status != models.ExecutionStatusCompleted {
		t.Errorf("execution status = %s, want completed", prog.Status)
	}
	if prog.Progress != 100 {
		t.Errorf("progress = %d, want 100", prog.Progress)
	}
	if prog.Result != "patch ready" {
		t.Errorf("result = %q", prog.Result)
	}

	if task.Status != models.TaskStatusReview {
		t.Errorf("task status = %s, want review", task.Status)
	}
	if task.AssignedTo != "dev-1" {
		t.Errorf("task assigned to %q", task.AssignedTo)
	}

	msgs := f.store.Messages()
	if len(msgs) != 1 || msgs[0].Kind != "delivery" || msgs[0].Content != "patch ready" {
		t.Errorf("delivery messages = %+v", msgs)
	}

	inst := f.agent(t, "dev-1")
	if inst.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle", inst.Status)
	}
	if inst.AvgDuration != 30*time.Second {
		t.Errorf("avg duration = %s, want 30s", inst.AvgDuration)
	}

	if got := f.sink.ByEvent(notify.EventTaskCompleted); len(got) != 1 {
		t.Errorf("completed notifications = %d, want 1", len(got))
	}
}

func TestExecuteTaskFailure(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	task := f.addTask(t, "t1", "implement feature")
	f.stub.Script("t1", &backend.Result{Success: false, Error: "compile error"})

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Failed == 1
	})

	prog := f.orch.GetTaskProgress("t1")
	if prog.Status != models.ExecutionStatusFailed {
		t.Errorf("execution status = %s, want failed", prog.Status)
	}
	if prog.Error != "compile error" {
		t.Errorf("execution error = %q", prog.Error)
	}
	if task.Status != models.TaskStatusBlocked {
		t.Errorf("task status = %s, want blocked", task.Status)
	}
	if task.BlockedReason != "compile error" {
		t.Errorf("blocked reason = %q", task.BlockedReason)
	}

	inst := f.agent(t, "dev-1")
	if inst.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle after failure", inst.Status)
	}
	if inst.Completed != 0 {
		t.Errorf("completed = %d, want 0", inst.Completed)
	}

	if got := f.sink.ByEvent(notify.EventExecutionError); len(got) != 1 {
		t.Errorf("error notifications = %d, want 1", len(got))
	}
}

func TestExecuteTaskBackendError(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	f.addTask(t, "t1", "implement feature")
	f.stub.Fn = func(context.Context, *models.AgentProfile, *models.Task, backend.Options) (*backend.Result, error) {
		return nil, errors.New("connection refused")
	}

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Failed == 1
	})
	if prog := f.orch.GetTaskProgress("t1"); prog.Status != models.ExecutionStatusFailed {
		t.Errorf("execution status = %s, want failed", prog.Status)
	}
}

func TestExecuteTaskUnknownTask(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")

	_, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "ghost"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
	if ops := f.store.WriteOps(); len(ops) != 0 {
		t.Errorf("store writes after failed lookup: %v", ops)
	}
}

func TestExecuteTaskUnknownAgentWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "t1", "implement feature")
	before := len(f.store.WriteOps())

	_, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1", AgentID: "ghost"})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
	if after := len(f.store.WriteOps()); after != before {
		t.Errorf("store writes changed %d -> %d on agent lookup failure", before, after)
	}
	if f.orch.GetTaskProgress("t1") != nil {
		t.Error("execution created despite agent lookup failure")
	}
}

func TestExecuteTaskNoAvailableAgent(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "t1", "implement feature")

	_, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if !errors.Is(err, ErrNoAvailableAgent) {
		t.Fatalf("err = %v, want ErrNoAvailableAgent", err)
	}
}

func TestSelectAgentPrefersBetterMetrics(t *testing.T) {
	f := newFixture(t)
	f.addAgent("veteran")
	f.addAgent("rookie")

	// veteran: heavy load, mediocre success rate. rookie: light and clean.
	f.orch.mu.Lock()
	f.orch.agents["veteran"].Completed = 5
	f.orch.agents["veteran"].Failed = 5
	f.orch.agents["rookie"].Completed = 1
	f.orch.mu.Unlock()

	f.addTask(t, "t1", "implement feature")
	h, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.AgentID != "rookie" {
		t.Errorf("selected %s, want rookie", h.AgentID)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "rookie").Completed == 2
	})
}

func TestSelectAgentTieGoesToFirstRegistered(t *testing.T) {
	f := newFixture(t)
	f.addAgent("first")
	f.addAgent("second")
	f.addTask(t, "t1", "implement feature")

	h, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.AgentID != "first" {
		t.Errorf("selected %s, want first", h.AgentID)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "first").Completed == 1
	})
}

func TestSelectAgentSkipsBusyAndInactive(t *testing.T) {
	f := newFixture(t)
	f.addAgent("busy")
	inactive := f.addAgent("inactive")
	f.addAgent("free")

	f.orch.mu.Lock()
	f.orch.agents["busy"].Status = models.AgentStatusWorking
	f.orch.mu.Unlock()
	inactive.Active = false

	f.addTask(t, "t1", "implement feature")
	h, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.AgentID != "free" {
		t.Errorf("selected %s, want free", h.AgentID)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "free").Completed == 1
	})
}

func TestSelectAgentHonorsAllowedTaskTypes(t *testing.T) {
	f := newFixture(t)
	coder := f.addAgent("coder")
	coder.Rules.AllowedTaskTypes = []string{"coding"}
	f.addAgent("generalist")

	task := f.addTask(t, "t1", "write runbook")
	task.Type = "ops"

	h, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if h.AgentID != "generalist" {
		t.Errorf("selected %s, want generalist", h.AgentID)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "generalist").Completed == 1
	})
}

func TestAvgDurationWeightedAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	f.addTask(t, "t1", "first")
	f.addTask(t, "t2", "second")
	f.stub.Script("t1", &backend.Result{Success: true, Response: "ok", Duration: 10 * time.Second})
	f.stub.Script("t2", &backend.Result{Success: true, Response: "ok", Duration: 30 * time.Second})

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask t1: %v", err)
	}
	waitFor(t, "first run", func() bool { return f.agent(t, "dev-1").Completed == 1 })

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t2"}); err != nil {
		t.Fatalf("ExecuteTask t2: %v", err)
	}
	waitFor(t, "second run", func() bool { return f.agent(t, "dev-1").Completed == 2 })

	if got := f.agent(t, "dev-1").AvgDuration; got != 20*time.Second {
		t.Errorf("avg duration = %s, want 20s", got)
	}
}

func TestBlockTriggerHaltsRun(t *testing.T) {
	f := newFixture(t)
	agent := f.addAgent("dev-1")
	agent.Limiters.CostLimit = 50
	agent.BlockTriggers = []models.BlockTrigger{
		{Condition: "cost_exceeds_limit", Message: "projected spend over cap", RequiresApproval: true},
	}
	task := f.addTask(t, "t1", "expensive job")

	_, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{
		TaskID:  "t1",
		Signals: &persona.Signals{EstimatedCost: 100},
	})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	waitFor(t, "run to block", func() bool {
		return f.agent(t, "dev-1").Blocked == 1
	})

	prog := f.orch.GetTaskProgress("t1")
	if prog.Status != models.ExecutionStatusBlocked {
		t.Errorf("execution status = %s, want blocked", prog.Status)
	}
	if prog.Error != "projected spend over cap" {
		t.Errorf("block reason = %q", prog.Error)
	}
	if task.Status != models.TaskStatusBlocked {
		t.Errorf("task status = %s, want blocked", task.Status)
	}
	if inst := f.agent(t, "dev-1"); inst.Status != models.AgentStatusBlocked {
		t.Errorf("agent status = %s, want blocked", inst.Status)
	}
	if len(f.stub.Calls()) != 0 {
		t.Error("backend was called despite block trigger")
	}
	if got := f.sink.ByEvent(notify.EventTaskBlocked); len(got) != 1 {
		t.Errorf("blocked notifications = %d, want 1", len(got))
	}
}

func TestBlockTriggerWithoutApprovalContinues(t *testing.T) {
	f := newFixture(t)
	agent := f.addAgent("dev-1")
	agent.BlockTriggers = []models.BlockTrigger{
		{Condition: "uncertainty_above_0.5", Message: "shaky ground", RequiresApproval: false},
	}
	f.addTask(t, "t1", "risky job")

	_, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{
		TaskID:  "t1",
		Signals: &persona.Signals{Uncertainty: 0.9},
	})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Completed == 1
	})
	if len(f.stub.Calls()) != 1 {
		t.Errorf("backend calls = %d, want 1", len(f.stub.Calls()))
	}
}

func TestPauseTaskFreesAgent(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	task := f.addTask(t, "t1", "slow job")

	release := make(chan struct{})
	f.stub.Fn = func(context.Context, *models.AgentProfile, *models.Task, backend.Options) (*backend.Result, error) {
		<-release
		return &backend.Result{Success: true, Response: "late"}, nil
	}

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	waitFor(t, "backend in flight", func() bool {
		prog := f.orch.GetTaskProgress("t1")
		return prog != nil && prog.Progress >= 30
	})

	if !f.orch.PauseTask(context.Background(), "t1") {
		t.Fatal("PauseTask returned false for a running task")
	}
	if f.orch.PauseTask(context.Background(), "t1") {
		t.Error("second PauseTask returned true")
	}

	if prog := f.orch.GetTaskProgress("t1"); prog.Status != models.ExecutionStatusBlocked {
		t.Errorf("execution status = %s, want blocked", prog.Status)
	}
	if task.Status != models.TaskStatusBlocked {
		t.Errorf("task status = %s, want blocked", task.Status)
	}
	if inst := f.agent(t, "dev-1"); inst.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle after pause", inst.Status)
	}

	// The in-flight backend call returning must not rewind the pause or
	// double-account the agent.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if prog := f.orch.GetTaskProgress("t1"); prog.Status != models.ExecutionStatusBlocked {
		t.Errorf("execution status after late return = %s, want blocked", prog.Status)
	}
	inst := f.agent(t, "dev-1")
	if inst.Completed != 0 || inst.Failed != 0 {
		t.Errorf("agent metrics changed after late return: %+v", inst)
	}
}

func TestResumeTaskStartsFreshRun(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	task := f.addTask(t, "t1", "flaky job")
	f.stub.Script("t1", &backend.Result{Success: false, Error: "first try failed"})

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	waitFor(t, "first run to fail", func() bool {
		return f.agent(t, "dev-1").Failed == 1
	})

	f.stub.Script("t1", &backend.Result{Success: true, Response: "second try worked"})
	h, err := f.orch.ResumeTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if h.TaskID != "t1" {
		t.Errorf("resumed task = %s", h.TaskID)
	}

	waitFor(t, "second run to settle", func() bool {
		return f.agent(t, "dev-1").Completed == 1
	})
	if task.Status != models.TaskStatusReview {
		t.Errorf("task status = %s, want review", task.Status)
	}
	if got := f.sink.ByEvent(notify.EventTaskUnblocked); len(got) != 1 {
		t.Errorf("unblocked notifications = %d, want 1", len(got))
	}
}

func TestResumeTaskRequiresBlockedStatus(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	f.addTask(t, "t1", "fresh task")

	_, err := f.orch.ResumeTask(context.Background(), "t1")
	if !errors.Is(err, ErrTaskNotBlocked) {
		t.Fatalf("err = %v, want ErrTaskNotBlocked", err)
	}
	_, err = f.orch.ResumeTask(context.Background(), "ghost")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestProcessNextTaskDispatchesFromQueue(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	task := f.addTask(t, "t1", "queued work")
	f.orch.queue.Enqueue(task)

	if !f.orch.ProcessNextTask(context.Background()) {
		t.Fatal("ProcessNextTask did not dispatch")
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Completed == 1
	})
	if f.orch.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0", f.orch.queue.Len())
	}
}

func TestProcessNextTaskIdlesWithoutAgents(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "t1", "queued work")
	f.orch.queue.Enqueue(task)

	if f.orch.ProcessNextTask(context.Background()) {
		t.Error("dispatched with no agents registered")
	}
	if f.orch.queue.Len() != 1 {
		t.Errorf("queue len = %d, want 1", f.orch.queue.Len())
	}
}

func TestProcessNextTaskExhaustsRetries(t *testing.T) {
	f := newFixture(t, queue.WithMaxRetries(1), queue.WithRetryDelay(0))
	f.addAgent("dev-1")
	// Queued but absent from the store, so every dispatch fails.
	f.orch.queue.Enqueue(&models.Task{ID: "ghost", Title: "phantom", Status: models.TaskStatusBacklog})

	if f.orch.ProcessNextTask(context.Background()) {
		t.Error("first tick dispatched a phantom task")
	}
	if f.orch.queue.Len() != 1 {
		t.Fatalf("queue len = %d after first tick, want 1", f.orch.queue.Len())
	}

	if f.orch.ProcessNextTask(context.Background()) {
		t.Error("second tick dispatched a phantom task")
	}
	if f.orch.queue.Len() != 0 {
		t.Errorf("queue len = %d after retries exhausted, want 0", f.orch.queue.Len())
	}
}

func TestInitializeLoadsAgentsAndBacklog(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	if err := st.CreateAgent(ctx, &models.AgentProfile{ID: "dev-1", SquadID: "squad-1", Active: true}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := st.CreateAgent(ctx, &models.AgentProfile{ID: "retired", SquadID: "squad-1", Active: false}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := st.CreateTask(ctx, &models.Task{ID: "t1", SquadID: "squad-1", Title: "seed", Status: models.TaskStatusBacklog}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	o := New(Config{Store: st, Backend: backend.NewStub()})
	if err := o.Initialize(ctx, "squad-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	status := o.GetStatus()
	if status.SquadID != "squad-1" {
		t.Errorf("squad = %s", status.SquadID)
	}
	if len(status.Agents) != 1 || status.Agents[0].ID != "dev-1" {
		t.Errorf("agents = %+v, want only dev-1", status.Agents)
	}
	if status.Queue.Pending != 1 {
		t.Errorf("pending = %d, want 1", status.Queue.Pending)
	}
}

func TestBackendTimeoutFallsBackToConfig(t *testing.T) {
	st := store.NewMemory()
	stub := backend.NewStub()
	var mu sync.Mutex
	var timeouts []time.Duration
	stub.Fn = func(ctx context.Context, profile *models.AgentProfile, task *models.Task, opts backend.Options) (*backend.Result, error) {
		mu.Lock()
		timeouts = append(timeouts, opts.Timeout)
		mu.Unlock()
		return &backend.Result{Success: true, Response: "done"}, nil
	}

	o := New(Config{Store: st, Backend: stub, TaskTimeout: 90 * time.Second})
	ctx := context.Background()
	if err := o.Initialize(ctx, "squad-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	o.RegisterAgent(&models.AgentProfile{ID: "dev-1", SquadID: "squad-1", Active: true})
	for _, id := range []string{"t1", "t2"} {
		if err := st.CreateTask(ctx, &models.Task{ID: id, SquadID: "squad-1", Title: id, Status: models.TaskStatusBacklog}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	settled := func(n int) func() bool {
		return func() bool {
			o.mu.RLock()
			defer o.mu.RUnlock()
			inst := o.agents["dev-1"]
			return inst != nil && inst.Completed == n
		}
	}

	if _, err := o.ExecuteTask(ctx, ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask t1: %v", err)
	}
	waitFor(t, "t1 to settle", settled(1))
	if _, err := o.ExecuteTask(ctx, ExecuteRequest{TaskID: "t2", Timeout: time.Minute}); err != nil {
		t.Fatalf("ExecuteTask t2: %v", err)
	}
	waitFor(t, "t2 to settle", settled(2))

	mu.Lock()
	defer mu.Unlock()
	if len(timeouts) != 2 {
		t.Fatalf("backend calls = %d, want 2", len(timeouts))
	}
	if timeouts[0] != 90*time.Second {
		t.Errorf("default timeout = %s, want 90s", timeouts[0])
	}
	if timeouts[1] != time.Minute {
		t.Errorf("explicit timeout = %s, want 1m", timeouts[1])
	}
}

func TestLoopTrimsExecutionLedger(t *testing.T) {
	st := store.NewMemory()
	o := New(Config{
		Store:        st,
		Backend:      backend.NewStub(),
		TickInterval: 10 * time.Millisecond,
		KeepLast:     1,
	})
	ctx := context.Background()
	if err := o.Initialize(ctx, "squad-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	o.RegisterAgent(&models.AgentProfile{ID: "dev-1", SquadID: "squad-1", Active: true})

	for i, id := range []string{"t1", "t2", "t3"} {
		if err := st.CreateTask(ctx, &models.Task{ID: id, SquadID: "squad-1", Title: id, Status: models.TaskStatusBacklog}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if _, err := o.ExecuteTask(ctx, ExecuteRequest{TaskID: id}); err != nil {
			t.Fatalf("ExecuteTask %s: %v", id, err)
		}
		want := i + 1
		waitFor(t, id+" to settle", func() bool {
			o.mu.RLock()
			defer o.mu.RUnlock()
			inst := o.agents["dev-1"]
			return inst != nil && inst.Completed == want
		})
	}
	if got := o.GetStatus().Queue.Completed; got != 3 {
		t.Fatalf("completed executions before trim = %d, want 3", got)
	}

	o.Start()
	defer o.Stop()
	waitFor(t, "ledger trim", func() bool {
		return o.GetStatus().Queue.Completed == 1
	})
	if o.GetTaskProgress("t3") == nil {
		t.Error("most recent execution was trimmed")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t)
	f.orch.Start()
	f.orch.Start()
	f.orch.Stop()
	f.orch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestUnregisterAgentRemovesFromPool(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	f.orch.UnregisterAgent("dev-1")
	f.orch.UnregisterAgent("dev-1")

	f.addTask(t, "t1", "orphaned work")
	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); !errors.Is(err, ErrNoAvailableAgent) {
		t.Fatalf("err = %v, want ErrNoAvailableAgent", err)
	}
}

func TestEventsStreamCarriesLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addAgent("dev-1")
	f.addTask(t, "t1", "observable work")

	if _, err := f.orch.ExecuteTask(context.Background(), ExecuteRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	waitFor(t, "run to settle", func() bool {
		return f.agent(t, "dev-1").Completed == 1
	})

	seen := map[EventType]bool{}
	for {
		select {
		case ev := <-f.orch.Events():
			seen[ev.Type] = true
			if seen[EventTaskAssigned] && seen[EventTaskStarted] && seen[EventTaskCompleted] {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}
