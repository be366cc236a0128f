package models

import "time"

// AgentStatus represents the current state of a live agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusWorking indicates the agent is executing a task.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusBlocked indicates the agent halted on a block trigger.
	AgentStatusBlocked AgentStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusWorking, AgentStatusBlocked:
		return true
	default:
		return false
	}
}

// AgentRules constrains what an agent may do autonomously.
// Empty lists mean unrestricted for that dimension.
type AgentRules struct {
	// AllowedTaskTypes lists task types this agent can handle.
	AllowedTaskTypes []string `json:"allowed_task_types,omitempty" yaml:"allowed_task_types"`
	// ForbiddenActions lists actions the agent must never take.
	ForbiddenActions []string `json:"forbidden_actions,omitempty" yaml:"forbidden_actions"`
	// ApprovalRequired lists actions that need human sign-off first.
	ApprovalRequired []string `json:"approval_required,omitempty" yaml:"approval_required"`
	// Autonomous indicates the agent may act without step-by-step confirmation.
	Autonomous bool `json:"autonomous" yaml:"autonomous"`
}

// AgentLimiters caps an agent's resource usage per task.
type AgentLimiters struct {
	// MaxDurationMs is the wall-clock cap for a single task run.
	MaxDurationMs int64 `json:"max_duration_ms,omitempty" yaml:"max_duration_ms"`
	// MaxRetries caps how many times a failed task is retried.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries"`
	// MaxTokens caps LLM token usage per run.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens"`
	// CostLimit is the per-run spend cap in dollars.
	CostLimit float64 `json:"cost_limit,omitempty" yaml:"cost_limit"`
}

// BlockTrigger is a named condition that halts autonomous progress.
// Triggers are evaluated in declared order; the first firing trigger wins.
type BlockTrigger struct {
	// Condition is the trigger keyword with an optional trailing threshold,
	// e.g. "uncertainty_above_0.7" or "cost_exceeds_limit".
	Condition string `json:"condition" yaml:"condition"`
	// Message is the human-readable reason shown when the trigger fires.
	Message string `json:"message" yaml:"message"`
	// RequiresApproval indicates the run must stop pending human approval.
	RequiresApproval bool `json:"requires_approval" yaml:"requires_approval"`
}

// AgentProfile is a configured worker identity: persona, rules, limiters
// and block triggers. Profiles live in the store; the orchestrator registers
// them into its live pool and the persona registry.
type AgentProfile struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the display name for this agent.
	Name string `json:"name"`
	// SquadID is the squad this agent belongs to.
	SquadID string `json:"squad_id,omitempty"`
	// Type is the persona template this profile derives from.
	Type string `json:"type,omitempty"`
	// Active indicates the agent may be assigned work.
	Active bool `json:"active"`
	// Persona is the narrative describing how the agent behaves.
	Persona string `json:"persona,omitempty"`
	// Rules constrain what the agent may do.
	Rules AgentRules `json:"rules"`
	// Limiters cap the agent's resource usage.
	Limiters AgentLimiters `json:"limiters"`
	// BlockTriggers are evaluated in order before autonomous execution.
	BlockTriggers []BlockTrigger `json:"block_triggers,omitempty"`
}

// AgentInstance is the runtime view of an agent in the orchestrator pool.
type AgentInstance struct {
	// ID matches the agent profile ID.
	ID string `json:"id"`
	// Status is the current lifecycle state.
	Status AgentStatus `json:"status"`
	// CurrentTaskID is the task being worked on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// Completed counts successfully finished tasks.
	Completed int `json:"completed"`
	// Failed counts failed task runs.
	Failed int `json:"failed"`
	// Blocked counts runs halted by a block trigger.
	Blocked int `json:"blocked"`
	// AvgDuration is the weighted running average of completed run durations.
	AvgDuration time.Duration `json:"avg_duration"`
}

// SuccessRate returns completed/(completed+failed), or 0 with no history.
func (a *AgentInstance) SuccessRate() float64 {
	total := a.Completed + a.Failed
	if total == 0 {
		return 0
	}
	return float64(a.Completed) / float64(total)
}
