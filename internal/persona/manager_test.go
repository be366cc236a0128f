package persona

import (
	"strings"
	"testing"

	"github.com/taskcrew/taskcrew/pkg/models"
)

func profile() *models.AgentProfile {
	return &models.AgentProfile{
		ID:      "sq1/dev-1",
		Name:    "dev-1",
		Active:  true,
		Persona: "You are a careful developer.",
		Rules: models.AgentRules{
			AllowedTaskTypes: []string{"coding", "review"},
			ForbiddenActions: []string{"force push"},
			ApprovalRequired: []string{"deploy"},
			Autonomous:       true,
		},
		Limiters: models.AgentLimiters{
			MaxRetries: 3,
			MaxTokens:  1000,
			CostLimit:  50,
		},
		BlockTriggers: []models.BlockTrigger{
			{Condition: "uncertainty_above_0.7", Message: "too unsure", RequiresApproval: true},
			{Condition: "cost_exceeds_limit", Message: "too expensive", RequiresApproval: true},
		},
	}
}

func TestRegistry(t *testing.T) {
	m := NewManager()
	p := profile()

	m.Register(p)
	if got := m.Get(p.ID); got != p {
		t.Fatalf("expected registered profile back, got %v", got)
	}
	if got := len(m.GetAll()); got != 1 {
		t.Fatalf("expected 1 profile, got %d", got)
	}

	m.Unregister(p.ID)
	if m.Get(p.ID) != nil {
		t.Error("expected profile removed")
	}
	// Unknown IDs are a no-op.
	m.Unregister("missing")
}

func TestCreateFromTemplate(t *testing.T) {
	m := NewManager()

	auto := false
	cost := 9.5
	p, err := m.CreateFromTemplate("Dev One", "developer", "sq1", &Overrides{
		Autonomous: &auto,
		CostLimit:  &cost,
		BlockTriggers: []models.BlockTrigger{
			{Condition: "destructive", Message: "custom", RequiresApproval: true},
		},
	})
	if err != nil {
		t.Fatalf("CreateFromTemplate: %v", err)
	}

	if p.ID != "sq1/dev-one" {
		t.Errorf("unexpected profile id %q", p.ID)
	}
	if p.Rules.Autonomous {
		t.Error("expected autonomy override applied")
	}
	if p.Limiters.CostLimit != 9.5 {
		t.Errorf("expected cost limit override, got %v", p.Limiters.CostLimit)
	}
	// Unset limiter fields keep template values.
	if p.Limiters.MaxRetries != 3 {
		t.Errorf("expected template max retries kept, got %d", p.Limiters.MaxRetries)
	}
	// Trigger list is replaced wholesale.
	if len(p.BlockTriggers) != 1 || p.BlockTriggers[0].Condition != "destructive" {
		t.Errorf("expected trigger list replaced, got %v", p.BlockTriggers)
	}
	if m.Get(p.ID) == nil {
		t.Error("expected derived profile registered")
	}

	if _, err := m.CreateFromTemplate("x", "no-such-type", "sq1", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	m := NewManager()
	p := profile()

	first := m.BuildSystemPrompt(p, "Fix the login bug")
	for i := 0; i < 5; i++ {
		if got := m.BuildSystemPrompt(p, "Fix the login bug"); got != first {
			t.Fatalf("prompt not deterministic:\n%q\nvs\n%q", first, got)
		}
	}

	// Fixed section order: persona, rules, limits, triggers, task context.
	idxPersona := strings.Index(first, "careful developer")
	idxRules := strings.Index(first, "## Rules")
	idxLimits := strings.Index(first, "## Limits")
	idxTriggers := strings.Index(first, "## Stop and ask")
	idxTask := strings.Index(first, "## Task")
	if !(idxPersona < idxRules && idxRules < idxLimits && idxLimits < idxTriggers && idxTriggers < idxTask) {
		t.Errorf("sections out of order in prompt:\n%s", first)
	}

	// Omitting task context drops only the task section.
	without := m.BuildSystemPrompt(p, "")
	if strings.Contains(without, "## Task") {
		t.Error("expected no task section without context")
	}
}

func TestGatingChecks(t *testing.T) {
	m := NewManager()
	p := profile()

	if !m.CanHandleTaskType(p, "Coding") {
		t.Error("expected case-insensitive allowed match")
	}
	if !m.CanHandleTaskType(p, "code review") {
		t.Error("expected substring match against allowed list")
	}
	if m.CanHandleTaskType(p, "ops") {
		t.Error("expected unlisted task type rejected")
	}

	unrestricted := &models.AgentProfile{}
	if !m.CanHandleTaskType(unrestricted, "anything") {
		t.Error("expected empty allowed list to mean unrestricted")
	}
	if m.RequiresApproval(unrestricted, "deploy") {
		t.Error("expected empty approval list to require nothing")
	}
	if m.IsForbidden(unrestricted, "force push") {
		t.Error("expected empty forbidden list to block nothing")
	}

	if !m.RequiresApproval(p, "Deploy to staging") {
		t.Error("expected deploy to require approval")
	}
	if !m.IsForbidden(p, "FORCE PUSH to main") {
		t.Error("expected force push forbidden")
	}
	if m.IsForbidden(p, "pull") {
		t.Error("expected unrelated action allowed")
	}
}

func TestCheckBlockTriggersOrderAndThresholds(t *testing.T) {
	m := NewManager()
	p := profile()

	// Nothing fires on a quiet snapshot.
	if got := m.CheckBlockTriggers(p, Signals{Uncertainty: 0.2}); got != nil {
		t.Fatalf("expected no trigger, got %v", got)
	}

	// Trailing literal in the condition overrides the 0.8 default.
	got := m.CheckBlockTriggers(p, Signals{Uncertainty: 0.75})
	if got == nil || got.Message != "too unsure" {
		t.Fatalf("expected uncertainty trigger at 0.7 threshold, got %v", got)
	}

	// Cost trigger compares estimated cost against the cost limit signal.
	got = m.CheckBlockTriggers(p, Signals{EstimatedCost: 100, CostLimit: 50})
	if got == nil || got.Message != "too expensive" {
		t.Fatalf("expected cost trigger, got %v", got)
	}
	if got := m.CheckBlockTriggers(p, Signals{EstimatedCost: 40, CostLimit: 50}); got != nil {
		t.Fatalf("expected no cost trigger under the limit, got %v", got)
	}

	// Declared order wins when several triggers would fire.
	got = m.CheckBlockTriggers(p, Signals{Uncertainty: 0.9, EstimatedCost: 100, CostLimit: 50})
	if got == nil || got.Message != "too unsure" {
		t.Fatalf("expected first declared trigger, got %v", got)
	}
}

func TestTrailingThreshold(t *testing.T) {
	cases := []struct {
		cond string
		want float64
	}{
		{"uncertainty_above_0.7", 0.7},
		{"uncertainty_above_0.25", 0.25},
		{"uncertainty", defaultThreshold},
		{"uncertainty_high", defaultThreshold},
	}
	for _, tc := range cases {
		if got := trailingThreshold(tc.cond); got != tc.want {
			t.Errorf("trailingThreshold(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}
