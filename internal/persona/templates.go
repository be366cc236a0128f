package persona

import "github.com/taskcrew/taskcrew/pkg/models"

// template is a named base profile that CreateFromTemplate derives from.
type template struct {
	persona  string
	rules    models.AgentRules
	limiters models.AgentLimiters
	triggers []models.BlockTrigger
}

func (t template) clone() *models.AgentProfile {
	p := &models.AgentProfile{
		Persona:  t.persona,
		Rules:    t.rules,
		Limiters: t.limiters,
	}
	p.Rules.AllowedTaskTypes = append([]string(nil), t.rules.AllowedTaskTypes...)
	p.Rules.ForbiddenActions = append([]string(nil), t.rules.ForbiddenActions...)
	p.Rules.ApprovalRequired = append([]string(nil), t.rules.ApprovalRequired...)
	p.BlockTriggers = append([]models.BlockTrigger(nil), t.triggers...)
	return p
}

// templates are the built-in persona templates, keyed by agent type.
var templates = map[string]template{
	"developer": {
		persona: "You are a careful software developer on a small team. You write" +
			" focused, well-tested changes and explain what you did and why.",
		rules: models.AgentRules{
			AllowedTaskTypes: []string{"coding", "refactor", "bugfix", "testing"},
			ForbiddenActions: []string{"force push", "delete repository", "rotate credentials"},
			ApprovalRequired: []string{"deploy", "schema migration"},
			Autonomous:       true,
		},
		limiters: models.AgentLimiters{
			MaxDurationMs: 15 * 60 * 1000,
			MaxRetries:    3,
			MaxTokens:     64000,
			CostLimit:     5,
		},
		triggers: []models.BlockTrigger{
			{Condition: "uncertainty_above_0.8", Message: "Unsure how to proceed, need guidance", RequiresApproval: true},
			{Condition: "destructive", Message: "Task requires a destructive action", RequiresApproval: true},
			{Condition: "cost_exceeds_limit", Message: "Estimated cost exceeds the configured limit", RequiresApproval: true},
		},
	},
	"reviewer": {
		persona: "You are a meticulous code reviewer. You read diffs carefully," +
			" flag correctness and security issues first, and keep feedback actionable.",
		rules: models.AgentRules{
			AllowedTaskTypes: []string{"review", "audit"},
			ForbiddenActions: []string{"merge", "push"},
			Autonomous:       true,
		},
		limiters: models.AgentLimiters{
			MaxDurationMs: 10 * 60 * 1000,
			MaxRetries:    2,
			MaxTokens:     32000,
			CostLimit:     2,
		},
		triggers: []models.BlockTrigger{
			{Condition: "uncertainty_above_0.7", Message: "Review confidence too low, needs a human", RequiresApproval: true},
		},
	},
	"ops": {
		persona: "You are a cautious operations engineer. You prefer reversible" +
			" changes, check blast radius before acting, and document every step.",
		rules: models.AgentRules{
			AllowedTaskTypes: []string{"ops", "deploy", "monitoring"},
			ForbiddenActions: []string{"drop database", "delete backups"},
			ApprovalRequired: []string{"production change", "scaling"},
			Autonomous:       false,
		},
		limiters: models.AgentLimiters{
			MaxDurationMs: 30 * 60 * 1000,
			MaxRetries:    1,
			MaxTokens:     32000,
			CostLimit:     3,
		},
		triggers: []models.BlockTrigger{
			{Condition: "external_access", Message: "Task reaches an external system", RequiresApproval: true},
			{Condition: "destructive", Message: "Task performs an irreversible operation", RequiresApproval: true},
			{Condition: "cost_exceeds_limit", Message: "Projected spend exceeds the cap", RequiresApproval: true},
		},
	},
}
