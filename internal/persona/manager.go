// Package persona manages agent behavioral profiles: the registry, the
// deterministic system-prompt builder, rule gating checks, and block-trigger
// evaluation.
package persona

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// ErrUnknownTemplate indicates CreateFromTemplate was given a template name
// that is not registered.
var ErrUnknownTemplate = errors.New("unknown persona template")

// defaultThreshold is used when a numeric trigger condition carries no
// trailing threshold literal.
const defaultThreshold = 0.8

// Signals is the runtime snapshot block triggers are evaluated against.
type Signals struct {
	// Uncertainty is the agent's self-reported uncertainty, 0-1.
	Uncertainty float64
	// ExternalAccess indicates the task would reach outside the sandbox.
	ExternalAccess bool
	// Destructive indicates the task would perform irreversible actions.
	Destructive bool
	// EstimatedCost is the projected spend for the run, in dollars.
	EstimatedCost float64
	// CostLimit is the agent's spend cap, in dollars.
	CostLimit float64
}

// Manager is the registry of agent behavioral profiles.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]*models.AgentProfile
	order    []string
}

// NewManager creates an empty persona registry.
func NewManager() *Manager {
	return &Manager{
		profiles: make(map[string]*models.AgentProfile),
	}
}

// Register adds or replaces a profile keyed by its ID.
func (m *Manager) Register(p *models.AgentProfile) {
	if p == nil || p.ID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.profiles[p.ID] = p
}

// Unregister removes the profile. Unknown IDs are a no-op.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return
	}
	delete(m.profiles, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the profile by ID, or nil.
func (m *Manager) Get(id string) *models.AgentProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profiles[id]
}

// GetAll returns all registered profiles in registration order.
func (m *Manager) GetAll() []*models.AgentProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AgentProfile, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.profiles[id])
	}
	return out
}

// Overrides customizes a template when deriving a profile.
// Rule and limiter fields merge key-by-key: only set fields replace the
// template's values. BlockTriggers, when non-nil, replaces the template's
// trigger list wholesale.
type Overrides struct {
	Persona          *string
	AllowedTaskTypes []string
	ForbiddenActions []string
	ApprovalRequired []string
	Autonomous       *bool
	MaxDurationMs    *int64
	MaxRetries       *int
	MaxTokens        *int
	CostLimit        *float64
	BlockTriggers    []models.BlockTrigger
}

// CreateFromTemplate derives a profile from a named template, applies the
// overrides, registers the result, and returns it.
func (m *Manager) CreateFromTemplate(name, agentType, squadID string, overrides *Overrides) (*models.AgentProfile, error) {
	tmpl, ok := templates[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, agentType)
	}

	p := tmpl.clone()
	p.ID = profileID(name, squadID)
	p.Name = name
	p.Type = agentType
	p.SquadID = squadID
	p.Active = true

	if overrides != nil {
		if overrides.Persona != nil {
			p.Persona = *overrides.Persona
		}
		if overrides.AllowedTaskTypes != nil {
			p.Rules.AllowedTaskTypes = overrides.AllowedTaskTypes
		}
		if overrides.ForbiddenActions != nil {
			p.Rules.ForbiddenActions = overrides.ForbiddenActions
		}
		if overrides.ApprovalRequired != nil {
			p.Rules.ApprovalRequired = overrides.ApprovalRequired
		}
		if overrides.Autonomous != nil {
			p.Rules.Autonomous = *overrides.Autonomous
		}
		if overrides.MaxDurationMs != nil {
			p.Limiters.MaxDurationMs = *overrides.MaxDurationMs
		}
		if overrides.MaxRetries != nil {
			p.Limiters.MaxRetries = *overrides.MaxRetries
		}
		if overrides.MaxTokens != nil {
			p.Limiters.MaxTokens = *overrides.MaxTokens
		}
		if overrides.CostLimit != nil {
			p.Limiters.CostLimit = *overrides.CostLimit
		}
		if overrides.BlockTriggers != nil {
			p.BlockTriggers = append([]models.BlockTrigger(nil), overrides.BlockTriggers...)
		}
	}

	m.Register(p)
	return p, nil
}

func profileID(name, squadID string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	if squadID == "" {
		return slug
	}
	return squadID + "/" + slug
}

// BuildSystemPrompt assembles the instruction text for the execution backend.
// The output is a pure function of (profile, taskContext): persona narrative,
// rules, limiters, block triggers, then the optional task context, always in
// that order. Callers rely on byte-identical output for identical inputs.
func (m *Manager) BuildSystemPrompt(p *models.AgentProfile, taskContext string) string {
	var b strings.Builder

	if p.Persona != "" {
		b.WriteString(p.Persona)
		b.WriteString("\n\n")
	}

	b.WriteString("## Rules\n")
	if len(p.Rules.AllowedTaskTypes) > 0 {
		b.WriteString("- Allowed task types: ")
		b.WriteString(strings.Join(p.Rules.AllowedTaskTypes, ", "))
		b.WriteString("\n")
	}
	if len(p.Rules.ForbiddenActions) > 0 {
		b.WriteString("- Forbidden actions: ")
		b.WriteString(strings.Join(p.Rules.ForbiddenActions, ", "))
		b.WriteString("\n")
	}
	if len(p.Rules.ApprovalRequired) > 0 {
		b.WriteString("- Actions requiring approval: ")
		b.WriteString(strings.Join(p.Rules.ApprovalRequired, ", "))
		b.WriteString("\n")
	}
	if p.Rules.Autonomous {
		b.WriteString("- You may act autonomously within these rules.\n")
	} else {
		b.WriteString("- Confirm each significant step before acting.\n")
	}

	b.WriteString("\n## Limits\n")
	if p.Limiters.MaxDurationMs > 0 {
		fmt.Fprintf(&b, "- Max duration: %dms\n", p.Limiters.MaxDurationMs)
	}
	if p.Limiters.MaxRetries > 0 {
		fmt.Fprintf(&b, "- Max retries: %d\n", p.Limiters.MaxRetries)
	}
	if p.Limiters.MaxTokens > 0 {
		fmt.Fprintf(&b, "- Max tokens: %d\n", p.Limiters.MaxTokens)
	}
	if p.Limiters.CostLimit > 0 {
		fmt.Fprintf(&b, "- Cost limit: $%.2f\n", p.Limiters.CostLimit)
	}

	if len(p.BlockTriggers) > 0 {
		b.WriteString("\n## Stop and ask for help when\n")
		for _, trig := range p.BlockTriggers {
			fmt.Fprintf(&b, "- %s: %s\n", trig.Condition, trig.Message)
		}
	}

	if taskContext != "" {
		b.WriteString("\n## Task\n")
		b.WriteString(taskContext)
		b.WriteString("\n")
	}

	return b.String()
}

// CanHandleTaskType reports whether the profile may take on the task type.
// An empty allowed list means unrestricted. Matching is case-insensitive
// substring in either direction.
func (m *Manager) CanHandleTaskType(p *models.AgentProfile, taskType string) bool {
	if len(p.Rules.AllowedTaskTypes) == 0 {
		return true
	}
	return listMatches(p.Rules.AllowedTaskTypes, taskType)
}

// RequiresApproval reports whether the action needs human sign-off.
// An empty list means no action requires approval.
func (m *Manager) RequiresApproval(p *models.AgentProfile, action string) bool {
	return listMatches(p.Rules.ApprovalRequired, action)
}

// IsForbidden reports whether the action is forbidden for the profile.
// An empty list forbids nothing.
func (m *Manager) IsForbidden(p *models.AgentProfile, action string) bool {
	return listMatches(p.Rules.ForbiddenActions, action)
}

// listMatches reports whether value matches any list entry by
// case-insensitive substring in either direction.
func listMatches(list []string, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, item := range list {
		it := strings.ToLower(strings.TrimSpace(item))
		if it == "" {
			continue
		}
		if strings.Contains(v, it) || strings.Contains(it, v) {
			return true
		}
	}
	return false
}

// CheckBlockTriggers evaluates the profile's triggers in declared order
// against the signal snapshot and returns the first trigger that fires,
// or nil if none do.
//
// Condition keywords: uncertainty, external_access, destructive, cost.
// Numeric threshold conditions may carry a trailing float literal
// ("uncertainty_above_0.7"); absent one, the threshold defaults to 0.8.
func (m *Manager) CheckBlockTriggers(p *models.AgentProfile, sig Signals) *models.BlockTrigger {
	for i := range p.BlockTriggers {
		trig := &p.BlockTriggers[i]
		cond := strings.ToLower(trig.Condition)
		switch {
		case strings.Contains(cond, "uncertainty"):
			if sig.Uncertainty > trailingThreshold(cond) {
				return trig
			}
		case strings.Contains(cond, "external_access"):
			if sig.ExternalAccess {
				return trig
			}
		case strings.Contains(cond, "destructive"):
			if sig.Destructive {
				return trig
			}
		case strings.Contains(cond, "cost"):
			limit := sig.CostLimit
			if limit == 0 {
				limit = trailingThreshold(cond)
			}
			if sig.EstimatedCost > limit {
				return trig
			}
		}
	}
	return nil
}

// trailingThreshold parses a trailing floating-point literal from a trigger
// condition, e.g. "uncertainty_above_0.7" yields 0.7. Conditions without one
// fall back to defaultThreshold.
func trailingThreshold(cond string) float64 {
	end := len(cond)
	start := end
	for start > 0 {
		c := cond[start-1]
		if (c >= '0' && c <= '9') || c == '.' {
			start--
			continue
		}
		break
	}
	if start == end {
		return defaultThreshold
	}
	v, err := strconv.ParseFloat(strings.Trim(cond[start:end], "."), 64)
	if err != nil {
		return defaultThreshold
	}
	return v
}

// TemplateNames returns the registered template names sorted alphabetically.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
