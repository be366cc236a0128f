package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// LoadFile parses and validates a workflow definition from a YAML file.
// A definition without an ID is assigned one.
func LoadFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML workflow definition.
func Parse(data []byte) (*models.Workflow, error) {
	var wf models.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadDir loads every .yaml/.yml workflow in the directory, sorted by
// filename for deterministic ordering.
func LoadDir(dir string) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	workflows := make([]*models.Workflow, 0, len(names))
	for _, name := range names {
		wf, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// Validate checks a workflow definition: a name, at least one step, unique
// step IDs, known step types, and resolvable routing references.
func Validate(wf *models.Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("workflow %s: missing name", wf.ID)
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNoSteps)
	}

	seen := make(map[string]bool, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("workflow %s: step %d has no id", wf.ID, i)
		}
		if seen[step.ID] {
			return fmt.Errorf("workflow %s: duplicate step id %q", wf.ID, step.ID)
		}
		seen[step.ID] = true
		if !step.Type.Valid() {
			return fmt.Errorf("workflow %s: step %s has unknown type %q", wf.ID, step.ID, step.Type)
		}
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		for _, ref := range routingRefs(step) {
			if ref != "" && !seen[ref] {
				return fmt.Errorf("workflow %s: step %s references unknown step %q", wf.ID, step.ID, ref)
			}
		}
	}
	return nil
}

// routingRefs collects every step ID a step can route to.
func routingRefs(step *models.WorkflowStep) []string {
	refs := []string{step.OnSuccess, step.OnFailure}
	if step.Type == models.StepTypeCondition {
		refs = append(refs,
			configString(step.Config, "true_step"),
			configString(step.Config, "false_step"),
		)
	}
	return refs
}
