package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskcrew/taskcrew/pkg/models"
)

const sampleWorkflowYAML = `
id: release
name: release pipeline
squad_id: platform
steps:
  - id: build
    name: build the artifact
    type: agent_task
    config:
      task_id: "{{input.build_task}}"
    on_failure: announce_failure
  - id: check
    type: condition
    config:
      expression: results.build.result contains ok
      true_step: announce_success
      false_step: announce_failure
  - id: announce_success
    type: notify
    config:
      message: "release built"
  - id: announce_failure
    type: notify
    config:
      message: "release failed"
`

func TestParseWorkflow(t *testing.T) {
	wf, err := Parse([]byte(sampleWorkflowYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if wf.ID != "release" || wf.Name != "release pipeline" || wf.SquadID != "platform" {
		t.Errorf("header = %q %q %q", wf.ID, wf.Name, wf.SquadID)
	}
	if len(wf.Steps) != 4 {
		t.Fatalf("steps = %d", len(wf.Steps))
	}
	if wf.Steps[0].Type != models.StepTypeAgentTask || wf.Steps[0].OnFailure != "announce_failure" {
		t.Errorf("step 0 = %+v", wf.Steps[0])
	}
	if got := wf.Steps[1].Config["true_step"]; got != "announce_success" {
		t.Errorf("true_step = %v", got)
	}
}

func TestParseAssignsMissingID(t *testing.T) {
	wf, err := Parse([]byte("name: anon\nsteps:\n  - id: only\n    type: wait\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if wf.ID == "" {
		t.Error("missing ID was not assigned")
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no name",
			yaml: "steps:\n  - id: a\n    type: wait\n",
			want: "missing name",
		},
		{
			name: "no steps",
			yaml: "name: empty\n",
			want: "no steps",
		},
		{
			name: "duplicate step id",
			yaml: "name: dup\nsteps:\n  - id: a\n    type: wait\n  - id: a\n    type: wait\n",
			want: "duplicate step id",
		},
		{
			name: "unknown type",
			yaml: "name: bad\nsteps:\n  - id: a\n    type: teleport\n",
			want: "unknown type",
		},
		{
			name: "dangling on_success",
			yaml: "name: dangle\nsteps:\n  - id: a\n    type: wait\n    on_success: ghost\n",
			want: "unknown step",
		},
		{
			name: "dangling condition branch",
			yaml: "name: dangle\nsteps:\n  - id: a\n    type: condition\n    config:\n      expression: x\n      true_step: ghost\n",
			want: "unknown step",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadDirSortsByFilename(t *testing.T) {
	dir := t.TempDir()
	write := func(name, id string) {
		content := "id: " + id + "\nname: " + id + "\nsteps:\n  - id: only\n    type: wait\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("20-second.yaml", "second")
	write("10-first.yml", "first")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	workflows, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(workflows) != 2 {
		t.Fatalf("loaded %d workflows", len(workflows))
	}
	if workflows[0].ID != "first" || workflows[1].ID != "second" {
		t.Errorf("order = %s, %s", workflows[0].ID, workflows[1].ID)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
