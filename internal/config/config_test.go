package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
squad:
  id: platform
anthropic:
  model: claude-sonnet-4-20250514
  max_tokens: 4096
queue:
  max_retries: 5
  retry_delay: 30s
orchestrator:
  tick_interval: 2s
discord:
  token: abc123
  channels:
    platform: "111222333"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Squad.ID != "platform" {
		t.Errorf("squad id = %q", cfg.Squad.ID)
	}
	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.MaxTokens != 4096 {
		t.Errorf("max tokens = %d", cfg.Anthropic.MaxTokens)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.RetryDelay != 30*time.Second {
		t.Errorf("retry delay = %s", cfg.Queue.RetryDelay)
	}
	if cfg.Orchestrator.TickInterval != 2*time.Second {
		t.Errorf("tick interval = %s", cfg.Orchestrator.TickInterval)
	}
	if cfg.Discord.Channels["platform"] != "111222333" {
		t.Errorf("channels = %v", cfg.Discord.Channels)
	}
}

func TestLoadFromPathDefaults(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, "squad:\n  id: ops\n"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("max retries = %d, want default 3", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.RetryDelay != 60*time.Second {
		t.Errorf("retry delay = %s, want default 60s", cfg.Queue.RetryDelay)
	}
	if cfg.Queue.KeepLast != 50 {
		t.Errorf("keep last = %d, want default 50", cfg.Queue.KeepLast)
	}
	if cfg.Orchestrator.TickInterval != 10*time.Second {
		t.Errorf("tick interval = %s, want default 10s", cfg.Orchestrator.TickInterval)
	}
	if cfg.Workflow.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s, want default 2s", cfg.Workflow.PollInterval)
	}
	if cfg.Workflow.StepTimeout != 5*time.Minute {
		t.Errorf("step timeout = %s, want default 5m", cfg.Workflow.StepTimeout)
	}
}

func TestSecretExpansion(t *testing.T) {
	t.Setenv("TEST_TASKCREW_KEY", "sk-expanded")
	cfg, err := LoadFromPath(writeConfig(t, "anthropic:\n  api_key: ${TEST_TASKCREW_KEY}\n"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-expanded" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestDefaultMatchesSetDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Queue.MaxRetries != 3 || cfg.Queue.RetryDelay != 60*time.Second || cfg.Queue.KeepLast != 50 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Orchestrator.TickInterval != 10*time.Second || cfg.Orchestrator.TaskTimeout != 5*time.Minute {
		t.Errorf("orchestrator defaults = %+v", cfg.Orchestrator)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "squad:\n  id: before\n")

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("squad:\n  id: after\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Squad.ID != "after" {
			t.Errorf("reloaded squad id = %q", cfg.Squad.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}
