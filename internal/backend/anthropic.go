package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// defaultRunTimeout bounds a backend run when the caller supplies none.
const defaultRunTimeout = 5 * time.Minute

// AnthropicConfig contains configuration for creating an Anthropic backend.
type AnthropicConfig struct {
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// MaxTokens caps the response size. Defaults to 8192.
	MaxTokens int64
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// Anthropic is an ExecutionBackend running tasks through the Claude API.
type Anthropic struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic-backed execution backend.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	return &Anthropic{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// ExecuteTask sends the task to the Claude API as a single message exchange
// and reports the outcome. It is called at most once per orchestrator run.
func (a *Anthropic) ExecuteTask(ctx context.Context, profile *models.AgentProfile, task *models.Task, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	if profile.Limiters.MaxDurationMs > 0 {
		if limit := time.Duration(profile.Limiters.MaxDurationMs) * time.Millisecond; limit < timeout {
			timeout = limit
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := a.maxTokens
	if profile.Limiters.MaxTokens > 0 && int64(profile.Limiters.MaxTokens) < maxTokens {
		maxTokens = int64(profile.Limiters.MaxTokens)
	}

	start := time.Now()
	resp, err := a.inner.Messages.New(runCtx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: opts.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(taskPrompt(task))),
		},
	})
	duration := time.Since(start)
	if err != nil {
		return &Result{
			Success:  false,
			Error:    err.Error(),
			Duration: duration,
		}, nil
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return &Result{
		Success:      true,
		Response:     text.String(),
		Duration:     duration,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// taskPrompt renders the user-turn text for a task.
func taskPrompt(task *models.Task) string {
	var b strings.Builder
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(task.Description)
	}
	return b.String()
}
