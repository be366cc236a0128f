package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/internal/backend"
	"github.com/taskcrew/taskcrew/internal/config"
	"github.com/taskcrew/taskcrew/internal/notify"
	"github.com/taskcrew/taskcrew/internal/orchestrator"
	"github.com/taskcrew/taskcrew/internal/queue"
	"github.com/taskcrew/taskcrew/internal/store"
	"github.com/taskcrew/taskcrew/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the squad orchestrator",
	Long: `Start the orchestrator for the configured squad.

Loads the squad's active agents and backlog from the store, dispatches
queued tasks to agents on a fixed tick, and keeps running until interrupted.
Workflow definitions from the configured workflows directory are loaded into
the store at startup.`,
	RunE: runServe,
}

const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := orchestrator.NewDebugLogger(cfg.Logging.DebugLog)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	be, err := backend.NewAnthropic(backend.AnthropicConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create execution backend: %w", err)
	}

	var sink notify.Sink
	if cfg.Discord.Token != "" {
		discord, err := notify.NewDiscord(cfg.Discord.Token, cfg.Discord.Channels, cfg.Discord.DefaultChannel)
		if err != nil {
			return fmt.Errorf("connect discord: %w", err)
		}
		defer discord.Close()
		sink = discord
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:   db,
		Backend: be,
		Sink:    sink,
		Queue: queue.New(
			queue.WithMaxRetries(cfg.Queue.MaxRetries),
			queue.WithRetryDelay(cfg.Queue.RetryDelay),
		),
		Logger:       logger,
		TickInterval: cfg.Orchestrator.TickInterval,
		TaskTimeout:  cfg.Orchestrator.TaskTimeout,
		KeepLast:     cfg.Queue.KeepLast,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Initialize(ctx, cfg.Squad.ID); err != nil {
		return fmt.Errorf("initialize squad %s: %w", cfg.Squad.ID, err)
	}

	engine := workflow.NewEngine(workflow.Config{
		Store:        db,
		Runner:       orch,
		Sink:         sink,
		PollInterval: cfg.Workflow.PollInterval,
		StepTimeout:  cfg.Workflow.StepTimeout,
	})

	if cfg.Squad.WorkflowsDir != "" {
		n, err := loadWorkflows(ctx, cfg.Squad.WorkflowsDir, db)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d workflow(s) from %s\n", n, cfg.Squad.WorkflowsDir)
	}

	go printEvents(orch)

	if configPath != "" {
		watcher, err := config.Watch(configPath, func(fresh *config.Config) {
			color.Yellow("config file changed; restart to apply new settings")
		}, func(err error) {
			color.Red("config reload failed: %v", err)
		})
		if err == nil {
			defer watcher.Close()
		}
	}

	orch.Start()
	status := orch.GetStatus()
	fmt.Printf("taskcrew serving squad %s: %d agent(s), %d task(s) pending\n",
		cfg.Squad.ID, len(status.Agents), status.Queue.Pending)

	<-ctx.Done()
	fmt.Println("\nshutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		return err
	}
	engine.Wait()
	return nil
}

// loadWorkflows upserts every workflow definition in dir into the store.
func loadWorkflows(ctx context.Context, dir string, db store.WorkflowStore) (int, error) {
	defs, err := workflow.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, wf := range defs {
		existing, err := db.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			err = db.UpdateWorkflow(ctx, wf)
		} else {
			err = db.CreateWorkflow(ctx, wf)
		}
		if err != nil {
			return 0, fmt.Errorf("store workflow %s: %w", wf.ID, err)
		}
	}
	return len(defs), nil
}

// printEvents renders the orchestrator event stream to stdout.
func printEvents(orch *orchestrator.Orchestrator) {
	for ev := range orch.Events() {
		line := fmt.Sprintf("[%s] %s", ev.Timestamp.Format("15:04:05"), ev.Type)
		if ev.TaskTitle != "" {
			line += " " + ev.TaskTitle
		}
		if ev.AgentID != "" {
			line += " agent=" + ev.AgentID
		}
		if ev.Duration > 0 {
			line += " in " + ev.Duration.Round(time.Millisecond).String()
		}
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}

		switch ev.Type {
		case orchestrator.EventTaskCompleted:
			color.Green("%s", line)
		case orchestrator.EventExecutionError:
			color.Red("%s", line)
		case orchestrator.EventTaskBlocked:
			color.Yellow("%s", line)
		case orchestrator.EventTaskUnblocked:
			color.Cyan("%s", line)
		default:
			fmt.Fprintln(os.Stdout, line)
		}
	}
}
