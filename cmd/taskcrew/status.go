package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show squad state from the store",
	Long: `Display the stored state of the configured squad: registered agents
and task counts per status. Live execution progress is only visible inside a
running serve process.`,
	RunE: runStatus,
}

var taskStatuses = []models.TaskStatus{
	models.TaskStatusBacklog,
	models.TaskStatusInProgress,
	models.TaskStatusBlocked,
	models.TaskStatusReview,
	models.TaskStatusDone,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	bold := color.New(color.Bold)

	bold.Printf("Squad: %s\n\n", cfg.Squad.ID)

	agents, err := db.GetActiveAgents(ctx, cfg.Squad.ID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	bold.Printf("Agents (%d active)\n", len(agents))
	for _, a := range agents {
		fmt.Printf("  %-24s %-12s", a.Name, a.Type)
		if len(a.Rules.AllowedTaskTypes) > 0 {
			fmt.Printf(" handles: %v", a.Rules.AllowedTaskTypes)
		}
		fmt.Println()
	}
	if len(agents) == 0 {
		fmt.Println("  none; add one with 'taskcrew agent add'")
	}
	fmt.Println()

	bold.Println("Tasks")
	for _, status := range taskStatuses {
		tasks, err := db.GetTasksByStatus(ctx, cfg.Squad.ID, status)
		if err != nil {
			return fmt.Errorf("list %s tasks: %w", status, err)
		}
		label := fmt.Sprintf("  %-12s %d", status, len(tasks))
		switch status {
		case models.TaskStatusBlocked:
			if len(tasks) > 0 {
				color.Yellow("%s", label)
			} else {
				fmt.Println(label)
			}
		case models.TaskStatusDone:
			color.Green("%s", label)
		default:
			fmt.Println(label)
		}
		for _, task := range tasks {
			line := fmt.Sprintf("    - %s (%s)", task.Title, task.ID)
			if task.AssignedTo != "" {
				line += " agent=" + task.AssignedTo
			}
			if task.BlockedReason != "" {
				line += " reason=" + task.BlockedReason
			}
			fmt.Println(line)
		}
	}
	return nil
}
