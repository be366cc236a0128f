package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/pkg/models"
)

var (
	taskTitle       string
	taskDescription string
	taskType        string
	taskPriority    int
	taskListStatus  string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage backlog tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task to the squad backlog",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks by status",
	RunE:  runTaskList,
}

func init() {
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskType, "type", "", "Task type (e.g. coding, research, ops)")
	taskAddCmd.Flags().IntVar(&taskPriority, "priority", 0, "Queue priority; higher runs first")
	taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "backlog", "Status to list (backlog, in_progress, blocked, review, done)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	task := &models.Task{
		ID:          uuid.New().String(),
		SquadID:     cfg.Squad.ID,
		Title:       taskTitle,
		Description: taskDescription,
		Type:        taskType,
		Status:      models.TaskStatusBacklog,
		Priority:    taskPriority,
		CreatedAt:   time.Now(),
	}
	if err := db.CreateTask(context.Background(), task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("task %s added to %s backlog\n", task.ID, cfg.Squad.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	status := models.TaskStatus(taskListStatus)
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", taskListStatus)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tasks, err := db.GetTasksByStatus(context.Background(), cfg.Squad.ID, status)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Printf("no %s tasks\n", status)
		return nil
	}
	for _, task := range tasks {
		line := fmt.Sprintf("%s  p%d  %s", task.ID, task.Priority, task.Title)
		if task.AssignedTo != "" {
			line += "  agent=" + task.AssignedTo
		}
		fmt.Println(line)
	}
	return nil
}
