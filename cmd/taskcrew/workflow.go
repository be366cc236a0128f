package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflow definitions",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a workflow definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflow.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("workflow %q is valid: %d step(s)\n", wf.Name, len(wf.Steps))
		return nil
	},
}

var workflowAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Load a workflow definition into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowAdd,
}

func init() {
	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowAddCmd)
}

func runWorkflowAdd(cmd *cobra.Command, args []string) error {
	wf, err := workflow.LoadFile(args[0])
	if err != nil {
		return err
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

	if wf.SquadID == "" {
		wf.SquadID = cfg.Squad.ID
	}

	ctx := context.Background()
	existing, err := db.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := db.UpdateWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}
		fmt.Printf("workflow %s updated\n", wf.ID)
		return nil
	}
	if err := db.CreateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("store workflow: %w", err)
	}
	fmt.Printf("workflow %s added\n", wf.ID)
	return nil
}
