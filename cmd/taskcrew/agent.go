package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/internal/persona"
)

var (
	agentName     string
	agentTemplate string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage squad agents",
}

var agentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an agent from a persona template",
	RunE:  runAgentAdd,
}

var agentTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available persona templates",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(strings.Join(persona.TemplateNames(), "\n"))
	},
}

func init() {
	agentAddCmd.Flags().StringVar(&agentName, "name", "", "Agent display name (required)")
	agentAddCmd.Flags().StringVar(&agentTemplate, "template", "developer", "Persona template to derive from")
	agentAddCmd.MarkFlagRequired("name")

	agentCmd.AddCommand(agentAddCmd)
	agentCmd.AddCommand(agentTemplatesCmd)
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	profile, err := persona.NewManager().CreateFromTemplate(agentName, agentTemplate, cfg.Squad.ID, nil)
	if err != nil {
		return err
	}
	if err := db.CreateAgent(context.Background(), profile); err != nil {
		return fmt.Errorf("store agent: %w", err)
	}
	fmt.Printf("agent %s created from %s template\n", profile.ID, agentTemplate)
	return nil
}
