package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/internal/config"
	"github.com/taskcrew/taskcrew/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskcrew",
	Short: "Autonomous agent squads for a shared task backlog",
	Long: `Taskcrew coordinates a squad of AI agent workers against a shared
task backlog.

Tasks are queued by priority, assigned to the best available agent, and
executed through the Claude API. Agents carry personas with rules, resource
limits and block triggers that halt risky work for human approval. Declarative
workflows chain agent tasks with conditions, waits and notifications.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config search)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honors the --config flag, falling back to the standard search.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// openStore opens the SQLite store at the configured or default path.
func openStore(cfg *config.Config) (*store.DB, error) {
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dbPath, err)
	}
	return db, nil
}
