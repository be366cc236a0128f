package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskcrew/taskcrew/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskcrew version %s\n", version.Get())
	},
}
