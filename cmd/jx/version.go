package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jirametrics/jx/internal/storage/sqlite"
)

var (
	// Version is the current version of jx (overridden by ldflags at build time)
	Version = "0.4.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{
				"version":        Version,
				"build":          Build,
				"schema_version": sqlite.CurrentSchemaVersion,
			})
		} else {
			fmt.Printf("jx version %s (%s), database schema %s\n", Version, Build, sqlite.CurrentSchemaVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
