package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jirametrics/jx/internal/extract"
)

var versionsCmd = &cobra.Command{
	Use:   "versions [project...]",
	Short: "List the versions an extraction would process",
	Long: `Enumerate the matching versions of manifest projects and print the JQL each
task would run. Nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Projects = args

		listing, err := extract.NewRunner(*cfg, logger).ListVersions(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(listing)
			return nil
		}

		for _, pv := range listing {
			color.New(color.Bold).Printf("%s", pv.Project)
			fmt.Printf("  (pattern %q)\n", pv.Pattern)
			if pv.Error != "" {
				color.Red("  ✗ %s\n", pv.Error)
				continue
			}
			if len(pv.Versions) == 0 {
				fmt.Println("  no matching versions")
				continue
			}
			for i, v := range pv.Versions {
				fmt.Printf("  %-20s %s\n", v, color.New(color.Faint).Sprint(pv.JQL[i]))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
