package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jirametrics/jx"
	"github.com/jirametrics/jx/internal/config"
	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/extract"
	"github.com/jirametrics/jx/internal/jira"
	"github.com/jirametrics/jx/internal/sink"
	"github.com/jirametrics/jx/internal/storage"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the issues of every matching version",
	Long: `Enumerate the versions of each manifest project that match its regex_version,
then extract the issues of every version with a pool of workers into the output
selected by the manifest.

Examples:
  jx extract                       # All manifest projects
  jx extract --project "My Project" # One project
  jx extract -w 8 --json           # Eight workers, JSON report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, _ := cmd.Flags().GetStringSlice("project")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Projects = projects

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := extract.NewRunner(*cfg, logger).Run(ctx)
		if report != nil {
			if jsonOutput {
				outputJSON(report)
			} else {
				printReport(report)
			}
		}
		if err != nil {
			return err
		}
		if !report.OK() {
			// Report already printed; exit without cobra's error line.
			closeLog()
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringSliceP("project", "p", nil, "Manifest project to extract (repeatable; default: all)")
	rootCmd.AddCommand(extractCmd)
}

// loadConfig reads the manifest and the files it points at and applies the
// runtime settings.
func loadConfig() (*extract.Config, error) {
	cfg, err := jx.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	links, err := storage.ParseLinkMode(linkMode)
	if err != nil {
		return nil, err
	}

	if cfg.Manifest.OutputMode() == configfile.OutputSQLite {
		if missing := cfg.Mapping.Missing(sink.RelationalColumns); len(missing) > 0 {
			logger.Debug("mapping leaves relational columns empty", "columns", missing)
		}
	}

	cfg.Workers = workers
	cfg.Jira = jira.Options{
		Timeout:  config.GetDuration("jira-timeout"),
		PageSize: config.GetInt("page-size"),
	}
	cfg.Sink = sink.Options{
		Links:   links,
		Retries: config.GetInt("db-retries"),
		Backoff: config.GetDuration("db-retry-backoff"),
	}
	return cfg, nil
}

func closeLog() {
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

func printReport(r *extract.Report) {
	bold := color.New(color.Bold)
	fmt.Println()
	bold.Printf("Extraction %s\n", r.RunID)
	fmt.Printf("  Output:    %s\n", r.Output)
	fmt.Printf("  Workers:   %d (%d started)\n", r.Workers, r.WorkersStarted)
	fmt.Printf("  Versions:  %d enqueued, %d processed, %d failed, %d unprocessed\n",
		r.Enqueued, r.Processed, r.Failed, r.Unprocessed)
	fmt.Printf("  Issues:    %d fetched, %d stored\n", r.Fetched, r.Stored)
	fmt.Printf("  Sprints:   %d fetched\n", r.SprintsFetched)
	fmt.Printf("  Duration:  %s\n", r.Duration.Round(time.Millisecond))

	if failed := r.FailedResults(); len(failed) > 0 {
		fmt.Println()
		for _, res := range failed {
			color.Red("✗ %s %s: %s\n", res.Task.Project, res.Task.Version, res.Error)
		}
	}
	for _, e := range r.Errors {
		color.Yellow("⚠ %s\n", e)
	}

	fmt.Println()
	if r.OK() {
		color.Green("✓ Extraction complete\n")
	} else {
		color.Red("✗ Extraction incomplete\n")
	}
}
