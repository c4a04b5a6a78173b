package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jirametrics/jx/internal/config"
	"github.com/jirametrics/jx/internal/logging"
)

var (
	manifestPath string
	workers      int
	logFile      string
	logLevel     string
	verbose      bool
	jsonOutput   bool
	linkMode     string

	logger    = logging.Discard()
	logCloser io.Closer
)

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest file (default: manifest.json)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Number of extraction workers (default: 4)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Rotating log file (default: logs/jx.log)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Mirror log records to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&linkMode, "links", "", "Association writes: reconcile or append")

	// Add --version flag to root command (same behavior as version subcommand)
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "jx",
	Short: "jx - JIRA version and issue extractor",
	Long: `Extracts the issues of selected JIRA project versions, flattened through a
field mapping, into per-version CSV files or a SQLite database.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// Handle --version flag on root command
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("jx version %s (%s)\n", Version, Build)
			return
		}
		// No subcommand - show help
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Priority: flags > viper (config file + env vars) > defaults
		if !cmd.Flags().Changed("manifest") {
			manifestPath = config.GetString("manifest")
		}
		if !cmd.Flags().Changed("workers") {
			workers = config.GetInt("workers")
		}
		if !cmd.Flags().Changed("log-file") {
			logFile = config.GetString("log-file")
		}
		if !cmd.Flags().Changed("log-level") {
			logLevel = config.GetString("log-level")
		}
		if !cmd.Flags().Changed("verbose") {
			verbose = config.GetBool("verbose")
		}
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("links") {
			linkMode = config.GetString("links")
		}

		// Commands that never log to the run log
		quietCommands := []string{"completion", "help", "init", "version"}
		if slices.Contains(quietCommands, cmd.Name()) {
			return nil
		}

		l, closer, err := logging.New(logging.Options{File: logFile, Level: logLevel, Stderr: verbose})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		logger, logCloser = l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
