package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jirametrics/jx/internal/config"
	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/extract"
	"github.com/jirametrics/jx/internal/jira"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/sink"
	"github.com/jirametrics/jx/internal/storage/sqlite"
)

// Status constants for doctor checks
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

type doctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // statusOK, statusWarning, or statusError
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Fix     string `json:"fix,omitempty"`
}

type doctorResult struct {
	Manifest   string        `json:"manifest"`
	Checks     []doctorCheck `json:"checks"`
	OverallOK  bool          `json:"overall_ok"`
	CLIVersion string        `json:"cli_version"`
}

func (r *doctorResult) add(c doctorCheck) {
	r.Checks = append(r.Checks, c)
	if c.Status == statusError {
		r.OverallOK = false
	}
}

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that an extraction can run",
	Long: `Sanity check the extraction setup.

This command checks:
  - The manifest parses and is complete
  - The access file (or JIRA_* environment) names a server
  - The field mapping parses and covers the relational columns
  - The JIRA server accepts the credentials
  - Every manifest project code lists versions and its pattern compiles
  - The database schema version and tables (sqlite output)

Examples:
  jx doctor            # Check ./manifest.json
  jx doctor --offline  # Skip the JIRA checks
  jx doctor --json     # Machine-readable output`,
	Run: func(cmd *cobra.Command, args []string) {
		result := runDiagnostics(context.Background(), manifestPath, !doctorOffline)

		if jsonOutput {
			outputJSON(result)
		} else {
			printDiagnostics(result)
		}

		if !result.OverallOK {
			closeLog()
			os.Exit(1)
		}
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip checks that contact JIRA")
	rootCmd.AddCommand(doctorCmd)
}

func runDiagnostics(ctx context.Context, path string, online bool) doctorResult {
	result := doctorResult{
		Manifest:   path,
		CLIVersion: Version,
		OverallOK:  true,
	}
	if abs, err := filepath.Abs(path); err == nil {
		result.Manifest = abs
	}

	m, check := checkManifest(path)
	result.add(check)
	if m == nil {
		return result
	}

	access, check := checkAccess(m)
	result.add(check)
	result.add(checkMapping(m))

	if m.OutputMode() == configfile.OutputSQLite {
		result.add(checkDatabase(ctx, m.DatabasePath()))
	}

	if !online || access == nil {
		return result
	}
	client, check := checkConnection(ctx, access)
	result.add(check)
	if client != nil {
		for _, p := range m.Projects() {
			result.add(checkProject(ctx, client, p))
		}
	}
	return result
}

func checkManifest(path string) (*configfile.Manifest, doctorCheck) {
	m, err := configfile.LoadManifest(path)
	if err != nil {
		fix := "Fix the fields listed above"
		if errors.Is(err, os.ErrNotExist) {
			fix = "Run 'jx init' to create a sample manifest"
		}
		return nil, doctorCheck{
			Name:    "Manifest",
			Status:  statusError,
			Message: "Manifest unusable",
			Detail:  err.Error(),
			Fix:     fix,
		}
	}
	return m, doctorCheck{
		Name:    "Manifest",
		Status:  statusOK,
		Message: fmt.Sprintf("%d projects, %s output", len(m.ExtractFor), m.OutputMode()),
	}
}

func checkAccess(m *configfile.Manifest) (*configfile.Access, doctorCheck) {
	a, err := configfile.LoadAccess(m.AccessPath())
	if err != nil {
		return nil, doctorCheck{
			Name:    "Access",
			Status:  statusError,
			Message: "No JIRA server configured",
			Detail:  err.Error(),
			Fix:     fmt.Sprintf("Set server_url in %s or JIRA_URL", m.AccessPath()),
		}
	}
	check := doctorCheck{Name: "Access", Status: statusOK, Message: a.ServerURL}
	if a.Username == "" || a.Password == "" {
		check.Status = statusWarning
		check.Detail = "no credentials; requests will be anonymous"
		check.Fix = "Set username and password in the access file or JIRA_USER and JIRA_PASSWORD"
	}
	return a, check
}

func checkMapping(m *configfile.Manifest) doctorCheck {
	fields, err := mapping.Load(m.MapperPath())
	if err != nil {
		return doctorCheck{
			Name:    "Field Mapping",
			Status:  statusError,
			Message: "Mapping unusable",
			Detail:  err.Error(),
			Fix:     fmt.Sprintf("Fix %s", m.MapperPath()),
		}
	}
	check := doctorCheck{
		Name:    "Field Mapping",
		Status:  statusOK,
		Message: fmt.Sprintf("%d columns", len(fields.Columns)),
	}
	if m.OutputMode() == configfile.OutputSQLite {
		if missing := fields.Missing(sink.RelationalColumns); len(missing) > 0 {
			check.Status = statusWarning
			check.Detail = "unmapped: " + strings.Join(missing, ", ")
			check.Fix = "Unmapped columns are stored empty; add them to the mapping if needed"
		}
	}
	return check
}

func checkDatabase(ctx context.Context, path string) doctorCheck {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return doctorCheck{
			Name:    "Database",
			Status:  statusOK,
			Message: "Not created yet",
			Detail:  path,
		}
	}

	store, err := sqlite.New(path, sqlite.Options{})
	if err != nil {
		fix := "Database may be corrupted. Move it aside and run 'jx extract' again"
		if errors.Is(err, sqlite.ErrSchemaIncompatible) {
			fix = "The database was written by an incompatible jx; use a new database path"
		}
		return doctorCheck{
			Name:    "Database",
			Status:  statusError,
			Message: "Unable to open database",
			Detail:  err.Error(),
			Fix:     fix,
		}
	}
	defer func() { _ = store.Close() }()

	if probe := sqlite.ProbeSchema(store.UnderlyingDB()); !probe.Compatible {
		return doctorCheck{
			Name:    "Database",
			Status:  statusError,
			Message: "Schema incomplete",
			Detail:  probe.ErrorMessage,
			Fix:     "Move the database aside and run 'jx extract' again",
		}
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return doctorCheck{Name: "Database", Status: statusError, Message: "Unable to read schema version", Detail: err.Error()}
	}
	var counts []string
	for _, table := range []string{"version", "sprint", "issue"} {
		n, err := store.Count(ctx, table)
		if err != nil {
			return doctorCheck{Name: "Database", Status: statusError, Message: "Unable to read " + table, Detail: err.Error()}
		}
		counts = append(counts, fmt.Sprintf("%d %ss", n, table))
	}
	// Leave a self-contained file behind for whoever reads it next.
	if err := store.CheckpointWAL(ctx); err != nil {
		logger.Warn("wal checkpoint failed", "path", path, "error", err)
	}

	return doctorCheck{
		Name:    "Database",
		Status:  statusOK,
		Message: "schema " + version,
		Detail:  fmt.Sprintf("%s: %s", store.Path(), strings.Join(counts, ", ")),
	}
}

func checkConnection(ctx context.Context, a *configfile.Access) (*jira.Client, doctorCheck) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := jira.Connect(ctx, a.ServerURL, a.Username, a.Password, jira.Options{
		Timeout:  config.GetDuration("jira-timeout"),
		PageSize: config.GetInt("page-size"),
	})
	if err != nil {
		fix := "Check server_url and that the server is reachable"
		if errors.Is(err, jira.ErrUnauthorized) {
			fix = "Check username and password"
		}
		return nil, doctorCheck{
			Name:    "JIRA",
			Status:  statusError,
			Message: "Unable to connect",
			Detail:  err.Error(),
			Fix:     fix,
		}
	}
	return client, doctorCheck{Name: "JIRA", Status: statusOK, Message: "Connected to " + client.BaseURL()}
}

func checkProject(ctx context.Context, client *jira.Client, p configfile.Project) doctorCheck {
	name := "Project " + p.Name
	versions, err := extract.NewEnumerator(client, nil, logger).Versions(ctx, p)
	if err != nil {
		return doctorCheck{
			Name:    name,
			Status:  statusError,
			Message: "Unable to enumerate versions",
			Detail:  err.Error(),
			Fix:     "Check project_code and regex_version in the manifest",
		}
	}
	if len(versions) == 0 {
		return doctorCheck{
			Name:    name,
			Status:  statusWarning,
			Message: "No version matches",
			Detail:  fmt.Sprintf("pattern %q", p.RegexVersion),
			Fix:     "Loosen regex_version; nothing would be extracted",
		}
	}
	return doctorCheck{Name: name, Status: statusOK, Message: fmt.Sprintf("%d versions", len(versions))}
}

func printDiagnostics(result doctorResult) {
	fmt.Println("\nDiagnostics")

	// Print each check with tree formatting
	for i, check := range result.Checks {
		prefix := "├"
		if i == len(result.Checks)-1 {
			prefix = "└"
		}

		var statusIcon string
		switch check.Status {
		case statusOK:
			statusIcon = ""
		case statusWarning:
			statusIcon = color.YellowString(" ⚠")
		case statusError:
			statusIcon = color.RedString(" ✗")
		}

		fmt.Printf(" %s %s: %s%s\n", prefix, check.Name, check.Message, statusIcon)

		if check.Detail != "" {
			detailPrefix := "│"
			if i == len(result.Checks)-1 {
				detailPrefix = " "
			}
			fmt.Printf(" %s   %s\n", detailPrefix, color.New(color.Faint).Sprint(check.Detail))
		}
	}

	fmt.Println()

	// Print warnings/errors with fixes
	hasIssues := false
	for _, check := range result.Checks {
		if check.Status != statusOK && check.Fix != "" {
			hasIssues = true
			switch check.Status {
			case statusWarning:
				color.Yellow("⚠ Warning: %s\n", check.Message)
			case statusError:
				color.Red("✗ Error: %s\n", check.Message)
			}
			fmt.Printf("  Fix: %s\n\n", check.Fix)
		}
	}

	if !hasIssues {
		color.Green("✓ All checks passed\n")
	}
}
