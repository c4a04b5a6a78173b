package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jirametrics/jx/internal/configfile"
)

// sampleMapping maps every column the relational output understands onto the
// fields of a stock JIRA server. Custom field ids differ between servers.
const sampleMapping = `{
  "issue": {
    "key": "key",
    "summary": "fields.summary",
    "epic_name": "fields.customfield_10011",
    "labels": "fields.labels",
    "created_date": "fields.created",
    "resolution_date": "fields.resolutiondate",
    "updated_date": "fields.updated",
    "start_date": "fields.customfield_10015",
    "due_date": "fields.duedate",
    "priority": "fields.priority.name",
    "assignee": "fields.assignee.displayName",
    "reporter": "fields.reporter.displayName",
    "components": "fields.components.name[]",
    "epic_links": "fields.customfield_10014",
    "story_points": "fields.customfield_10016",
    "tshirt_size": "fields.customfield_10020.value",
    "linked_theme": "fields.customfield_10021",
    "project_code": "fields.project.key",
    "resolution": "fields.resolution.name",
    "status": "fields.status.name",
    "type": "fields.issuetype.name",
    "sprints": "fields.customfield_10880",
    "fix_version": "fields.fixVersions.name[]",
    "affects_version": "fields.versions.name[]"
  }
}
`

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a sample manifest, access file and field mapping",
	Long: `Write manifest.json, access.json and json/mapper/fields.json into dir
(default: the current directory). Existing files are kept unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		quiet, _ := cmd.Flags().GetBool("quiet")

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		written, err := scaffold(dir, force)
		if err != nil {
			return err
		}

		if quiet {
			return nil
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"written": written})
			return nil
		}
		if len(written) == 0 {
			fmt.Println("Nothing to do: all files exist (use --force to overwrite)")
			return nil
		}
		for _, path := range written {
			fmt.Printf("  %s %s\n", color.GreenString("✓"), path)
		}
		fmt.Println()
		fmt.Println("Next: set server_url and credentials in access.json, edit extract_for in")
		fmt.Println("manifest.json, then run 'jx doctor' and 'jx extract'.")
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite existing files")
	initCmd.Flags().BoolP("quiet", "q", false, "Suppress output")
	rootCmd.AddCommand(initCmd)
}

// scaffold writes the sample files into dir and returns the paths it wrote.
func scaffold(dir string, force bool) ([]string, error) {
	m := configfile.DefaultManifest()
	files := []struct {
		path  string
		write func(path string) error
	}{
		{filepath.Join(dir, "manifest.json"), m.Save},
		{filepath.Join(dir, m.Access), (&configfile.Access{ServerURL: "https://jira.example.com"}).Save},
		{filepath.Join(dir, m.Mapper), func(path string) error {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return err
			}
			return os.WriteFile(path, []byte(sampleMapping), 0o644)
		}},
	}

	var written []string
	for _, f := range files {
		if !force {
			if _, err := os.Stat(f.path); err == nil {
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return written, err
			}
		}
		if err := f.write(f.path); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}
	return written, nil
}
