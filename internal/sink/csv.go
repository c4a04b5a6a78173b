package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jirametrics/jx/internal/types"
)

var versionHeader = []string{"name", "released", "startDate", "releaseDate", "userStartDate", "userReleaseDate"}

// CSV writes one directory per project holding a summary file per version and an
// issue file per version. Lines end in CRLF and values are not quoted, so a value
// containing a comma shifts the following columns.
type CSV struct {
	root    string
	columns []string
	log     *slog.Logger
}

// NewCSV returns a CSV sink rooted at root writing the given columns.
func NewCSV(root string, columns []string, logger *slog.Logger) *CSV {
	return &CSV{root: root, columns: columns, log: logger}
}

// FileName replaces spaces with underscores.
func FileName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// ProjectDir returns the directory holding a project's files.
func (c *CSV) ProjectDir(project string) string {
	return filepath.Join(c.root, FileName(project))
}

// VersionPath returns the path of a version's summary file.
func (c *CSV) VersionPath(project, version string) string {
	return filepath.Join(c.ProjectDir(project), "Version_"+FileName(version)+".csv")
}

// IssuesPath returns the path of a version's issue file.
func (c *CSV) IssuesPath(project, version string) string {
	return filepath.Join(c.ProjectDir(project), FileName(version)+".csv")
}

func (c *CSV) StoreVersion(_ context.Context, project string, v *types.Version) error {
	row := []string{
		v.Name,
		titleBool(v.Released),
		v.StartDate,
		v.ReleaseDate,
		v.UserStartDate,
		v.UserReleaseDate,
	}
	return c.write(c.ProjectDir(project), c.VersionPath(project, v.Name), versionHeader, [][]string{row})
}

// StoreSprint keeps nothing; the sprint name is the reference.
func (c *CSV) StoreSprint(_ context.Context, s *types.Sprint) (string, error) {
	if s.Name == "" {
		return strconv.FormatInt(s.ID, 10), nil
	}
	return s.Name, nil
}

func (c *CSV) StoreIssues(_ context.Context, task types.Task, records []*types.Record) (int, error) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Values())
	}
	path := c.IssuesPath(task.Project, task.Version)
	if err := c.write(c.ProjectDir(task.Project), path, c.columns, rows); err != nil {
		return 0, err
	}
	c.log.Debug("wrote issue file", "path", path, "issues", len(rows))
	return len(rows), nil
}

func (c *CSV) Close() error { return nil }

func (c *CSV) write(dir, path string, header []string, rows [][]string) error {
	// Several workers may create the same project directory.
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteString("\r\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, ","))
		b.WriteString("\r\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// titleBool renders booleans as True/False, as existing summary files spell them.
func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
