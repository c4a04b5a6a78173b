// Package configfile loads the extraction manifest and the JIRA access file.
package configfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

const ManifestFileName = "manifest.json"

// Output targets.
const (
	OutputCSV    = "csv"
	OutputSQLite = "sqlite"
)

// ProjectSettings selects what to extract for one manifest project.
type ProjectSettings struct {
	ProjectCode    []string `json:"project_code"`
	SpecialFilters []string `json:"special_filters"`
	RegexVersion   string   `json:"regex_version"`
}

type projectEntry struct {
	Settings ProjectSettings `json:"settings"`
}

// Manifest is the top-level manifest.json.
type Manifest struct {
	Access          string                  `json:"access"`
	DataStoragePath string                  `json:"data_storage_path,omitempty"`
	Database        string                  `json:"database,omitempty"`
	Mapper          string                  `json:"mapper"`
	Output          string                  `json:"output,omitempty"`
	ExtractFor      map[string]projectEntry `json:"extract_for"`

	dir string // directory relative paths resolve against
}

// Project is a manifest project with its name.
type Project struct {
	Name string
	ProjectSettings
}

// Access holds the JIRA server URL and credentials.
type Access struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// DefaultManifest returns the manifest written by `jx init`.
func DefaultManifest() *Manifest {
	return &Manifest{
		Access:          "access.json",
		DataStoragePath: "data",
		Database:        "jira.db",
		Mapper:          filepath.Join("json", "mapper", "fields.json"),
		ExtractFor: map[string]projectEntry{
			"My Project": {Settings: ProjectSettings{
				ProjectCode:    []string{"PROJ"},
				SpecialFilters: []string{"issuetype in standardIssueTypes()"},
				RegexVersion:   "^v[0-9]+",
			}},
		},
	}
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	m.dir = filepath.Dir(path)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest can drive an extraction.
func (m *Manifest) Validate() error {
	var problems []string
	if m.Access == "" {
		problems = append(problems, "access is required")
	}
	if m.Mapper == "" {
		problems = append(problems, "mapper is required")
	}
	switch m.OutputMode() {
	case OutputCSV:
		if m.DataStoragePath == "" {
			problems = append(problems, "data_storage_path is required for csv output")
		}
	case OutputSQLite:
		if m.Database == "" {
			problems = append(problems, "database is required for sqlite output")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown output %q", m.Output))
	}
	if len(m.ExtractFor) == 0 {
		problems = append(problems, "extract_for lists no projects")
	}
	for name, p := range m.ExtractFor {
		if len(p.Settings.ProjectCode) == 0 {
			problems = append(problems, fmt.Sprintf("project %q has no project_code", name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}

// OutputMode returns the effective output target.
func (m *Manifest) OutputMode() string {
	switch strings.ToLower(m.Output) {
	case "":
		if m.Database != "" {
			return OutputSQLite
		}
		return OutputCSV
	case "sqlite", "db", "database":
		return OutputSQLite
	case OutputCSV:
		return OutputCSV
	default:
		return m.Output
	}
}

// Projects returns the manifest projects sorted by name.
func (m *Manifest) Projects() []Project {
	out := make([]Project, 0, len(m.ExtractFor))
	for name, entry := range m.ExtractFor {
		out = append(out, Project{Name: name, ProjectSettings: entry.Settings})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Project looks up a manifest project by name.
func (m *Manifest) Project(name string) (Project, bool) {
	entry, ok := m.ExtractFor[name]
	if !ok {
		return Project{}, false
	}
	return Project{Name: name, ProjectSettings: entry.Settings}, true
}

// SetProject adds or replaces a manifest project.
func (m *Manifest) SetProject(name string, s ProjectSettings) {
	if m.ExtractFor == nil {
		m.ExtractFor = make(map[string]projectEntry)
	}
	m.ExtractFor[name] = projectEntry{Settings: s}
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// AccessPath returns the access file path.
func (m *Manifest) AccessPath() string { return m.resolve(m.Access) }

// MapperPath returns the field mapping file path.
func (m *Manifest) MapperPath() string { return m.resolve(m.Mapper) }

// DatabasePath returns the SQLite database path.
func (m *Manifest) DatabasePath() string { return m.resolve(m.Database) }

// DataPath returns the CSV output root.
func (m *Manifest) DataPath() string { return m.resolve(m.DataStoragePath) }

// Save writes the manifest to path.
func (m *Manifest) Save(path string) error {
	return writeJSON(path, m)
}

// LoadAccess reads the access file and applies JIRA_URL, JIRA_USER and JIRA_PASSWORD
// overrides from the environment or a .env file next to the working directory.
// The access file may be missing when the environment supplies everything.
func LoadAccess(path string) (*Access, error) {
	// .env is optional
	_ = godotenv.Load()

	var a Access
	data, err := os.ReadFile(path) // #nosec G304 - path from manifest
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("parsing access file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading access file: %w", err)
	}

	if s := os.Getenv("JIRA_URL"); s != "" {
		a.ServerURL = s
	}
	if s := os.Getenv("JIRA_USER"); s != "" {
		a.Username = s
	}
	if s := os.Getenv("JIRA_PASSWORD"); s != "" {
		a.Password = s
	}
	a.ServerURL = strings.TrimRight(a.ServerURL, "/")

	if a.ServerURL == "" {
		return nil, fmt.Errorf("no JIRA server_url in %s or JIRA_URL", path)
	}
	return &a, nil
}

// Save writes the access file with owner-only permissions.
func (a *Access) Save(path string) error {
	return writeJSON(path, a)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
