package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/types"
)

// VersionLister lists the versions of a JIRA project.
type VersionLister interface {
	ProjectVersions(ctx context.Context, projectKey string) ([]types.Version, error)
}

// VersionStore records enumerated versions.
type VersionStore interface {
	StoreVersion(ctx context.Context, project string, v *types.Version) error
}

// Enumerator selects the versions of a manifest project to extract.
type Enumerator struct {
	client VersionLister
	store  VersionStore
	log    *slog.Logger
}

// NewEnumerator returns an Enumerator. A nil store makes it a dry run.
func NewEnumerator(client VersionLister, store VersionStore, logger *slog.Logger) *Enumerator {
	return &Enumerator{client: client, store: store, log: logger}
}

// CompilePattern anchors pattern at the start of the version name.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid version pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Versions returns the names of the matching versions of every project code in
// API order, each name once. An empty pattern matches every version and puts
// types.Unversioned first.
func (e *Enumerator) Versions(ctx context.Context, p configfile.Project) ([]string, error) {
	re, err := CompilePattern(p.RegexVersion)
	if err != nil {
		return nil, err
	}

	var names []string
	seen := make(map[string]bool)
	if p.RegexVersion == "" {
		names = append(names, types.Unversioned)
		seen[types.Unversioned] = true
	}

	for _, code := range p.ProjectCode {
		versions, err := e.client.ProjectVersions(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", code, err)
		}
		for i := range versions {
			v := &versions[i]
			if !re.MatchString(v.Name) {
				continue
			}
			if e.store != nil {
				if err := e.store.StoreVersion(ctx, p.Name, v); err != nil {
					e.log.Error("unable to store version", "project", p.Name, "version", v.Name, "error", err)
				}
			}
			if !seen[v.Name] {
				seen[v.Name] = true
				names = append(names, v.Name)
			}
		}
	}

	e.log.Info("enumerated versions", "project", p.Name, "pattern", p.RegexVersion, "versions", len(names))
	return names, nil
}

// Tasks turns a project's versions into queue items.
func Tasks(p configfile.Project, versions []string) []types.Task {
	tasks := make([]types.Task, len(versions))
	for i, v := range versions {
		tasks[i] = types.Task{
			Project: p.Name,
			Codes:   p.ProjectCode,
			Filters: p.SpecialFilters,
			Version: v,
		}
	}
	return tasks
}
