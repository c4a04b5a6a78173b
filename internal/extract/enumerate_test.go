package extract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/logging"
	"github.com/jirametrics/jx/internal/types"
)

type fakeLister map[string][]types.Version

func (f fakeLister) ProjectVersions(_ context.Context, key string) ([]types.Version, error) {
	v, ok := f[key]
	if !ok {
		return nil, errors.New("project not found")
	}
	return v, nil
}

type versionRecorder struct {
	mu    sync.Mutex
	names []string
	fail  string
}

func (r *versionRecorder) StoreVersion(_ context.Context, _ string, v *types.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, v.Name)
	if v.Name == r.fail {
		return errors.New("disk full")
	}
	return nil
}

var projectVersions = fakeLister{
	"P": {{ID: "1", Name: "v1"}, {ID: "2", Name: "alpha"}, {ID: "3", Name: "v2"}, {ID: "4", Name: "xv3"}},
	"Q": {{ID: "5", Name: "v2"}, {ID: "6", Name: "v4"}},
	"E": {},
}

func project(pattern string, codes ...string) configfile.Project {
	return configfile.Project{Name: "Proj", ProjectSettings: configfile.ProjectSettings{ProjectCode: codes, RegexVersion: pattern}}
}

func TestEnumeratorVersions(t *testing.T) {
	tests := []struct {
		name    string
		project configfile.Project
		want    []string
	}{
		{"anchored pattern", project("^v[0-9]+", "P"), []string{"v1", "v2"}},
		{"implicitly anchored", project("v[0-9]+", "P"), []string{"v1", "v2"}},
		{"alternation stays anchored", project("v1|v2", "P"), []string{"v1", "v2"}},
		{"empty pattern", project("", "P"), []string{types.Unversioned, "v1", "alpha", "v2", "xv3"}},
		{"no versions", project("", "E"), []string{types.Unversioned}},
		{"several codes", project("v", "P", "Q"), []string{"v1", "v2", "v4"}},
		{"nothing matches", project("^release", "P"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnumerator(projectVersions, nil, logging.Discard())
			got, err := e.Versions(context.Background(), tt.project)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnumeratorStoresMatches(t *testing.T) {
	store := &versionRecorder{fail: "v1"}
	e := NewEnumerator(projectVersions, store, logging.Discard())

	got, err := e.Versions(context.Background(), project("^v", "P", "Q"))
	if err != nil {
		t.Fatal(err)
	}
	// v1 failed to store and is still returned; v2 is stored for both projects.
	if diff := cmp.Diff([]string{"v1", "v2", "v4"}, got); diff != "" {
		t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"v1", "v2", "v2", "v4"}, store.names); diff != "" {
		t.Errorf("stored mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumeratorErrors(t *testing.T) {
	e := NewEnumerator(projectVersions, nil, logging.Discard())
	if _, err := e.Versions(context.Background(), project("(", "P")); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if _, err := e.Versions(context.Background(), project("", "MISSING")); err == nil {
		t.Error("expected error for unknown project")
	}
}

func TestTasks(t *testing.T) {
	p := project("", "P")
	p.SpecialFilters = []string{"labels = x"}
	got := Tasks(p, []string{types.Unversioned, "v1"})
	want := []types.Task{
		{Project: "Proj", Codes: []string{"P"}, Filters: []string{"labels = x"}, Version: types.Unversioned},
		{Project: "Proj", Codes: []string{"P"}, Filters: []string{"labels = x"}, Version: "v1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}
}
