package extract

import (
	"testing"

	"github.com/jirametrics/jx/internal/types"
)

func TestBuildJQL(t *testing.T) {
	tests := []struct {
		name    string
		codes   []string
		filters []string
		version string
		want    string
	}{
		{"single project", []string{"P"}, nil, "v1", `project = P AND fixVersion = "v1"`},
		{"filters", []string{"P"}, []string{"issuetype in standardIssueTypes()", " status != Rejected "}, "v1",
			`project = P AND issuetype in standardIssueTypes() AND status != Rejected AND fixVersion = "v1"`},
		{"several projects", []string{"A", "B"}, []string{"labels = x"}, "2.0",
			`project in (A, B) AND labels = x AND fixVersion = "2.0"`},
		{"unversioned", []string{"P"}, []string{""}, types.Unversioned, `project = P AND fixVersion is EMPTY`},
		{"no project", nil, nil, "v1", `fixVersion = "v1"`},
		{"quotes escaped", []string{"P"}, nil, `say "hi"`, `project = P AND fixVersion = "say \"hi\""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildJQL(tt.codes, tt.filters, tt.version); got != tt.want {
				t.Errorf("BuildJQL() = %q, want %q", got, tt.want)
			}
		})
	}
}
