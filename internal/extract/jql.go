package extract

import (
	"strings"

	"github.com/jirametrics/jx/internal/types"
)

// BuildJQL returns the search for one task: the project clause, the special
// filters and the fix version, AND-combined. Empty parts are left out.
func BuildJQL(codes, filters []string, version string) string {
	var clauses []string

	switch len(codes) {
	case 0:
	case 1:
		clauses = append(clauses, "project = "+codes[0])
	default:
		clauses = append(clauses, "project in ("+strings.Join(codes, ", ")+")")
	}

	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			clauses = append(clauses, f)
		}
	}

	if version == types.Unversioned {
		clauses = append(clauses, "fixVersion is EMPTY")
	} else {
		clauses = append(clauses, `fixVersion = "`+escapeJQL(version)+`"`)
	}

	return strings.Join(clauses, " AND ")
}

// TaskJQL is BuildJQL for a task.
func TaskJQL(t types.Task) string {
	return BuildJQL(t.Codes, t.Filters, t.Version)
}

func escapeJQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
