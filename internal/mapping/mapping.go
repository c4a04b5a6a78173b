// Package mapping loads the field mapping file and parses its path expressions.
//
// A mapping file has an "issue" object mapping output column names to dotted paths
// into the raw JIRA issue payload:
//
//	{"issue": {"key": "key", "status": "fields.status.name", "components": "fields.components.name[]"}}
//
// JSON and YAML are both accepted. Column order is the declaration order.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SprintColumn is the column whose values are sprint references needing a lookup.
const SprintColumn = "sprints"

const projectionMarker = "[]"

// Path is a parsed field path. When Project is set the value at Segments is an
// array and the result is Project read from each element.
type Path struct {
	Raw      string
	Segments []string
	Project  string
}

// IsProjection reports whether the path ends in an array projection.
func (p Path) IsProjection() bool {
	return p.Project != ""
}

func (p Path) String() string {
	return p.Raw
}

// ParsePath parses "a.b.c" or "a.b.c[]".
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, errors.New("empty path")
	}
	parts := strings.Split(raw, ".")
	for _, part := range parts {
		if part == "" || part == projectionMarker {
			return Path{}, fmt.Errorf("path %q has an empty segment", raw)
		}
	}
	for _, part := range parts[:len(parts)-1] {
		if strings.Contains(part, projectionMarker) {
			return Path{}, fmt.Errorf("path %q: %s is only allowed on the last segment", raw, projectionMarker)
		}
	}

	p := Path{Raw: raw, Segments: parts}
	last := parts[len(parts)-1]
	if strings.HasSuffix(last, projectionMarker) {
		if len(parts) == 1 {
			return Path{}, fmt.Errorf("path %q: projection needs the array's parent path", raw)
		}
		p.Segments = parts[:len(parts)-1]
		p.Project = strings.TrimSuffix(last, projectionMarker)
	}
	return p, nil
}

// Column is one output column and the path it reads.
type Column struct {
	Name string
	Path Path
}

// Mapping is the ordered list of output columns.
type Mapping struct {
	Columns []Column
}

// Names returns the column names in order.
func (m *Mapping) Names() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column is mapped.
func (m *Mapping) Has(name string) bool {
	for _, c := range m.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Missing returns the names in required that are not mapped.
func (m *Mapping) Missing(required []string) []string {
	var out []string
	for _, name := range required {
		if !m.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Load reads a mapping file.
func Load(path string) (*Mapping, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path from manifest
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes mapping file content.
func Parse(data []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing mapping: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("mapping must be an object")
	}

	issue := lookup(doc.Content[0], "issue")
	if issue == nil {
		return nil, errors.New(`mapping has no "issue" object`)
	}
	if issue.Kind != yaml.MappingNode {
		return nil, errors.New(`"issue" must be an object`)
	}

	m := &Mapping{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(issue.Content); i += 2 {
		name, value := issue.Content[i].Value, issue.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("column %q: path must be a string", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("column %q is mapped twice", name)
		}
		seen[name] = true

		p, err := ParsePath(value.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		m.Columns = append(m.Columns, Column{Name: name, Path: p})
	}
	if len(m.Columns) == 0 {
		return nil, errors.New(`"issue" maps no columns`)
	}
	return m, nil
}

func lookup(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
