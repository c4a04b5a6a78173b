// Package flatten turns raw JIRA issue payloads into flat records by evaluating the
// mapping's path expressions. Flattening never fails: a value that cannot be read
// becomes an empty, Defaulted field.
package flatten

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/types"
)

// SprintResolver turns a JIRA sprint id into the reference stored in the sprints column.
type SprintResolver interface {
	ResolveSprint(ctx context.Context, id int64) (string, error)
}

// Flattener applies a mapping to issue payloads.
type Flattener struct {
	mapping *mapping.Mapping
	sprints SprintResolver
	log     *slog.Logger
}

// New returns a Flattener. sprints may be nil, in which case the sprints column
// carries the raw JIRA sprint ids.
func New(m *mapping.Mapping, sprints SprintResolver, logger *slog.Logger) *Flattener {
	return &Flattener{mapping: m, sprints: sprints, log: logger}
}

// Flatten evaluates every mapped column against raw.
func (f *Flattener) Flatten(ctx context.Context, raw json.RawMessage) *types.Record {
	root := gjson.ParseBytes(raw)
	rec := &types.Record{
		Key:     root.Get("key").String(),
		Columns: f.mapping.Names(),
		Fields:  make(map[string]types.Field, len(f.mapping.Columns)),
		Raw:     raw,
	}

	for _, col := range f.mapping.Columns {
		var field types.Field
		if col.Name == mapping.SprintColumn {
			field = f.sprintField(ctx, rec.Key, root, col.Path)
		} else {
			field = evalNode(root, col.Path)
		}
		if field.Defaulted {
			f.log.Debug("field defaulted", "key", rec.Key, "column", col.Name, "path", col.Path.Raw, "reason", field.Reason)
		}
		rec.Fields[col.Name] = field
	}
	return rec
}

// Eval evaluates one path against a raw payload.
func Eval(raw []byte, p mapping.Path) types.Field {
	return evalNode(gjson.ParseBytes(raw), p)
}

func evalNode(root gjson.Result, p mapping.Path) types.Field {
	node, failed := walk(root, p.Segments)
	if failed != nil {
		return *failed
	}
	if p.IsProjection() {
		return project(node, p)
	}
	return scalar(node, p.Raw)
}

// walk follows segments from root. A non-nil field means the path cannot be followed:
// Defaulted when a segment is missing or null, Unreadable when it is not an object.
func walk(root gjson.Result, segments []string) (gjson.Result, *types.Field) {
	node := root
	for i, seg := range segments {
		if !node.IsObject() {
			var f types.Field
			if i > 0 && node.Type == gjson.Null {
				f = types.Defaulted(fmt.Sprintf("%s is null", joinPath(segments[:i])))
			} else {
				f = types.Unreadable(fmt.Sprintf("%s is not an object", joinPath(segments[:i])))
			}
			return gjson.Result{}, &f
		}
		node = node.Get(gjson.Escape(seg))
		if !node.Exists() {
			f := types.Defaulted(fmt.Sprintf("%s is missing", joinPath(segments[:i+1])))
			return gjson.Result{}, &f
		}
	}
	return node, nil
}

func project(node gjson.Result, p mapping.Path) types.Field {
	if node.Type == gjson.Null {
		return types.Defaulted(joinPath(p.Segments) + " is null")
	}
	if !node.IsArray() {
		return types.Unreadable(fmt.Sprintf("%s is not an array", joinPath(p.Segments)))
	}
	elems := node.Array()
	parts := make([]string, 0, len(elems))
	for i, elem := range elems {
		if !elem.IsObject() {
			return types.Unreadable(fmt.Sprintf("%s[%d] is not an object", joinPath(p.Segments), i))
		}
		v := elem.Get(gjson.Escape(p.Project))
		if !v.Exists() {
			return types.Unreadable(fmt.Sprintf("%s[%d].%s is missing", joinPath(p.Segments), i, p.Project))
		}
		text, ok := scalarText(v)
		if !ok {
			return types.Unreadable(fmt.Sprintf("%s[%d].%s is not a scalar", joinPath(p.Segments), i, p.Project))
		}
		parts = append(parts, text)
	}
	return types.Ok(strings.Join(parts, ","))
}

func scalar(node gjson.Result, path string) types.Field {
	switch {
	case node.Type == gjson.Null:
		return types.Defaulted(path + " is null")
	case node.IsArray():
		elems := node.Array()
		parts := make([]string, 0, len(elems))
		for _, elem := range elems {
			text, ok := scalarText(elem)
			if !ok {
				return types.Unreadable(path + " is a list of objects; map it with a [] projection")
			}
			parts = append(parts, text)
		}
		return types.Ok(strings.Join(parts, ","))
	case node.IsObject():
		return types.Unreadable(path + " is an object; map one of its fields")
	}
	text, _ := scalarText(node)
	return types.Ok(text)
}

// scalarText renders strings, numbers and booleans. Null renders as "".
func scalarText(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String:
		return v.Str, true
	case gjson.Number, gjson.True, gjson.False:
		return v.Raw, true
	case gjson.Null:
		return "", true
	}
	return "", false
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return "payload"
	}
	return strings.Join(segments, ".")
}

// sprintIDPattern finds the id attribute inside legacy sprint reference strings such as
// "com.atlassian.greenhopper.service.sprint.Sprint@1a2b[id=42,rapidViewId=7,state=CLOSED,name=S1,...]".
var sprintIDPattern = regexp.MustCompile(`(?:^|[\[,\s])id=(\d+)`)

// SprintIDs extracts sprint ids from a sprints field value: legacy reference strings or
// objects carrying an "id". Duplicates are dropped, first occurrence order is kept.
func SprintIDs(node gjson.Result) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	var visit func(v gjson.Result)
	visit = func(v gjson.Result) {
		switch {
		case v.IsArray():
			for _, elem := range v.Array() {
				visit(elem)
			}
		case v.IsObject():
			add(v.Get("id").Int())
		case v.Type == gjson.String:
			for _, m := range sprintIDPattern.FindAllStringSubmatch(v.Str, -1) {
				id, err := strconv.ParseInt(m[1], 10, 64)
				if err == nil {
					add(id)
				}
			}
		}
	}
	visit(node)
	return ids
}

func (f *Flattener) sprintField(ctx context.Context, key string, root gjson.Result, p mapping.Path) types.Field {
	node, failed := walk(root, p.Segments)
	if failed != nil {
		return *failed
	}
	if node.Type == gjson.Null {
		return types.Defaulted(p.Raw + " is null")
	}

	ids := SprintIDs(node)
	if len(ids) == 0 {
		if isEmptyValue(node) {
			return types.Defaulted(p.Raw + " is empty")
		}
		// References are present but none carries an id.
		return types.Unreadable("no sprint ids in " + p.Raw)
	}

	refs := make([]string, 0, len(ids))
	unresolved := 0
	for _, id := range ids {
		if f.sprints == nil {
			refs = append(refs, strconv.FormatInt(id, 10))
			continue
		}
		ref, err := f.sprints.ResolveSprint(ctx, id)
		if err != nil {
			f.log.Warn("unable to resolve sprint", "key", key, "sprint", id, "error", err)
			unresolved++
			continue
		}
		refs = append(refs, ref)
	}
	if unresolved > 0 {
		return types.Incomplete(strings.Join(refs, ","), fmt.Sprintf("%d of %d sprints could not be resolved", unresolved, len(ids)))
	}
	return types.Ok(strings.Join(refs, ","))
}

func isEmptyValue(node gjson.Result) bool {
	switch {
	case node.IsArray():
		return len(node.Array()) == 0
	case node.Type == gjson.String:
		return strings.TrimSpace(node.Str) == ""
	}
	return false
}
