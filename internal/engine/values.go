package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholder matches {{ expr }} with optional inner whitespace.
var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// listMarker matches the list part of a {{items[].field}} placeholder.
var listMarker = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\[\]`)

// lookup resolves a dotted path ("customer.address.city") through nested maps.
func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// asList converts the supported sequence shapes to []any.
func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i, item := range l {
			out[i] = item
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i, item := range l {
			out[i] = item
		}
		return out
	default:
		return nil
	}
}

// stringify renders a value for inline substitution.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
