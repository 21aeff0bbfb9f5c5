// Package typeutil reads loosely typed tool params and step results.
// Values arrive from JSON, structpb and literal bindings, so numbers may be
// any numeric kind and lists may be []any.
package typeutil

import (
	"fmt"
	"strings"
)

// Map asserts value to map[string]any.
func Map(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	return m, ok && m != nil
}

// String returns params[key] as a trimmed string. Numbers and bools are
// formatted, anything else reports false.
func String(params map[string]any, key string) (string, bool) {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v), true
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// StringOr returns params[key] as a string or def when missing or empty.
func StringOr(params map[string]any, key, def string) string {
	if s, ok := String(params, key); ok && s != "" {
		return s
	}
	return def
}

// Int converts numeric kinds to int; float values are truncated.
func Int(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Float64 converts numeric kinds to float64.
func Float64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Strings accepts []string or a []any made only of strings.
func Strings(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Lookup walks a dot-separated path through nested maps, e.g.
// Lookup(result, "event.id").
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var current any = data
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		m, ok := Map(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}
