package schema

import (
	"encoding/json"
	"time"
)

// Parameter maps arrive from YAML, JSON and Go callers, so numbers may be
// int, int64, float64 or json.Number. These helpers normalize lookups.

// StringParam returns m[key] as a string, or def.
func StringParam(m map[string]any, key, def string) string {
	s, ok := m[key].(string)
	if !ok {
		return def
	}
	return s
}

// BoolParam returns m[key] as a bool, or def.
func BoolParam(m map[string]any, key string, def bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return def
	}
	return b
}

// IntParam returns m[key] as an int, or def.
func IntParam(m map[string]any, key string, def int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return def
		}
		return int(i)
	default:
		return def
	}
}

// DurationParam accepts a Go duration string ("1s") or a number of milliseconds.
func DurationParam(m map[string]any, key string, def time.Duration) time.Duration {
	switch v := m[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return def
		}
		return d
	case time.Duration:
		return v
	case int, int64, float64, json.Number:
		return time.Duration(IntParam(m, key, 0)) * time.Millisecond
	default:
		return def
	}
}

// StringsParam returns m[key] as a string slice. Non-string items are skipped.
func StringsParam(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// MapParam returns m[key] as a map, or nil.
func MapParam(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// StringMapParam returns m[key] as a map of strings. Non-string values are skipped.
func StringMapParam(m map[string]any, key string) map[string]string {
	switch v := m[key].(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
