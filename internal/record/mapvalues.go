package record

import (
	"fmt"
	"math"
)

// Accessors over decoded JSON maps. All of them tolerate missing keys and
// wrong types by returning the zero value, so the emergency-call mapping
// never fabricates a field that was absent from the payload.

func objectAt(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	obj, _ := m[key].(map[string]any)
	return obj
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// scalarAt renders string, bool and numeric values as a string. Dispatch
// transcripts carry vitals as free text ("rapide", "environ 38.5") but some
// payloads use raw numbers or booleans.
func scalarAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}

func stringPtrAt(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

func intPtrAt(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	if f, ok := m[key].(float64); ok {
		n := int(f)
		return &n
	}
	return nil
}

func boolPtrAt(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

func stringSliceAt(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
