package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeJSONArraysToStrings rewrites arrays of strings found in object
// fields as comma-joined strings, compensating for models that return
// {"text": ["a", "b"]} where {"text": "a, b"} was asked for. Top-level arrays
// are left alone so list responses survive intact. The boolean reports whether
// anything was rewritten.
//
// Callers whose schema legitimately expects string arrays in object fields
// must only apply this after a direct unmarshal has already failed.
func NormalizeJSONArraysToStrings(jsonBytes []byte) ([]byte, bool, error) {
	var root interface{}
	if err := json.Unmarshal(jsonBytes, &root); err != nil {
		return nil, false, fmt.Errorf("failed to parse JSON: %w", err)
	}

	changed := false
	if arr, ok := root.([]interface{}); ok {
		// A top-level array is a valid response shape; only its elements are walked.
		for i, elem := range arr {
			arr[i] = flattenStringArrays(elem, &changed)
		}
	} else {
		root = flattenStringArrays(root, &changed)
	}

	out, err := json.Marshal(root)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal normalized JSON: %w", err)
	}
	return out, changed, nil
}

// flattenStringArrays walks a decoded JSON value in place, replacing any array
// made up entirely of strings with a single comma-joined string.
func flattenStringArrays(value interface{}, changed *bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			v[key] = flattenStringArrays(val, changed)
		}
		return v
	case []interface{}:
		if joined, ok := joinIfStrings(v); ok {
			*changed = true
			return joined
		}
		for i, elem := range v {
			v[i] = flattenStringArrays(elem, changed)
		}
		return v
	default:
		return value
	}
}

// joinIfStrings joins an all-string array with ", ". An empty array counts as
// all-string and joins to the empty string.
func joinIfStrings(arr []interface{}) (string, bool) {
	parts := make([]string, len(arr))
	for i, elem := range arr {
		s, ok := elem.(string)
		if !ok {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), true
}
