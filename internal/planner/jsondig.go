package planner

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// MaxDigDepth bounds FindTaskArray's recursion.
const MaxDigDepth = 6

var errNoJSON = errors.New("no JSON value in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// cleanJSONResponse strips markdown fences around a JSON payload.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	if m := fencedBlock.FindStringSubmatch(resp); m != nil {
		return strings.TrimSpace(m[1])
	}
	return resp
}

// ExtractJSON decodes the first JSON object or array in text that carries a
// task array. Fences and surrounding prose are tolerated. When no decoded
// value carries tasks, the first one is returned so the caller can report an
// empty plan rather than a format error.
func ExtractJSON(text string) (any, error) {
	s := cleanJSONResponse(text)
	if s == "" {
		return nil, errNoJSON
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}

	var first any
	found := false
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var candidate any
		if err := dec.Decode(&candidate); err != nil {
			continue
		}
		if _, ok := FindTaskArray(candidate, MaxDigDepth); ok {
			return candidate, nil
		}
		if !found {
			first, found = candidate, true
		}
		// Resume after the decoded value; nested values are covered by the dig.
		i += int(dec.InputOffset()) - 1
	}
	if found {
		return first, nil
	}
	return nil, errNoJSON
}

var (
	nodeKeys        = []string{"assignedNode", "node", "nodeId", "agent"}
	descriptionKeys = []string{"description", "prompt", "task", "objective"}
)

// FindTaskArray locates the first array of task-shaped objects in v with a
// depth-first search over object values and array elements, visiting keys in
// sorted order. Recursion stops at maxDepth.
func FindTaskArray(v any, maxDepth int) ([]any, bool) {
	return dig(v, 0, maxDepth)
}

func dig(v any, depth, maxDepth int) ([]any, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		if isTaskArray(t) {
			return t, true
		}
		for _, el := range t {
			if found, ok := dig(el, depth+1, maxDepth); ok {
				return found, true
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found, ok := dig(t[k], depth+1, maxDepth); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func isTaskArray(arr []any) bool {
	for _, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if firstString(obj, nodeKeys) != "" && firstString(obj, descriptionKeys) != "" {
			return true
		}
	}
	return false
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
