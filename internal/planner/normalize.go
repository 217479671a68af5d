package planner

import (
	"fmt"
	"strconv"
	"strings"

	"missionforge/internal/mission"
)

// NormalizeTasks converts raw task objects into plan tasks. Elements missing
// a node or a description are discarded; the rest get deterministic ids,
// labels and kinds.
func NormalizeTasks(raw []any) []mission.Task {
	tasks := make([]mission.Task, 0, len(raw))
	seen := make(map[string]int)

	for _, el := range raw {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		node := strings.ToUpper(firstString(obj, nodeKeys))
		desc := firstString(obj, descriptionKeys)
		if node == "" || desc == "" {
			continue
		}
		n := len(tasks) + 1

		id := idString(obj["id"])
		if id == "" {
			id = fmt.Sprintf("t%d", n)
		}
		if count := seen[id]; count > 0 {
			seen[id] = count + 1
			id = fmt.Sprintf("%s-%d", id, count+1)
		} else {
			seen[id] = 1
		}

		label := firstString(obj, []string{"label", "title", "name"})
		if label == "" {
			label = fmt.Sprintf("Objective_%d", n)
		}

		kind, declared := mission.ParseTaskKind(firstString(obj, []string{"type", "kind"}))
		if !declared {
			kind = mission.KindStrategy
		}

		tasks = append(tasks, mission.Task{
			ID:           id,
			Label:        label,
			Description:  desc,
			AssignedNode: node,
			Kind:         kind,
			KindDeclared: declared,
			Status:       mission.TaskPending,
			Progress:     0,
		})
	}
	return tasks
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
