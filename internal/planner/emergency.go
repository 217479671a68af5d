package planner

import (
	"strings"

	"missionforge/internal/mission"
)

// EmergencyPlan is the fixed four-task plan substituted when synthesis fails.
func EmergencyPlan(d mission.Directive) *mission.Plan {
	x := strings.TrimSpace(d.Text)
	task := func(id, label, node string, kind mission.TaskKind, desc string) mission.Task {
		return mission.Task{
			ID:           id,
			Label:        label,
			Description:  desc,
			AssignedNode: node,
			Kind:         kind,
			KindDeclared: true,
			Status:       mission.TaskPending,
		}
	}
	return &mission.Plan{Tasks: []mission.Task{
		task("e1", "Intel_Scan", "RA-01", mission.KindResearch, "Deep intel for "+x),
		task("e2", "Strategy_Blueprint", "SP-01", mission.KindStrategy, "Sovereign strategy for "+x),
		task("e3", "Master_Visual", "CC-10", mission.KindImage, "Ultra-high-end visual asset for "+x+" in Obsidian & Chrome style."),
		task("e4", "Cinema_Render", "CC-06", mission.KindVideo, "Cinematic trailer for "+x+" using Veo 3.1 technology."),
	}}
}
