package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"missionforge/internal/mission"
	"missionforge/internal/router"
	"missionforge/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4B5563")).
			Padding(0, 1)

	statusStyles = map[mission.TaskStatus]lipgloss.Style{
		mission.TaskPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		mission.TaskActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
		mission.TaskCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		mission.TaskHalted:    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}

	outcomeStyles = map[mission.Outcome]lipgloss.Style{
		mission.OutcomeSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		mission.OutcomePartial: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B")),
		mission.OutcomeFailed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		mission.OutcomeAborted: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9CA3AF")),
	}
)

func renderTasks(sb *strings.Builder, plan *mission.Plan) {
	if plan.Len() == 0 {
		sb.WriteString(mutedStyle.Render("  (no tasks)") + "\n")
		return
	}
	for _, t := range plan.Tasks {
		status := statusStyles[t.Status].Render(fmt.Sprintf("%-9s", t.Status))
		line := fmt.Sprintf("  %s %-6s %-6s %-20s %s", status, t.ID, t.AssignedNode, t.Label, t.Kind)
		if t.Error != "" {
			line += mutedStyle.Render(" (" + string(t.Error) + ")")
		}
		sb.WriteString(line + "\n")
	}
}

// renderPlan renders a synthesized plan with each task's route.
func renderPlan(plan *mission.Plan, files []mission.DirectiveFile) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Plan (%d tasks)", plan.Len())) + "\n")
	for _, t := range plan.Tasks {
		route := router.Classify(t, files)
		sb.WriteString(fmt.Sprintf("  %-6s %-6s %-20s %-9s -> %s\n", t.ID, t.AssignedNode, t.Label, t.Kind, route))
		sb.WriteString(mutedStyle.Render("         "+t.Description) + "\n")
	}
	return sb.String()
}

// renderReport renders the end-of-mission summary.
func renderReport(r *mission.Report) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Mission "+r.MissionID) + "\n")
	sb.WriteString(mutedStyle.Render("Directive: "+r.Directive) + "\n\n")

	renderTasks(&sb, r.Plan)

	if len(r.Artifacts) > 0 {
		sb.WriteString("\n" + titleStyle.Render(fmt.Sprintf("Artifacts (%d)", len(r.Artifacts))) + "\n")
		for _, a := range r.Artifacts {
			where := a.Payload.URI
			if where == "" {
				where = fmt.Sprintf("%s, %d bytes", a.Payload.MIMEType, len(a.Payload.Data))
			}
			sb.WriteString(fmt.Sprintf("  %-8s %-20s %-6s %s\n", a.Kind, a.Label, a.OriginatingNode, where))
			for _, c := range a.Citations {
				sb.WriteString(mutedStyle.Render("           ↳ "+c.Title+" "+c.SourceURI) + "\n")
			}
		}
	}

	summary := fmt.Sprintf("%s  completed %d  halted %d  pending %d  retries %d  elapsed %s",
		outcomeStyles[r.Outcome].Render(string(r.Outcome)),
		r.Stats.Completed, r.Stats.Halted, r.Stats.Pending, r.Stats.Retries,
		r.Stats.Elapsed.Round(time.Millisecond))
	if r.UsedFallback {
		summary += mutedStyle.Render(fmt.Sprintf("\nemergency plan used (%s)", r.PlanError))
	}
	sb.WriteString("\n" + boxStyle.Render(summary) + "\n")
	return sb.String()
}

// renderRoster renders the node roster grouped by cluster.
func renderRoster(nodes []router.Node) string {
	var sb strings.Builder
	cluster := ""
	for _, n := range nodes {
		if n.Cluster != cluster {
			cluster = n.Cluster
			sb.WriteString(titleStyle.Render(cluster) + "\n")
		}
		spec := string(n.Specialty)
		if spec == "" {
			spec = mutedStyle.Render("-")
		}
		sb.WriteString(fmt.Sprintf("  %-6s %s\n", n.ID, spec))
	}
	return sb.String()
}

// renderHistory renders journal summaries newest first.
func renderHistory(list []store.MissionSummary) string {
	if len(list) == 0 {
		return mutedStyle.Render("No missions recorded.") + "\n"
	}
	var sb strings.Builder
	for _, m := range list {
		sb.WriteString(fmt.Sprintf("%s  %s  %-8s  %d done / %d halted / %d artifacts  %s\n",
			m.StartedAt.Local().Format("2006-01-02 15:04"),
			m.ID,
			outcomeStyles[m.Outcome].Render(string(m.Outcome)),
			m.Completed, m.Halted, m.Artifacts,
			truncate(m.Directive, 60)))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
