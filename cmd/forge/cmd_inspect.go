package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"missionforge/internal/mission"
	"missionforge/internal/router"
	"missionforge/internal/store"
)

var (
	classifyKind  string
	historyLimit  int
	historyEvents bool
)

// classifyCmd shows the route a task would take
var classifyCmd = &cobra.Command{
	Use:   "classify [node] [description]",
	Short: "Show which generative route a task would be dispatched to",
	Long: `Runs the modality classifier on a single task without calling the gateway.

Examples:
  forge classify CC-06 "opening titles"
  forge classify --kind research RA-02 "find a restaurant near the venue"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runClassify,
}

// nodesCmd lists the node roster
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the node roster and specialties",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(cmd.OutOrStdout(), renderRoster(router.Roster()))
		return nil
	},
}

// historyCmd reads the mission journal
var historyCmd = &cobra.Command{
	Use:   "history [mission-id]",
	Short: "List recorded missions, or show one mission's report",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "forge %s (config %s)\n", version, cfg.Version)
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyKind, "kind", "", "Declared task kind (research, strategy, image, video)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of missions to list")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Also print the recorded log lines")
}

func runClassify(cmd *cobra.Command, args []string) error {
	task := mission.Task{
		AssignedNode: strings.ToUpper(args[0]),
		Description:  strings.Join(args[1:], " "),
		Kind:         mission.KindStrategy,
	}
	if classifyKind != "" {
		kind, ok := mission.ParseTaskKind(classifyKind)
		if !ok {
			return fmt.Errorf("unknown task kind: %s", classifyKind)
		}
		task.Kind = kind
		task.KindDeclared = true
	}

	route := router.Classify(task, nil)
	fmt.Fprintln(cmd.OutOrStdout(), route)
	return nil
}

func openJournal() (*store.Journal, error) {
	journal, err := store.NewJournal(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mission journal: %w", err)
	}
	return journal, nil
}

// recordReport adapts Journal.RecordReport to a coordinator report hook.
func recordReport(j *store.Journal) func(*mission.Report) {
	return func(r *mission.Report) {
		if err := j.RecordReport(r); err != nil {
			logger.Warn("Failed to record mission", zap.String("mission_id", r.MissionID), zap.Error(err))
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		list, err := journal.ListMissions(historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprint(out, renderHistory(list))
		return nil
	}

	report, err := journal.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(out, renderReport(report))

	if historyEvents {
		events, err := journal.Events(args[0])
		if err != nil {
			return err
		}
		for _, e := range events {
			msg := e.Message
			if e.Phase != "" {
				msg = "phase " + string(e.Phase)
			}
			fmt.Fprintf(out, "%s  %-7s %s\n", e.Timestamp.Local().Format("15:04:05.000"), e.Level, msg)
		}
	}
	return nil
}
