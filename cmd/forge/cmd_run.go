package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"missionforge/internal/config"
	"missionforge/internal/mission"
	"missionforge/internal/swarm"
)

var (
	runFiles  []string
	runMode   string
	runOutDir string
	planJSON  bool
)

// runCmd executes one mission and prints its report
var runCmd = &cobra.Command{
	Use:   "run [directive]",
	Short: "Plan and execute a mission for a directive",
	Long: `Synthesizes a plan for the directive, dispatches every task through the
modality router and prints the mission report.

Examples:
  forge run "Launch campaign for an obsidian smartwatch"
  forge run --file sketch.png --mode sequential "Restyle this sketch as a poster"
  forge run --offline --out ./artifacts "Dry run of the pipeline"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMission,
}

// planCmd synthesizes a plan without executing it
var planCmd = &cobra.Command{
	Use:   "plan [directive]",
	Short: "Synthesize and print a plan without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runFiles, "file", "f", nil, "Attach a file to the directive (repeatable)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode override (sequential, staggered, parallel)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "", "Write inline artifacts to this directory")

	planCmd.Flags().StringSliceVarP(&runFiles, "file", "f", nil, "Attach a file to the directive (repeatable)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
}

func runMission(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	directive, err := buildDirective(args, runFiles)
	if err != nil {
		return err
	}
	if runMode != "" {
		mode := config.ExecutionMode(strings.ToLower(runMode))
		if !mode.Valid() {
			return fmt.Errorf("invalid execution mode: %s (valid: %v)", runMode, config.ValidModes)
		}
		cfg.Execution.Mode = mode
	}

	gw, err := buildGateway(ctx)
	if err != nil {
		return err
	}

	sinks := swarm.MultiSink{swarm.NewLogSink(logger)}
	opts := []swarm.Option{}
	if cfg.IsJournalEnabled() {
		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		opts = append(opts, swarm.WithReportHook(recordReport(journal)))
	}
	opts = append(opts, swarm.WithSink(sinks))

	coord := buildCoordinator(gw, opts...)
	logger.Info("Mission starting",
		zap.String("mode", string(cfg.Execution.Mode)),
		zap.Int("files", len(directive.Files)))

	report, err := coord.Run(ctx, directive)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), renderReport(report))

	if runOutDir != "" {
		written, err := writeArtifacts(runOutDir, report.Artifacts)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("wrote "+p))
		}
	}

	if report.Failed() {
		return fmt.Errorf("mission %s produced no artifacts", report.MissionID)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	directive, err := buildDirective(args, runFiles)
	if err != nil {
		return err
	}
	gw, err := buildGateway(ctx)
	if err != nil {
		return err
	}

	plan, err := buildSynthesizer(gw).SynthesizePlan(ctx, directive)
	if err != nil {
		return fmt.Errorf("plan synthesis failed: %w", err)
	}

	if planJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderPlan(plan, directive.Files))
	return nil
}

// buildDirective joins the args into the directive text and reads the
// attachments.
func buildDirective(args, paths []string) (mission.Directive, error) {
	d := mission.Directive{Text: strings.TrimSpace(strings.Join(args, " "))}
	if d.Text == "" {
		return d, swarm.ErrEmptyDirective
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return d, fmt.Errorf("failed to read attachment: %w", err)
		}
		d.Files = append(d.Files, mission.DirectiveFile{
			Name:     filepath.Base(p),
			MIMEType: mimeFor(p, data),
			Data:     data,
		})
	}
	return d, nil
}

func mimeFor(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		mt, _, _ := strings.Cut(t, ";")
		return mt
	}
	mt, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mt
}

var fallbackExt = map[string]string{
	"text/markdown": ".md",
	"text/plain":    ".txt",
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"audio/wav":     ".wav",
	"video/mp4":     ".mp4",
}

func extFor(mimeType string) string {
	if ext, ok := fallbackExt[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// writeArtifacts writes every inline artifact to dir and returns the paths.
// URI artifacts are left where they are.
func writeArtifacts(dir string, arts []mission.Artifact) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	var written []string
	for _, a := range arts {
		if len(a.Payload.Data) == 0 {
			continue
		}
		short := a.ID
		if len(short) > 8 {
			short = short[:8]
		}
		name := fmt.Sprintf("%s-%s-%s%s", a.TaskID, strings.ToLower(a.Label), short, extFor(a.Payload.MIMEType))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, a.Payload.Data, 0644); err != nil {
			return written, fmt.Errorf("failed to write artifact: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}
