package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"missionforge/internal/config"
	"missionforge/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose    bool
	apiKey     string
	configPath string
	timeout    time.Duration
	offline    bool

	// Logger
	logger *zap.Logger

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "missionforge - multimodal mission swarm orchestrator",
	Long: `missionforge turns a natural-language directive into a plan of tasks,
dispatches each task to the generative route that fits it (text, grounded
search, image, video, speech) and collects the produced artifacts.

Run "forge run <directive>" for a one-shot mission or "forge serve" for the
HTTP/websocket control surface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.Gateway.APIKey = apiKey
		}
		if offline {
			cfg.Gateway.PollInterval = config.FastTimeouts().PollInterval.String()
		}
		config.SetTimeouts(cfg.Timeouts())

		if err := logging.Initialize(cfg.Logging.Settings()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if verbose {
			logging.SetTee(logger.Core())
		}
		logging.Boot("forge %s starting (config=%s, offline=%v)", version, configPath, offline)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.SetTee(nil)
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "forge.yaml", "Config file (.yaml or .toml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "Operation timeout (0 disables)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Answer every gateway call locally (no API key needed)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
