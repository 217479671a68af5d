package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all missionforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version" toml:"version"`

	// Remote inference gateway
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`

	// Model catalogue per route
	Models ModelsConfig `yaml:"models" toml:"models"`

	// Swarm execution settings
	Execution ExecutionConfig `yaml:"execution" toml:"execution"`

	// HTTP/websocket surface
	Server ServerConfig `yaml:"server" toml:"server"`

	// Event bus
	NATS NATSConfig `yaml:"nats" toml:"nats"`

	// Mission journal
	Journal JournalConfig `yaml:"journal" toml:"journal"`

	// Logging
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// GatewayConfig configures the remote inference gateway.
type GatewayConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Per-attempt wall clock budget for single round trips
	NodeTimeout string `yaml:"node_timeout" toml:"node_timeout"`
	// Budget for the whole video submit+poll sequence
	VideoTimeout string `yaml:"video_timeout" toml:"video_timeout"`
	PlanTimeout  string `yaml:"plan_timeout" toml:"plan_timeout"`
	PollInterval string `yaml:"poll_interval" toml:"poll_interval"`
	QuotaBackoff string `yaml:"quota_backoff" toml:"quota_backoff"`

	ThinkingBudget      int    `yaml:"thinking_budget" toml:"thinking_budget"`
	FastMaxOutputTokens int    `yaml:"fast_max_output_tokens" toml:"fast_max_output_tokens"`
	Voice               string `yaml:"voice" toml:"voice"`
	ImageAspectRatio    string `yaml:"image_aspect_ratio" toml:"image_aspect_ratio"`
	ImageSize           string `yaml:"image_size" toml:"image_size"`
	VideoAspectRatio    string `yaml:"video_aspect_ratio" toml:"video_aspect_ratio"`
	VideoResolution     string `yaml:"video_resolution" toml:"video_resolution"`
}

// ModelsConfig names the model used by each route.
type ModelsConfig struct {
	Planner       string `yaml:"planner" toml:"planner"`
	Reasoning     string `yaml:"reasoning" toml:"reasoning"`
	Fast          string `yaml:"fast" toml:"fast"`
	Search        string `yaml:"search" toml:"search"`
	Maps          string `yaml:"maps" toml:"maps"`
	ImageGenerate string `yaml:"image_generate" toml:"image_generate"`
	ImageEdit     string `yaml:"image_edit" toml:"image_edit"`
	Video         string `yaml:"video" toml:"video"`
	Speech        string `yaml:"speech" toml:"speech"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr" toml:"listen_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// NATSConfig configures event publication over NATS.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	URL      string `yaml:"url" toml:"url"`           // external server; empty starts an embedded one
	Port     int    `yaml:"port" toml:"port"`         // embedded server port
	StoreDir string `yaml:"store_dir" toml:"store_dir"` // embedded JetStream storage
}

// JournalConfig configures the optional SQLite mission journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "missionforge",
		Version: "0.4.0",

		Gateway: GatewayConfig{
			NodeTimeout:         "120s",
			VideoTimeout:        "10m",
			PlanTimeout:         "90s",
			PollInterval:        "8s",
			QuotaBackoff:        "2s",
			ThinkingBudget:      32768,
			FastMaxOutputTokens: 1024,
			Voice:               "Kore",
			ImageAspectRatio:    "1:1",
			ImageSize:           "1K",
			VideoAspectRatio:    "16:9",
			VideoResolution:     "720p",
		},

		Models: ModelsConfig{
			Planner:       "gemini-3-flash-preview",
			Reasoning:     "gemini-3-pro-preview",
			Fast:          "gemini-2.5-flash-lite",
			Search:        "gemini-3-flash-preview",
			Maps:          "gemini-2.5-flash",
			ImageGenerate: "gemini-3-pro-image-preview",
			ImageEdit:     "gemini-2.5-flash-image",
			Video:         "veo-3.1-fast-generate-preview",
			Speech:        "gemini-2.5-flash-preview-tts",
		},

		Execution: ExecutionConfig{
			Mode:            ModeStaggered,
			SettleDelay:     "1500ms",
			StaggerInterval: "800ms",
			FinalizeDelay:   "1500ms",
			MaxConcurrent:   0,
			MissionTimeout:  "",
		},

		Server: ServerConfig{
			ListenAddr:      ":8088",
			ShutdownTimeout: "10s",
		},

		NATS: NATSConfig{
			Enabled: false,
			Port:    4222,
		},

		Journal: JournalConfig{
			Enabled: false,
			Path:    "data/missions.db",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
			Dir:       "logs",
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration as YAML, or TOML when path ends in .toml.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = out
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key from environment (GEMINI_API_KEY wins over GOOGLE_API_KEY)
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}

	if mode := os.Getenv("FORGE_EXECUTION_MODE"); mode != "" {
		c.Execution.Mode = ExecutionMode(strings.ToLower(mode))
	}
	if addr := os.Getenv("FORGE_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if url := os.Getenv("FORGE_NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
	if path := os.Getenv("FORGE_JOURNAL"); path != "" {
		c.Journal.Path = path
		c.Journal.Enabled = true
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetNodeTimeout returns the per-attempt timeout as a duration.
func (c *Config) GetNodeTimeout() time.Duration {
	return parseDuration(c.Gateway.NodeTimeout, 120*time.Second)
}

// GetVideoTimeout returns the video sequence timeout as a duration.
func (c *Config) GetVideoTimeout() time.Duration {
	return parseDuration(c.Gateway.VideoTimeout, 10*time.Minute)
}

// GetPlanTimeout returns the plan synthesis timeout as a duration.
func (c *Config) GetPlanTimeout() time.Duration {
	return parseDuration(c.Gateway.PlanTimeout, 90*time.Second)
}

// GetPollInterval returns the video poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Gateway.PollInterval, 8*time.Second)
}

// GetQuotaBackoff returns the base delay before a quota retry.
func (c *Config) GetQuotaBackoff() time.Duration {
	return parseDuration(c.Gateway.QuotaBackoff, 2*time.Second)
}

// GetShutdownTimeout returns the server shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// Timeouts derives the timeout set from the gateway and execution sections.
func (c *Config) Timeouts() Timeouts {
	t := DefaultTimeouts()
	t.NodeTimeout = c.GetNodeTimeout()
	t.VideoTimeout = c.GetVideoTimeout()
	t.PlanTimeout = c.GetPlanTimeout()
	t.PollInterval = c.GetPollInterval()
	t.QuotaBackoffBase = c.GetQuotaBackoff()
	t.MissionTimeout = c.Execution.GetMissionTimeout()
	return t
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if !c.Execution.Mode.Valid() {
		return fmt.Errorf("invalid execution mode: %s (valid: %v)", c.Execution.Mode, ValidModes)
	}
	if c.Execution.MaxConcurrent < 0 {
		return fmt.Errorf("execution.max_concurrent must be >= 0, got %d", c.Execution.MaxConcurrent)
	}
	for name, v := range map[string]string{
		"gateway.node_timeout":  c.Gateway.NodeTimeout,
		"gateway.video_timeout": c.Gateway.VideoTimeout,
		"gateway.poll_interval": c.Gateway.PollInterval,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", name, v)
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" && c.NATS.Port == 0 {
		return fmt.Errorf("nats enabled without url or embedded port")
	}
	return nil
}

// IsNATSEnabled returns whether mission events are published to NATS.
func (c *Config) IsNATSEnabled() bool {
	return c.NATS.Enabled
}

// IsJournalEnabled returns whether missions are recorded to SQLite.
func (c *Config) IsJournalEnabled() bool {
	return c.Journal.Enabled && c.Journal.Path != ""
}
