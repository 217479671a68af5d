package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("GOOGLE_API_KEY sets key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "g-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.Gateway.APIKey)
	})

	t.Run("Precedence: GEMINI overrides GOOGLE", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "g-key")
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gm-key", cfg.Gateway.APIKey)
	})

	t.Run("Empty env leaves file value", func(t *testing.T) {
		clearEnv(t)

		cfg := &Config{Gateway: GatewayConfig{APIKey: "file-key"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "file-key", cfg.Gateway.APIKey)
	})

	t.Run("Execution mode is lowercased", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_EXECUTION_MODE", "SEQUENTIAL")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, ModeSequential, cfg.Execution.Mode)
	})

	t.Run("NATS URL enables the bus", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_NATS_URL", "nats://bus:4222")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.IsNATSEnabled())
		assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	})

	t.Run("Journal path enables the journal", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_JOURNAL", "/tmp/j.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.IsJournalEnabled())
		assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)
	})

	t.Run("Listen address", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORGE_LISTEN_ADDR", "127.0.0.1:7000")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	})
}

func TestLoggingConfig_Settings(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Format: "json", Dir: "x", DebugMode: true}
	s := lc.Settings()

	assert.True(t, s.JSONFormat)
	assert.Equal(t, "x", s.Dir)
	assert.True(t, lc.IsCategoryEnabled("mission"))

	lc.DebugMode = false
	assert.False(t, lc.IsCategoryEnabled("mission"))
}
