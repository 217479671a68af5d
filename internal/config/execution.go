package config

import "time"

// ExecutionMode selects how the coordinator schedules a plan's tasks.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential" // one at a time, settle delay between tasks
	ModeStaggered  ExecutionMode = "staggered"  // start i waits i*StaggerInterval, then concurrent
	ModeParallel   ExecutionMode = "parallel"   // all at once
)

// ValidModes lists all supported execution modes.
var ValidModes = []ExecutionMode{ModeSequential, ModeStaggered, ModeParallel}

// Valid reports whether m is a supported mode.
func (m ExecutionMode) Valid() bool {
	for _, v := range ValidModes {
		if m == v {
			return true
		}
	}
	return false
}

// ExecutionConfig configures swarm dispatch.
type ExecutionConfig struct {
	Mode            ExecutionMode `yaml:"mode" toml:"mode"`
	SettleDelay     string        `yaml:"settle_delay" toml:"settle_delay"`
	StaggerInterval string        `yaml:"stagger_interval" toml:"stagger_interval"`
	FinalizeDelay   string        `yaml:"finalize_delay" toml:"finalize_delay"`

	// 0 disables the cap on concurrent in-flight tasks
	MaxConcurrent int `yaml:"max_concurrent" toml:"max_concurrent"`
	// Empty or "0" disables the mission-wide deadline
	MissionTimeout string `yaml:"mission_timeout" toml:"mission_timeout"`
}

// GetSettleDelay returns the sequential inter-task delay.
func (e ExecutionConfig) GetSettleDelay() time.Duration {
	return parseDuration(e.SettleDelay, 1500*time.Millisecond)
}

// GetStaggerInterval returns the per-index start delay for staggered mode.
func (e ExecutionConfig) GetStaggerInterval() time.Duration {
	return parseDuration(e.StaggerInterval, 800*time.Millisecond)
}

// GetFinalizeDelay returns the pause spent in FINALIZING.
func (e ExecutionConfig) GetFinalizeDelay() time.Duration {
	return parseDuration(e.FinalizeDelay, 1500*time.Millisecond)
}

// GetMissionTimeout returns the mission-wide deadline, 0 when disabled.
func (e ExecutionConfig) GetMissionTimeout() time.Duration {
	return parseDuration(e.MissionTimeout, 0)
}
