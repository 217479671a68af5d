package config

import (
	"sync"
	"time"
)

// Timeouts centralizes timeout configuration for gateway calls and mission dispatch.
//
// The shortest timeout in a chain wins: a per-attempt NodeTimeout wrapped in
// a shorter MissionTimeout fails when the mission deadline passes.
type Timeouts struct {
	// HTTPClientTimeout bounds a single HTTP exchange with the gateway,
	// including the response body read.
	HTTPClientTimeout time.Duration `json:"http_client_timeout"`

	// NodeTimeout is the per-attempt budget for single round trips
	// (text, grounded text, image, speech).
	NodeTimeout time.Duration `json:"node_timeout"`

	// VideoTimeout bounds the whole video submit+poll sequence.
	VideoTimeout time.Duration `json:"video_timeout"`

	// PlanTimeout bounds plan synthesis.
	PlanTimeout time.Duration `json:"plan_timeout"`

	// PollInterval is the delay between video operation polls.
	PollInterval time.Duration `json:"poll_interval"`

	// QuotaBackoffBase is the base delay before the single quota retry.
	// Attempt n waits QuotaBackoffBase * 2^n.
	QuotaBackoffBase time.Duration `json:"quota_backoff_base"`

	// MissionTimeout is the optional mission-wide deadline; 0 disables it.
	MissionTimeout time.Duration `json:"mission_timeout"`
}

// DefaultTimeouts returns the production defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		HTTPClientTimeout: 5 * time.Minute,
		NodeTimeout:       120 * time.Second,
		VideoTimeout:      10 * time.Minute,
		PlanTimeout:       90 * time.Second,
		PollInterval:      8 * time.Second,
		QuotaBackoffBase:  2 * time.Second,
		MissionTimeout:    0,
	}
}

// FastTimeouts returns short timeouts for local runs against fakes.
func FastTimeouts() Timeouts {
	return Timeouts{
		HTTPClientTimeout: 5 * time.Second,
		NodeTimeout:       2 * time.Second,
		VideoTimeout:      5 * time.Second,
		PlanTimeout:       2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		QuotaBackoffBase:  5 * time.Millisecond,
		MissionTimeout:    0,
	}
}

var (
	globalTimeouts   = DefaultTimeouts()
	globalTimeoutsMu sync.RWMutex
)

// GetTimeouts returns the global timeout configuration.
func GetTimeouts() Timeouts {
	globalTimeoutsMu.RLock()
	defer globalTimeoutsMu.RUnlock()
	return globalTimeouts
}

// SetTimeouts updates the global timeout configuration.
// This should be called early in application startup.
func SetTimeouts(t Timeouts) {
	globalTimeoutsMu.Lock()
	defer globalTimeoutsMu.Unlock()
	globalTimeouts = t
}
