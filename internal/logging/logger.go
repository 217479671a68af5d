// Package logging provides config-driven categorized file logging for missionforge.
// Logs are written to <dir>/<date>_<category>.log with one file per category.
// Logging is controlled by logging.debug_mode in the config file: when false,
// no files are written and every category logger is a no-op unless a tee core
// has been installed with SetTee.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup, config
	CategoryPerformance Category = "performance" // Timers, slow operations
	CategoryMission     Category = "mission"     // Coordinator state machine
	CategoryPlanner     Category = "planner"     // Plan synthesis
	CategoryRouter      Category = "router"      // Modality routing decisions
	CategoryGateway     Category = "gateway"     // Remote inference calls
	CategoryRetry       Category = "retry"       // Timeout/backoff policy
	CategoryArtifact    Category = "artifact"    // Aggregation
	CategoryEvents      Category = "events"      // Event fan-out (NATS, websocket)
	CategoryAPI         Category = "api"         // HTTP surface
	CategoryStore       Category = "store"       // Mission journal
)

// Settings mirrors config.LoggingConfig to avoid an import cycle.
type Settings struct {
	Dir        string
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	settings   Settings
	settingsMu sync.RWMutex
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	tee        zapcore.Core
)

// Initialize applies settings and creates the log directory when debug mode
// is on. It may be called again to reconfigure; open files are closed first.
func Initialize(s Settings) error {
	CloseAll()

	settingsMu.Lock()
	settings = s
	lvl := zapcore.InfoLevel
	if s.Level != "" {
		if err := lvl.UnmarshalText([]byte(s.Level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	level.SetLevel(lvl)
	settingsMu.Unlock()

	if !s.DebugMode {
		return nil
	}
	if s.Dir == "" {
		return fmt.Errorf("log directory required in debug mode")
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== missionforge logging initialized ===")
	boot.Info("Logs directory: %s", s.Dir)
	boot.Info("Log level: %s", lvl)
	if len(s.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

// SetTee mirrors every category into core in addition to the files. The CLI
// uses it to surface category logs on stderr in verbose mode; tests use it
// with an observer core. Pass nil to remove.
func SetTee(core zapcore.Core) {
	CloseAll()
	settingsMu.Lock()
	tee = core
	settingsMu.Unlock()
}

// IsDebugMode returns whether file logging is enabled
func IsDebugMode() bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !settings.DebugMode && tee == nil {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for category. Disabled categories get a
// no-op logger.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	settingsMu.RLock()
	s := settings
	t := tee
	enabled := categoryEnabledLocked(category)
	settingsMu.RUnlock()

	if !enabled {
		return &Logger{category: category}
	}

	var cores []zapcore.Core
	var file *os.File
	if s.DebugMode && s.Dir != "" {
		date := time.Now().Format("2006-01-02")
		logPath := filepath.Join(s.Dir, fmt.Sprintf("%s_%s.log", date, category))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		} else {
			file = f
			cores = append(cores, zapcore.NewCore(newEncoder(s.JSONFormat), zapcore.AddSync(f), level))
		}
	}
	if t != nil {
		cores = append(cores, t)
	}
	if len(cores) == 0 {
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(zapcore.NewTee(cores...)).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func newEncoder(jsonFormat bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonFormat {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// StructuredLog writes msg with key/value fields at the given level.
func (l *Logger) StructuredLog(lvl zapcore.Level, msg string, fields map[string]interface{}) {
	if l.sugar == nil {
		return
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch lvl {
	case zapcore.DebugLevel:
		l.sugar.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		l.sugar.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Mission logs to the mission category
func Mission(format string, args ...interface{}) { Get(CategoryMission).Info(format, args...) }

// MissionDebug logs debug to the mission category
func MissionDebug(format string, args ...interface{}) { Get(CategoryMission).Debug(format, args...) }

// MissionWarn logs warning to the mission category
func MissionWarn(format string, args ...interface{}) { Get(CategoryMission).Warn(format, args...) }

// MissionError logs error to the mission category
func MissionError(format string, args ...interface{}) { Get(CategoryMission).Error(format, args...) }

// Planner logs to the planner category
func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...interface{}) { Get(CategoryPlanner).Debug(format, args...) }

// PlannerWarn logs warning to the planner category
func PlannerWarn(format string, args ...interface{}) { Get(CategoryPlanner).Warn(format, args...) }

// Router logs to the router category
func Router(format string, args ...interface{}) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs debug to the router category
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }

// RouterWarn logs warning to the router category
func RouterWarn(format string, args ...interface{}) { Get(CategoryRouter).Warn(format, args...) }

// Gateway logs to the gateway category
func Gateway(format string, args ...interface{}) { Get(CategoryGateway).Info(format, args...) }

// GatewayDebug logs debug to the gateway category
func GatewayDebug(format string, args ...interface{}) { Get(CategoryGateway).Debug(format, args...) }

// GatewayError logs error to the gateway category
func GatewayError(format string, args ...interface{}) { Get(CategoryGateway).Error(format, args...) }

// Retry logs to the retry category
func Retry(format string, args ...interface{}) { Get(CategoryRetry).Info(format, args...) }

// RetryWarn logs warning to the retry category
func RetryWarn(format string, args ...interface{}) { Get(CategoryRetry).Warn(format, args...) }

// Artifact logs to the artifact category
func Artifact(format string, args ...interface{}) { Get(CategoryArtifact).Info(format, args...) }

// ArtifactDebug logs debug to the artifact category
func ArtifactDebug(format string, args ...interface{}) { Get(CategoryArtifact).Debug(format, args...) }

// Events logs to the events category
func Events(format string, args ...interface{}) { Get(CategoryEvents).Info(format, args...) }

// EventsWarn logs warning to the events category
func EventsWarn(format string, args ...interface{}) { Get(CategoryEvents).Warn(format, args...) }

// API logs to the api category
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIWarn logs warning to the api category
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
