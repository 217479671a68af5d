package swarm

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"missionforge/internal/logging"
	"missionforge/internal/mission"
)

// EventType names an outward mission event.
type EventType string

const (
	EventTaskStatusChanged EventType = "task_status_changed"
	EventArtifactAdded     EventType = "artifact_added"
	EventPhaseChanged      EventType = "mission_phase_changed"
	EventLogLine           EventType = "log_line"
)

// Log line levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarn    = "warn"
	LevelError   = "error"
)

// Event is emitted by the coordinator on every task transition, artifact,
// phase change and log line.
type Event struct {
	Type      EventType         `json:"type"`
	MissionID string            `json:"missionId"`
	Timestamp time.Time         `json:"timestamp"`
	Phase     mission.Phase     `json:"phase,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	Message   string            `json:"message,omitempty"`
	Level     string            `json:"level,omitempty"`
	Task      *mission.Task     `json:"task,omitempty"`
	Artifact  *mission.Artifact `json:"artifact,omitempty"`
}

// EventSink receives mission events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

// Publish forwards e to each non-nil sink.
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// ChannelSink buffers events on a channel and drops them when the consumer
// falls behind.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, size)}
}

// Publish enqueues e, or drops it if the buffer is full.
func (s *ChannelSink) Publish(e Event) {
	select {
	case s.ch <- e:
	default:
		n := s.dropped.Add(1)
		logging.EventsWarn("Event channel full, dropped %s (total dropped %d)", e.Type, n)
	}
}

// C returns the receive side of the buffer.
func (s *ChannelSink) C() <-chan Event { return s.ch }

// Dropped returns how many events were discarded.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

// LogSink writes events to a zap logger.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards everything.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("mission")}
}

// Publish logs e with typed fields.
func (s *LogSink) Publish(e Event) {
	fields := []zap.Field{
		zap.String("mission_id", e.MissionID),
		zap.String("event", string(e.Type)),
	}
	if e.Phase != "" {
		fields = append(fields, zap.String("phase", string(e.Phase)))
	}
	if e.TaskID != "" {
		fields = append(fields, zap.String("task_id", e.TaskID))
	}
	if e.Task != nil {
		fields = append(fields,
			zap.String("node", e.Task.AssignedNode),
			zap.String("status", string(e.Task.Status)),
			zap.Int("progress", e.Task.Progress))
		if e.Task.Error != "" {
			fields = append(fields, zap.String("error_kind", string(e.Task.Error)))
		}
	}
	if e.Artifact != nil {
		fields = append(fields,
			zap.String("artifact_id", e.Artifact.ID),
			zap.String("artifact_kind", string(e.Artifact.Kind)))
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	switch e.Level {
	case LevelError:
		s.log.Error(msg, fields...)
	case LevelWarn:
		s.log.Warn(msg, fields...)
	case LevelInfo, LevelSuccess:
		s.log.Info(msg, fields...)
	default:
		s.log.Debug(msg, fields...)
	}
}
