// Package artifact turns generation results into the session's ordered
// artifact collection.
package artifact

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"missionforge/internal/logging"
	"missionforge/internal/mission"
)

// Aggregator owns the artifact collection for one mission session.
// Artifacts are appended in arrival order and never re-sorted or
// de-duplicated.
type Aggregator struct {
	mu        sync.Mutex
	artifacts []mission.Artifact

	now   func() time.Time
	newID func() string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDFunc overrides artifact id generation.
func WithIDFunc(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Absorb finalizes the draft artifacts of res and appends them. Each call
// creates fresh entries, so absorbing the same result twice yields two sets.
// Results that are not successful contribute nothing.
func (a *Aggregator) Absorb(taskID string, res mission.GenerationResult) []mission.Artifact {
	if res.Status == mission.ResultError || len(res.Artifacts) == 0 {
		return nil
	}

	out := make([]mission.Artifact, 0, len(res.Artifacts))
	for _, draft := range res.Artifacts {
		if draft.Payload.Empty() {
			continue
		}
		art := draft
		art.ID = a.newID()
		art.TaskID = taskID
		art.OriginatingNode = res.NodeID
		art.CreatedAt = a.now()
		if len(res.Citations) > 0 {
			art.Citations = append([]mission.Citation(nil), res.Citations...)
		}
		if art.Model == "" {
			art.Model = res.Model
		}
		out = append(out, art)
	}
	if len(out) == 0 {
		return nil
	}

	a.mu.Lock()
	a.artifacts = append(a.artifacts, out...)
	total := len(a.artifacts)
	a.mu.Unlock()

	logging.Artifact("Absorbed %d artifact(s) from task %s on %s (session total %d)", len(out), taskID, res.NodeID, total)
	return out
}

// Artifacts returns a copy of the collection in arrival order.
func (a *Aggregator) Artifacts() []mission.Artifact {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]mission.Artifact, len(a.artifacts))
	copy(out, a.artifacts)
	return out
}

// Len returns the number of absorbed artifacts.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.artifacts)
}

// Reset clears the collection for a new session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.artifacts = nil
	a.mu.Unlock()
	logging.ArtifactDebug("Artifact collection reset")
}
