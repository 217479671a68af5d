// Package mission holds the data model shared by the planner, router,
// aggregator and coordinator: directives, tasks, plans, generation results,
// artifacts and the per-mission state container.
//
// A mission runs one directive end to end:
//   - the planner decomposes the directive into a Plan
//   - the coordinator dispatches each Task through the modality router
//   - the aggregator turns each GenerationResult into session Artifacts
package mission

import (
	"encoding/base64"
	"strings"
	"time"
)

// TaskKind is the generation modality a task requests.
type TaskKind string

const (
	KindResearch TaskKind = "RESEARCH" // Grounded retrieval
	KindStrategy TaskKind = "STRATEGY" // Plain text reasoning
	KindImage    TaskKind = "IMAGE"    // Image synthesis or edit
	KindVideo    TaskKind = "VIDEO"    // Long-running video synthesis
)

// ParseTaskKind normalizes a kind string. ok is false for unknown values.
func ParseTaskKind(s string) (TaskKind, bool) {
	switch TaskKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindResearch:
		return KindResearch, true
	case KindStrategy:
		return KindStrategy, true
	case KindImage:
		return KindImage, true
	case KindVideo:
		return KindVideo, true
	}
	return "", false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskActive    TaskStatus = "ACTIVE"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskHalted    TaskStatus = "HALTED"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskHalted
}

// DirectiveFile is a binary attachment submitted with a directive.
type DirectiveFile struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// IsImage reports whether the attachment is an image.
func (f DirectiveFile) IsImage() bool { return strings.HasPrefix(f.MIMEType, "image/") }

// IsVideo reports whether the attachment is a video.
func (f DirectiveFile) IsVideo() bool { return strings.HasPrefix(f.MIMEType, "video/") }

// Directive is the operator's request that seeds a mission. It is never
// mutated after submission.
type Directive struct {
	Text  string          `json:"text"`
	Files []DirectiveFile `json:"files,omitempty"`
}

// Task is one strategic objective bound to an executing node.
type Task struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	Description  string     `json:"description"`
	AssignedNode string     `json:"assignedNode"`
	Kind         TaskKind   `json:"kind"`
	KindDeclared bool       `json:"kindDeclared"` // false when Kind is the planner default
	Status       TaskStatus `json:"status"`
	Progress     int        `json:"progress"`
	Error        ErrorKind  `json:"error,omitempty"`
}

// Plan is the ordered task list produced from a directive.
type Plan struct {
	Tasks []Task `json:"tasks"`
}

// Len returns the number of tasks.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tasks)
}

// Clone returns a deep copy safe to hand to event consumers.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Tasks: make([]Task, len(p.Tasks))}
	copy(out.Tasks, p.Tasks)
	return out
}

// ResultStatus distinguishes call failure from an empty deliverable.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultEmpty   ResultStatus = "empty" // call succeeded, nothing extractable
	ResultError   ResultStatus = "error"
)

// CitationKind identifies the grounding source type.
type CitationKind string

const (
	CitationWeb      CitationKind = "web"
	CitationLocation CitationKind = "location"
)

// Citation is a grounding source attached to a result.
type Citation struct {
	SourceURI string       `json:"sourceUri"`
	Title     string       `json:"title,omitempty"`
	Kind      CitationKind `json:"kind"`
}

// ArtifactKind is the deliverable type.
type ArtifactKind string

const (
	ArtifactImage    ArtifactKind = "image"
	ArtifactVideo    ArtifactKind = "video"
	ArtifactAudio    ArtifactKind = "audio"
	ArtifactDocument ArtifactKind = "document"
)

// Payload is either inline bytes or a URI.
type Payload struct {
	URI      string `json:"uri,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Empty reports whether the payload carries nothing.
func (p Payload) Empty() bool { return p.URI == "" && len(p.Data) == 0 }

// DataURI renders inline payloads as a data: URI and returns URI payloads as-is.
func (p Payload) DataURI() string {
	if p.URI != "" {
		return p.URI
	}
	if len(p.Data) == 0 {
		return ""
	}
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Artifact is a concrete output of a completed task. Artifacts are created by
// the aggregator and never mutated afterwards.
type Artifact struct {
	ID              string       `json:"id"`
	Kind            ArtifactKind `json:"kind"`
	Label           string       `json:"label"`
	TaskID          string       `json:"taskId"`
	OriginatingNode string       `json:"originatingNode"`
	Payload         Payload      `json:"payload"`
	Model           string       `json:"model,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	Citations       []Citation   `json:"citations,omitempty"`
}

// GenerationResult is the router's answer for one task.
type GenerationResult struct {
	Status    ResultStatus  `json:"status"`
	NodeID    string        `json:"nodeId"`
	Route     string        `json:"route,omitempty"`
	Model     string        `json:"model,omitempty"`
	Text      string        `json:"text,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	Artifacts []Artifact    `json:"artifacts,omitempty"` // drafts, finalized by the aggregator
	Citations []Citation    `json:"citations,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Err       ErrorKind     `json:"error,omitempty"`
}

// Phase is the coordinator state machine position.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhasePlanning   Phase = "PLANNING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseAborted    Phase = "ABORTED"
)

// Outcome summarizes how a mission ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS" // every task completed
	OutcomePartial Outcome = "PARTIAL" // at least one artifact, some tasks halted
	OutcomeFailed  Outcome = "FAILED"  // zero artifacts, not cancelled
	OutcomeAborted Outcome = "ABORTED"
)

// MissionState is a point-in-time view of the coordinator's state.
type MissionState struct {
	MissionID   string     `json:"missionId,omitempty"`
	Phase       Phase      `json:"phase"`
	Plan        *Plan      `json:"plan,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	IsActive    bool       `json:"isActive"`
	IsCancelled bool       `json:"isCancelled"`
}

// Stats are real counters collected while a mission runs.
type Stats struct {
	Completed int           `json:"completed"`
	Halted    int           `json:"halted"`
	Pending   int           `json:"pending"`
	Retries   int           `json:"retries"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Report is the final mission result handed back to the caller.
type Report struct {
	MissionID    string     `json:"missionId"`
	Directive    string     `json:"directive"`
	Plan         *Plan      `json:"plan"`
	Artifacts    []Artifact `json:"artifacts"`
	Outcome      Outcome    `json:"outcome"`
	UsedFallback bool       `json:"usedFallback"`
	PlanError    ErrorKind  `json:"planError,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   time.Time  `json:"finishedAt"`
	Stats        Stats      `json:"stats"`
}

// Failed reports whether the mission produced nothing and was not cancelled.
func (r *Report) Failed() bool {
	return r != nil && r.Outcome == OutcomeFailed
}
