// Package store keeps an optional SQLite journal of finished missions.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/swarm"
)

// ErrNotFound is returned when a mission id is not in the journal.
var ErrNotFound = errors.New("mission not found")

// Journal records mission reports and their log lines.
// Artifact payload bytes are never stored, only their metadata.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewJournal opens or creates the journal database at path.
func NewJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, dbPath: path}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Mission journal opened at %s", path)
	return j, nil
}

func (j *Journal) initialize() error {
	missionTable := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		directive TEXT NOT NULL,
		outcome TEXT NOT NULL,
		used_fallback INTEGER NOT NULL DEFAULT 0,
		plan_error TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		halted INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		retries INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_missions_started ON missions(started_at);
	`

	taskTable := `
	CREATE TABLE IF NOT EXISTS mission_tasks (
		mission_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		label TEXT,
		description TEXT,
		node TEXT NOT NULL,
		kind TEXT,
		kind_declared INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		PRIMARY KEY (mission_id, position)
	);
	`

	artifactTable := `
	CREATE TABLE IF NOT EXISTS mission_artifacts (
		id TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		task_id TEXT,
		kind TEXT NOT NULL,
		label TEXT,
		node TEXT,
		model TEXT,
		mime_type TEXT,
		uri TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		citations_json TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_mission ON mission_artifacts(mission_id);
	`

	eventTable := `
	CREATE TABLE IF NOT EXISTS mission_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mission_id TEXT NOT NULL,
		type TEXT NOT NULL,
		task_id TEXT,
		level TEXT,
		message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_mission ON mission_events(mission_id);
	`

	for _, table := range []string{missionTable, taskTable, artifactTable, eventTable} {
		if _, err := j.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordReport stores a finished mission, replacing any earlier record with
// the same id.
func (j *Journal) RecordReport(r *mission.Report) error {
	if r == nil || r.MissionID == "" {
		return fmt.Errorf("report has no mission id")
	}
	timer := logging.StartTimer(logging.CategoryStore, "RecordReport")
	defer timer.Stop()

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM missions WHERE id = ?",
		"DELETE FROM mission_tasks WHERE mission_id = ?",
		"DELETE FROM mission_artifacts WHERE mission_id = ?",
	} {
		if _, err := tx.Exec(stmt, r.MissionID); err != nil {
			return fmt.Errorf("failed to clear mission: %w", err)
		}
	}

	_, err = tx.Exec(`INSERT INTO missions
		(id, directive, outcome, used_fallback, plan_error, completed, halted, pending, retries, elapsed_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MissionID, r.Directive, string(r.Outcome), r.UsedFallback, string(r.PlanError),
		r.Stats.Completed, r.Stats.Halted, r.Stats.Pending, r.Stats.Retries, r.Stats.Elapsed.Milliseconds(),
		r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", err)
	}

	if r.Plan != nil {
		for i, t := range r.Plan.Tasks {
			_, err := tx.Exec(`INSERT INTO mission_tasks
				(mission_id, position, task_id, label, description, node, kind, kind_declared, status, progress, error_kind)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.MissionID, i, t.ID, t.Label, t.Description, t.AssignedNode, string(t.Kind), t.KindDeclared,
				string(t.Status), t.Progress, string(t.Error))
			if err != nil {
				return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
			}
		}
	}

	for i, a := range r.Artifacts {
		citations, err := json.Marshal(a.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO mission_artifacts
			(id, mission_id, position, task_id, kind, label, node, model, mime_type, uri, size_bytes, citations_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, r.MissionID, i, a.TaskID, string(a.Kind), a.Label, a.OriginatingNode, a.Model,
			a.Payload.MIMEType, a.Payload.URI, len(a.Payload.Data), string(citations), a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.Store("Recorded mission %s (%s, %d artifacts)", r.MissionID, r.Outcome, len(r.Artifacts))
	return nil
}

// Publish stores log lines and phase changes. It implements swarm.EventSink;
// write failures are logged and dropped.
func (j *Journal) Publish(e swarm.Event) {
	msg := e.Message
	switch e.Type {
	case swarm.EventLogLine:
	case swarm.EventPhaseChanged:
		msg = string(e.Phase)
	default:
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`INSERT INTO mission_events (mission_id, type, task_id, level, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.MissionID, string(e.Type), e.TaskID, e.Level, msg, e.Timestamp.UTC())
	if err != nil {
		logging.StoreError("Failed to record event for %s: %v", e.MissionID, err)
	}
}

// MissionSummary is one row of the mission history.
type MissionSummary struct {
	ID           string          `json:"id"`
	Directive    string          `json:"directive"`
	Outcome      mission.Outcome `json:"outcome"`
	UsedFallback bool            `json:"usedFallback"`
	Completed    int             `json:"completed"`
	Halted       int             `json:"halted"`
	Artifacts    int             `json:"artifacts"`
	StartedAt    time.Time       `json:"startedAt"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// ListMissions returns the most recent missions first. limit <= 0 means 50.
func (j *Journal) ListMissions(limit int) ([]MissionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`SELECT m.id, m.directive, m.outcome, m.used_fallback, m.completed, m.halted,
			(SELECT COUNT(*) FROM mission_artifacts a WHERE a.mission_id = m.id), m.started_at, m.elapsed_ms
		FROM missions m ORDER BY m.started_at DESC, m.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}
	defer rows.Close()

	var out []MissionSummary
	for rows.Next() {
		var (
			s         MissionSummary
			outcome   string
			elapsedMS int64
		)
		if err := rows.Scan(&s.ID, &s.Directive, &outcome, &s.UsedFallback, &s.Completed, &s.Halted,
			&s.Artifacts, &s.StartedAt, &elapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan mission: %w", err)
		}
		s.Outcome = mission.Outcome(outcome)
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get rebuilds a stored report. Artifacts come back without inline data.
func (j *Journal) Get(id string) (*mission.Report, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	r := &mission.Report{MissionID: id, Plan: &mission.Plan{}}
	var (
		outcome, planErr string
		elapsedMS        int64
	)
	err := j.db.QueryRow(`SELECT directive, outcome, used_fallback, plan_error, completed, halted, pending,
			retries, elapsed_ms, started_at, finished_at
		FROM missions WHERE id = ?`, id).
		Scan(&r.Directive, &outcome, &r.UsedFallback, &planErr, &r.Stats.Completed, &r.Stats.Halted,
			&r.Stats.Pending, &r.Stats.Retries, &elapsedMS, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}
	r.Outcome = mission.Outcome(outcome)
	r.PlanError = mission.ErrorKind(planErr)
	r.Stats.Elapsed = time.Duration(elapsedMS) * time.Millisecond

	if err := j.loadTasks(r); err != nil {
		return nil, err
	}
	if err := j.loadArtifacts(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (j *Journal) loadTasks(r *mission.Report) error {
	rows, err := j.db.Query(`SELECT task_id, label, description, node, kind, kind_declared, status, progress, error_kind
		FROM mission_tasks WHERE mission_id = ? ORDER BY position`, r.MissionID)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                      mission.Task
			kind, status, errKind string
		)
		if err := rows.Scan(&t.ID, &t.Label, &t.Description, &t.AssignedNode, &kind, &t.KindDeclared,
			&status, &t.Progress, &errKind); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		t.Kind = mission.TaskKind(kind)
		t.Status = mission.TaskStatus(status)
		t.Error = mission.ErrorKind(errKind)
		r.Plan.Tasks = append(r.Plan.Tasks, t)
	}
	return rows.Err()
}

func (j *Journal) loadArtifacts(r *mission.Report) error {
	rows, err := j.db.Query(`SELECT id, task_id, kind, label, node, model, mime_type, uri, citations_json, created_at
		FROM mission_artifacts WHERE mission_id = ? ORDER BY position`, r.MissionID)
	if err != nil {
		return fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a               mission.Artifact
			kind, citations string
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &kind, &a.Label, &a.OriginatingNode, &a.Model,
			&a.Payload.MIMEType, &a.Payload.URI, &citations, &a.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Kind = mission.ArtifactKind(kind)
		if citations != "" && citations != "null" {
			if err := json.Unmarshal([]byte(citations), &a.Citations); err != nil {
				return fmt.Errorf("failed to parse citations: %w", err)
			}
		}
		r.Artifacts = append(r.Artifacts, a)
	}
	return rows.Err()
}

// Events returns the recorded log lines of a mission in order.
func (j *Journal) Events(id string) ([]swarm.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Query(`SELECT type, task_id, level, message, created_at
		FROM mission_events WHERE mission_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []swarm.Event
	for rows.Next() {
		var (
			e                            swarm.Event
			typ, taskID, level, message string
		)
		if err := rows.Scan(&typ, &taskID, &level, &message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.MissionID = id
		e.Type = swarm.EventType(typ)
		e.TaskID = taskID
		e.Level = level
		e.Message = message
		if e.Type == swarm.EventPhaseChanged {
			e.Phase = mission.Phase(message)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ swarm.EventSink = (*Journal)(nil)
