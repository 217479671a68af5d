// Package swarm runs missions: it plans a directive, dispatches every task
// through the modality router and collects the resulting artifacts.
//
// One Coordinator owns one MissionState at a time. The state moves through
//
//	IDLE -> PLANNING -> EXECUTING -> FINALIZING -> IDLE
//	                              \-> ABORTED ----> IDLE
//
// and every transition is published as an Event.
package swarm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"missionforge/internal/artifact"
	"missionforge/internal/config"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/planner"
	"missionforge/internal/router"
)

var (
	// ErrMissionActive is returned when a mission is submitted while another
	// one is still running.
	ErrMissionActive = errors.New("a mission is already active")
	// ErrNoActiveMission is returned by Abort when nothing is running.
	ErrNoActiveMission = errors.New("no active mission")
	// ErrEmptyDirective is returned for a blank directive.
	ErrEmptyDirective = errors.New("directive text is empty")
)

// Planner decomposes a directive into a plan.
type Planner interface {
	SynthesizePlan(ctx context.Context, d mission.Directive) (*mission.Plan, error)
}

// Dispatcher executes one task.
type Dispatcher interface {
	Dispatch(ctx context.Context, req router.Request) (mission.GenerationResult, error)
}

// Config controls scheduling.
type Config struct {
	Mode            config.ExecutionMode
	SettleDelay     time.Duration
	StaggerInterval time.Duration
	FinalizeDelay   time.Duration

	// MaxConcurrent caps in-flight tasks in staggered and parallel mode.
	// 0 means no cap.
	MaxConcurrent int
	// MissionTimeout bounds the whole execution phase. 0 means no deadline.
	MissionTimeout time.Duration
}

// ConfigFromExecution converts loaded execution settings.
func ConfigFromExecution(e config.ExecutionConfig) Config {
	return Config{
		Mode:            e.Mode,
		SettleDelay:     e.GetSettleDelay(),
		StaggerInterval: e.GetStaggerInterval(),
		FinalizeDelay:   e.GetFinalizeDelay(),
		MaxConcurrent:   e.MaxConcurrent,
		MissionTimeout:  e.GetMissionTimeout(),
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink sets the event sink.
func WithSink(s EventSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithAggregator replaces the artifact aggregator.
func WithAggregator(a *artifact.Aggregator) Option {
	return func(c *Coordinator) { c.agg = a }
}

// WithFallback replaces the emergency plan builder.
func WithFallback(fn func(mission.Directive) *mission.Plan) Option {
	return func(c *Coordinator) { c.fallback = fn }
}

// WithReportHook registers fn to receive every finished mission report.
// Hooks run on the mission goroutine before Done is closed.
func WithReportHook(fn func(*mission.Report)) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, fn) }
}

// WithClock overrides the time source used for events and reports.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDFunc overrides mission id generation.
func WithIDFunc(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// Coordinator is the single owner of MissionState.
type Coordinator struct {
	mu sync.RWMutex

	cfg        Config
	planner    Planner
	dispatcher Dispatcher
	sink       EventSink
	agg        *artifact.Aggregator
	fallback   func(mission.Directive) *mission.Plan
	now        func() time.Time
	newID      func() string
	hooks      []func(*mission.Report)

	// Current mission
	state     mission.MissionState
	directive mission.Directive
	abortCh   chan struct{}
	done      chan struct{}
	startedAt time.Time
	retries   atomic.Int64

	usedFallback bool
	planErr      mission.ErrorKind
	finishing    bool
	last         *mission.Report
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg Config, p Planner, d Dispatcher, opts ...Option) *Coordinator {
	if !cfg.Mode.Valid() {
		cfg.Mode = config.ModeStaggered
	}
	c := &Coordinator{
		cfg:        cfg,
		planner:    p,
		dispatcher: d,
		sink:       MultiSink{},
		agg:        artifact.NewAggregator(),
		fallback:   planner.EmergencyPlan,
		now:        time.Now,
		newID:      uuid.NewString,
		state:      mission.MissionState{Phase: mission.PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetConfig replaces the scheduling config. It applies to the next mission.
func (c *Coordinator) SetConfig(cfg Config) {
	if !cfg.Mode.Valid() {
		cfg.Mode = config.ModeStaggered
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	logging.Mission("Execution config updated: mode=%s max_concurrent=%d", cfg.Mode, cfg.MaxConcurrent)
}

// Submit starts a mission in the background and returns its id. ctx bounds
// the mission, so it must outlive the caller's request. Progress is observed
// through events, State and Done.
func (c *Coordinator) Submit(ctx context.Context, d mission.Directive) (string, error) {
	id, cfg, err := c.begin(d)
	if err != nil {
		return "", err
	}
	go c.run(ctx, id, cfg)
	return id, nil
}

// Run executes a mission and blocks until it returns to IDLE. Task failures
// never surface here; they are recorded in the report.
func (c *Coordinator) Run(ctx context.Context, d mission.Directive) (*mission.Report, error) {
	id, cfg, err := c.begin(d)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, id, cfg), nil
}

// Abort flags the active mission as cancelled. Tasks not yet started stay
// PENDING; results of in-flight tasks are discarded when they arrive.
func (c *Coordinator) Abort() error {
	c.mu.Lock()
	// The outcome is fixed once the report is being built.
	if !c.state.IsActive || c.state.IsCancelled || c.finishing {
		c.mu.Unlock()
		return ErrNoActiveMission
	}
	c.state.IsCancelled = true
	close(c.abortCh)
	id := c.state.MissionID
	c.mu.Unlock()

	logging.MissionWarn("Mission %s aborted by operator", id)
	c.logLine(id, LevelWarn, "Mission abort requested. In-flight results will be discarded.")
	c.setPhase(id, mission.PhaseAborted)
	return nil
}

// State returns a snapshot of the current mission.
func (c *Coordinator) State() mission.MissionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.Plan = c.state.Plan.Clone()
	s.Artifacts = c.agg.Artifacts()
	return s
}

// Done returns a channel closed when the current mission returns to IDLE.
// With no mission running the channel is already closed.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// LastReport returns the report of the most recently finished mission.
func (c *Coordinator) LastReport() *mission.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// begin claims the coordinator for a new mission.
func (c *Coordinator) begin(d mission.Directive) (string, Config, error) {
	if strings.TrimSpace(d.Text) == "" {
		return "", Config{}, ErrEmptyDirective
	}

	c.mu.Lock()
	if c.state.IsActive {
		c.mu.Unlock()
		return "", Config{}, ErrMissionActive
	}
	id := c.newID()
	c.state = mission.MissionState{MissionID: id, Phase: mission.PhaseIdle, IsActive: true}
	c.directive = d
	c.abortCh = make(chan struct{})
	c.done = make(chan struct{})
	c.startedAt = c.now()
	c.usedFallback = false
	c.planErr = ""
	c.finishing = false
	c.retries.Store(0)
	c.agg.Reset()
	cfg := c.cfg
	c.mu.Unlock()

	logging.Mission("Mission %s accepted: %q (%d files, mode %s)", id, d.Text, len(d.Files), cfg.Mode)
	return id, cfg, nil
}

func (c *Coordinator) run(ctx context.Context, id string, cfg Config) *mission.Report {
	timer := logging.StartTimer(logging.CategoryMission, "mission "+id)
	defer timer.StopWithInfo()

	// Cancelling the caller's context is treated as an operator abort.
	stop := context.AfterFunc(ctx, func() { _ = c.Abort() })
	defer stop()

	c.setPhase(id, mission.PhasePlanning)
	c.logLine(id, LevelInfo, "Decomposing directive into a task plan.")
	plan := c.plan(ctx, id)

	c.mu.Lock()
	c.state.Plan = plan
	cancelled := c.state.IsCancelled
	c.mu.Unlock()

	if !cancelled && plan.Len() > 0 {
		c.setPhase(id, mission.PhaseExecuting)
		c.execute(ctx, id, cfg, plan)
	}

	if ctx.Err() != nil {
		_ = c.Abort()
	}
	return c.finish(ctx, id, cfg)
}

// plan runs the synthesizer and substitutes the emergency plan on plan-level
// failures.
func (c *Coordinator) plan(ctx context.Context, id string) *mission.Plan {
	c.mu.RLock()
	d := c.directive
	c.mu.RUnlock()

	plan, err := c.planner.SynthesizePlan(ctx, d)
	if err == nil {
		c.logLine(id, LevelSuccess, "Plan synthesized with "+strconv.Itoa(plan.Len())+" objectives.")
		return plan
	}
	if !mission.IsPlanError(err) {
		logging.MissionWarn("Mission %s planning interrupted: %v", id, err)
		return nil
	}

	kind := mission.KindOf(err)
	logging.MissionWarn("Mission %s plan failed (%s), using emergency plan", id, mission.Summarize(err))
	c.mu.Lock()
	c.usedFallback = true
	c.planErr = kind
	c.mu.Unlock()
	c.logLine(id, LevelWarn, "Plan synthesis failed ("+string(kind)+"). Deploying emergency plan.")
	return c.fallback(d)
}

// finish computes the outcome, runs FINALIZING when earned and returns to IDLE.
func (c *Coordinator) finish(ctx context.Context, id string, cfg Config) *mission.Report {
	c.mu.Lock()
	cancelled := c.state.IsCancelled
	report := &mission.Report{
		MissionID:    id,
		Directive:    c.directive.Text,
		Plan:         c.state.Plan.Clone(),
		Artifacts:    c.agg.Artifacts(),
		UsedFallback: c.usedFallback,
		PlanError:    c.planErr,
		StartedAt:    c.startedAt,
	}
	c.finishing = true
	c.mu.Unlock()
	finalizing := !cancelled && len(report.Artifacts) > 0

	report.Stats = tally(report.Plan)
	report.Stats.Retries = int(c.retries.Load())
	report.Outcome = outcomeOf(report, cancelled)

	if finalizing {
		c.setPhase(id, mission.PhaseFinalizing)
		c.logLine(id, LevelSuccess, "Mission complete: "+strconv.Itoa(len(report.Artifacts))+" artifact(s), outcome "+string(report.Outcome)+".")
		if cfg.FinalizeDelay > 0 {
			t := time.NewTimer(cfg.FinalizeDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	} else if !cancelled {
		c.logLine(id, LevelError, "Mission produced no artifacts.")
	}

	report.FinishedAt = c.now()
	report.Stats.Elapsed = report.FinishedAt.Sub(report.StartedAt)

	c.mu.Lock()
	c.state.IsActive = false
	c.last = report
	done := c.done
	c.mu.Unlock()

	logging.Mission("Mission %s finished: outcome=%s completed=%d halted=%d pending=%d retries=%d",
		id, report.Outcome, report.Stats.Completed, report.Stats.Halted, report.Stats.Pending, report.Stats.Retries)
	for _, hook := range c.hooks {
		hook(report)
	}
	c.setPhase(id, mission.PhaseIdle)
	close(done)
	return report
}

func tally(p *mission.Plan) mission.Stats {
	var s mission.Stats
	if p == nil {
		return s
	}
	for _, t := range p.Tasks {
		switch t.Status {
		case mission.TaskCompleted:
			s.Completed++
		case mission.TaskHalted:
			s.Halted++
		case mission.TaskPending:
			s.Pending++
		}
	}
	return s
}

func outcomeOf(r *mission.Report, cancelled bool) mission.Outcome {
	switch {
	case cancelled:
		return mission.OutcomeAborted
	case len(r.Artifacts) == 0:
		return mission.OutcomeFailed
	case r.Stats.Completed == r.Plan.Len():
		return mission.OutcomeSuccess
	default:
		return mission.OutcomePartial
	}
}

func (c *Coordinator) setPhase(id string, p mission.Phase) {
	c.mu.Lock()
	if c.state.MissionID != id || c.state.Phase == p {
		c.mu.Unlock()
		return
	}
	c.state.Phase = p
	c.mu.Unlock()

	logging.MissionDebug("Mission %s phase -> %s", id, p)
	c.emit(Event{Type: EventPhaseChanged, MissionID: id, Phase: p})
}

func (c *Coordinator) logLine(id, level, msg string) {
	c.emit(Event{Type: EventLogLine, MissionID: id, Level: level, Message: msg})
}

func (c *Coordinator) emit(e Event) {
	e.Timestamp = c.now()
	c.sink.Publish(e)
}
