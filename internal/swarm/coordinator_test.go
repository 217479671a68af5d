package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"missionforge/internal/config"
	"missionforge/internal/gateway"
	"missionforge/internal/mission"
	"missionforge/internal/planner"
	"missionforge/internal/retry"
	"missionforge/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// =============================================================================
// FAKES
// =============================================================================

type fakePlanner struct {
	fn func(ctx context.Context, d mission.Directive) (*mission.Plan, error)
}

func (f *fakePlanner) SynthesizePlan(ctx context.Context, d mission.Directive) (*mission.Plan, error) {
	return f.fn(ctx, d)
}

func staticPlan(nodes ...string) *fakePlanner {
	return &fakePlanner{fn: func(ctx context.Context, d mission.Directive) (*mission.Plan, error) {
		p := &mission.Plan{}
		for i, n := range nodes {
			p.Tasks = append(p.Tasks, mission.Task{
				ID:           fmt.Sprintf("t%d", i+1),
				Label:        fmt.Sprintf("Objective_%d", i+1),
				AssignedNode: n,
				Description:  "work for " + n,
				Kind:         mission.KindStrategy,
				Status:       mission.TaskPending,
			})
		}
		return p, nil
	}}
}

type fakeDispatcher struct {
	fn    func(ctx context.Context, req router.Request) (mission.GenerationResult, error)
	calls atomic.Int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func deliver(req router.Request) mission.GenerationResult {
	return mission.GenerationResult{
		Status: mission.ResultSuccess,
		NodeID: req.Task.AssignedNode,
		Artifacts: []mission.Artifact{{
			Kind:    mission.ArtifactDocument,
			Label:   req.Task.Label,
			Payload: mission.Payload{MIMEType: "text/markdown", Data: []byte(req.Task.Description)},
		}},
	}
}

func succeed() *fakeDispatcher {
	return &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		return deliver(req), nil
	}}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) phases() []mission.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mission.Phase
	for _, e := range r.events {
		if e.Type == EventPhaseChanged {
			out = append(out, e.Phase)
		}
	}
	return out
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func fastConfig(mode config.ExecutionMode) Config {
	return Config{Mode: mode}
}

func statuses(p *mission.Plan) []mission.TaskStatus {
	out := make([]mission.TaskStatus, len(p.Tasks))
	for i, t := range p.Tasks {
		out[i] = t.Status
	}
	return out
}

// =============================================================================
// END TO END
// =============================================================================

func TestRun_ImageSucceedsVideoTimesOut(t *testing.T) {
	const twoTasks = `{"objectives":[` +
		`{"id":"img","label":"Key_Visual","assignedNode":"CC-10","description":"campaign poster","type":"IMAGE"},` +
		`{"id":"vid","label":"Trailer","assignedNode":"CC-06","description":"campaign trailer","type":"VIDEO"}]}`

	stub := gateway.NewStub()
	stub.GenerateContentFunc = func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		if req.ResponseMIMEType == "application/json" {
			return &gateway.Response{Text: twoTasks}, nil
		}
		return &gateway.Response{Inline: []gateway.InlinePart{{MIMEType: "image/png", Data: []byte{1, 2, 3}}}}, nil
	}
	stub.PollVideoFunc = func(ctx context.Context, op *gateway.VideoOperation) (*gateway.VideoOperation, error) {
		return op, nil
	}

	syn := planner.NewSynthesizer(stub, planner.Options{Timeout: time.Second})
	rt := router.New(stub, router.Options{
		Models:       config.DefaultConfig().Models,
		Policy:       retry.Policy{Timeout: time.Second, BaseDelay: time.Millisecond},
		VideoTimeout: 50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	rec := &recorder{}
	c := NewCoordinator(fastConfig(config.ModeSequential), syn, rt, WithSink(rec))

	report, err := c.Run(context.Background(), mission.Directive{Text: "launch campaign"})
	require.NoError(t, err)

	require.Len(t, report.Artifacts, 1)
	assert.Equal(t, mission.ArtifactImage, report.Artifacts[0].Kind)
	assert.Equal(t, "img", report.Artifacts[0].TaskID)
	assert.Equal(t, "CC-10", report.Artifacts[0].OriginatingNode)

	assert.Equal(t, []mission.TaskStatus{mission.TaskCompleted, mission.TaskHalted}, statuses(report.Plan))
	assert.Equal(t, mission.ErrNodeTimeout, report.Plan.Tasks[1].Error)
	assert.Equal(t, mission.OutcomePartial, report.Outcome)
	assert.False(t, report.Failed())
	assert.False(t, report.UsedFallback)

	assert.Equal(t, []mission.Phase{
		mission.PhasePlanning, mission.PhaseExecuting, mission.PhaseFinalizing, mission.PhaseIdle,
	}, rec.phases())
	assert.Equal(t, 1, rec.count(EventArtifactAdded))
}

// =============================================================================
// ABORT
// =============================================================================

func TestRun_AbortLeavesLaterTasksPending(t *testing.T) {
	for _, mode := range []config.ExecutionMode{config.ModeSequential, config.ModeStaggered} {
		t.Run(string(mode), func(t *testing.T) {
			var c *Coordinator
			d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
				if req.Task.ID == "t2" {
					assert.NoError(t, c.Abort())
				}
				return deliver(req), nil
			}}
			cfg := Config{Mode: mode, StaggerInterval: 30 * time.Millisecond}
			c = NewCoordinator(cfg, staticPlan("SP-01", "SP-02", "SP-03", "DT-01"), d)

			report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
			require.NoError(t, err)

			assert.Equal(t, mission.OutcomeAborted, report.Outcome)
			assert.Equal(t, mission.TaskCompleted, report.Plan.Tasks[0].Status)
			assert.Equal(t, mission.TaskHalted, report.Plan.Tasks[1].Status)
			assert.Equal(t, mission.ErrMissionAborted, report.Plan.Tasks[1].Error)
			for _, task := range report.Plan.Tasks[2:] {
				assert.Equal(t, mission.TaskPending, task.Status, task.ID)
			}
			assert.Len(t, report.Artifacts, 1, "the in-flight result is discarded")
			assert.Equal(t, int32(2), d.calls.Load())
			assert.False(t, report.Failed())
		})
	}
}

func TestRun_CallerCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		cancel()
		<-ctx.Done()
		return mission.GenerationResult{}, ctx.Err()
	}}
	c := NewCoordinator(Config{Mode: config.ModeSequential}, staticPlan("SP-01", "SP-02"), d)

	report, err := c.Run(ctx, mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, mission.OutcomeAborted, report.Outcome)
	assert.Equal(t, mission.TaskPending, report.Plan.Tasks[1].Status)
}

func TestAbort_NoMission(t *testing.T) {
	c := NewCoordinator(Config{}, staticPlan("SP-01"), succeed())
	assert.ErrorIs(t, c.Abort(), ErrNoActiveMission)
}

func TestAbort_RejectedWhileFinalizing(t *testing.T) {
	rec := &recorder{}
	finalizing := make(chan struct{})
	var once sync.Once
	sink := MultiSink{rec, SinkFunc(func(e Event) {
		if e.Type == EventPhaseChanged && e.Phase == mission.PhaseFinalizing {
			once.Do(func() { close(finalizing) })
		}
	})}
	cfg := Config{Mode: config.ModeSequential, FinalizeDelay: 200 * time.Millisecond}
	c := NewCoordinator(cfg, staticPlan("SP-01"), succeed(), WithSink(sink))

	_, err := c.Submit(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)

	<-finalizing
	assert.Equal(t, mission.PhaseFinalizing, c.State().Phase)
	assert.ErrorIs(t, c.Abort(), ErrNoActiveMission)
	<-c.Done()

	report := c.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, mission.OutcomeSuccess, report.Outcome)
	assert.Equal(t, []mission.Phase{
		mission.PhasePlanning, mission.PhaseExecuting, mission.PhaseFinalizing, mission.PhaseIdle,
	}, rec.phases())
	assert.Equal(t, mission.PhaseIdle, c.State().Phase)
}

// =============================================================================
// FAILURE HANDLING
// =============================================================================

func TestRun_TaskFailureContinues(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		if req.Task.AssignedNode == "RA-01" {
			return mission.GenerationResult{Status: mission.ResultError},
				mission.NewError(mission.ErrResourceExhausted, "RA-01/search", gateway.ErrQuotaExceeded)
		}
		return deliver(req), nil
	}}
	c := NewCoordinator(fastConfig(config.ModeParallel), staticPlan("SP-01", "RA-01", "CC-01"), d)

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), d.calls.Load())
	assert.Len(t, report.Artifacts, 2)
	assert.Equal(t, mission.OutcomePartial, report.Outcome)
	assert.Equal(t, 2, report.Stats.Completed)
	assert.Equal(t, 1, report.Stats.Halted)
	assert.Equal(t, mission.ErrResourceExhausted, report.Plan.Tasks[1].Error)
}

func TestRun_ZeroArtifactsIsFailed(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		return mission.GenerationResult{}, errors.New("connection reset")
	}}
	rec := &recorder{}
	c := NewCoordinator(fastConfig(config.ModeStaggered), staticPlan("SP-01", "SP-02"), d, WithSink(rec))

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, mission.OutcomeFailed, report.Outcome)
	assert.True(t, report.Failed())
	assert.Equal(t, mission.ErrGatewayFailure, report.Plan.Tasks[0].Error)
	assert.NotContains(t, rec.phases(), mission.PhaseFinalizing)
}

func TestRun_EmptyResultCompletesWithoutArtifact(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		if req.Task.ID == "t1" {
			return mission.GenerationResult{Status: mission.ResultEmpty, NodeID: req.Task.AssignedNode}, nil
		}
		return deliver(req), nil
	}}
	c := NewCoordinator(fastConfig(config.ModeSequential), staticPlan("SP-01", "SP-02"), d)

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, []mission.TaskStatus{mission.TaskCompleted, mission.TaskCompleted}, statuses(report.Plan))
	assert.Len(t, report.Artifacts, 1)
	assert.Equal(t, mission.OutcomeSuccess, report.Outcome)
}

func TestRun_FallbackPlan(t *testing.T) {
	p := &fakePlanner{fn: func(ctx context.Context, d mission.Directive) (*mission.Plan, error) {
		return nil, mission.NewError(mission.ErrPlanFormat, "plan", errors.New("no json"))
	}}
	d := succeed()
	c := NewCoordinator(fastConfig(config.ModeParallel), p, d)

	report, err := c.Run(context.Background(), mission.Directive{Text: "Nova"})
	require.NoError(t, err)

	assert.True(t, report.UsedFallback)
	assert.Equal(t, mission.ErrPlanFormat, report.PlanError)
	require.Equal(t, 4, report.Plan.Len())
	assert.Equal(t, "e1", report.Plan.Tasks[0].ID)
	assert.Equal(t, int32(4), d.calls.Load())
	assert.Equal(t, mission.OutcomeSuccess, report.Outcome)
}

// =============================================================================
// SCHEDULING
// =============================================================================

func TestRun_MaxConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return deliver(req), nil
	}}
	cfg := Config{Mode: config.ModeParallel, MaxConcurrent: 2}
	c := NewCoordinator(cfg, staticPlan("SP-01", "SP-02", "SP-03", "DT-01", "DT-02", "ED-01"), d)

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, 6, report.Stats.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_MissionTimeoutHaltsRemaining(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		<-ctx.Done()
		return mission.GenerationResult{}, ctx.Err()
	}}
	cfg := Config{Mode: config.ModeParallel, MaxConcurrent: 1, MissionTimeout: 30 * time.Millisecond}
	c := NewCoordinator(cfg, staticPlan("SP-01", "SP-02", "SP-03"), d)

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, mission.OutcomeFailed, report.Outcome)
	for _, task := range report.Plan.Tasks {
		assert.Equal(t, mission.TaskHalted, task.Status, task.ID)
		assert.Equal(t, mission.ErrNodeTimeout, task.Error, task.ID)
	}
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestRun_CountsRetriesAndProgress(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		req.OnRetry(1, gateway.ErrQuotaExceeded)
		req.OnProgress(40)
		req.OnProgress(20)
		return deliver(req), nil
	}}
	rec := &recorder{}
	c := NewCoordinator(fastConfig(config.ModeSequential), staticPlan("CC-06", "SP-01"), d, WithSink(rec))

	report, err := c.Run(context.Background(), mission.Directive{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Retries)

	var progress []int
	rec.mu.Lock()
	for _, e := range rec.events {
		if e.Type == EventTaskStatusChanged && e.TaskID == "t1" {
			progress = append(progress, e.Task.Progress)
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, []int{10, 40, 100}, progress)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSubmit_SingleActiveMission(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{fn: func(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
		<-release
		return deliver(req), nil
	}}
	c := NewCoordinator(fastConfig(config.ModeSequential), staticPlan("SP-01"), d)

	id, err := c.Submit(context.Background(), mission.Directive{Text: "first"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = c.Submit(context.Background(), mission.Directive{Text: "second"})
	assert.ErrorIs(t, err, ErrMissionActive)

	state := c.State()
	assert.True(t, state.IsActive)
	assert.Equal(t, id, state.MissionID)

	close(release)
	<-c.Done()

	state = c.State()
	assert.False(t, state.IsActive)
	assert.Equal(t, mission.PhaseIdle, state.Phase)
	require.NotNil(t, c.LastReport())
	assert.Equal(t, id, c.LastReport().MissionID)
	assert.Len(t, state.Artifacts, 1)

	_, err = c.Submit(context.Background(), mission.Directive{Text: "third"})
	require.NoError(t, err)
	<-c.Done()
}

func TestSubmit_EmptyDirective(t *testing.T) {
	c := NewCoordinator(Config{}, staticPlan("SP-01"), succeed())
	_, err := c.Submit(context.Background(), mission.Directive{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyDirective)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed when no mission ran")
	}
}

func TestConfigFromExecution(t *testing.T) {
	cfg := ConfigFromExecution(config.ExecutionConfig{Mode: config.ModeParallel, SettleDelay: "2s", MaxConcurrent: 3})
	assert.Equal(t, config.ModeParallel, cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, 800*time.Millisecond, cfg.StaggerInterval)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Zero(t, cfg.MissionTimeout)

	c := NewCoordinator(Config{Mode: "bogus"}, staticPlan("SP-01"), succeed())
	assert.Equal(t, config.ModeStaggered, c.cfg.Mode)
}

func TestRun_ReportHookSeesFinalReport(t *testing.T) {
	var hooked []*mission.Report
	c := NewCoordinator(fastConfig(config.ModeParallel), staticPlan("CC-10"), succeed(),
		WithReportHook(func(r *mission.Report) { hooked = append(hooked, r) }))

	report, err := c.Run(context.Background(), mission.Directive{Text: "poster"})
	require.NoError(t, err)
	require.Len(t, hooked, 1)
	assert.Same(t, report, hooked[0])
	assert.Same(t, report, c.LastReport())
	assert.False(t, c.State().IsActive)
}
