package swarm

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"missionforge/internal/config"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/router"
)

// execute dispatches every task of plan according to cfg.Mode and returns
// once no task is in flight.
func (c *Coordinator) execute(ctx context.Context, id string, cfg Config, plan *mission.Plan) {
	if cfg.MissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MissionTimeout)
		defer cancel()
	}

	c.mu.RLock()
	abort := c.abortCh
	files := c.directive.Files
	c.mu.RUnlock()

	c.logLine(id, LevelInfo, "Dispatching "+string(cfg.Mode)+" swarm.")

	if cfg.Mode == config.ModeSequential {
		for i := range plan.Tasks {
			if i > 0 && !pause(ctx, abort, cfg.SettleDelay) {
				for j := i; j < len(plan.Tasks); j++ {
					c.skip(ctx, id, j)
				}
				break
			}
			c.runTask(ctx, id, i, files, abort)
		}
		return
	}

	interval := cfg.StaggerInterval
	if cfg.Mode == config.ModeParallel {
		interval = 0
	}
	var sem *semaphore.Weighted
	if cfg.MaxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}

	var g errgroup.Group
	for i := range plan.Tasks {
		g.Go(func() error {
			if !pause(ctx, abort, time.Duration(i)*interval) {
				c.skip(ctx, id, i)
				return nil
			}
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					c.skip(ctx, id, i)
					return nil
				}
				defer sem.Release(1)
			}
			c.runTask(ctx, id, i, files, abort)
			return nil
		})
	}
	_ = g.Wait()
}

// pause waits d unless the mission is aborted or ctx ends first. It reports
// whether the caller may go on.
func pause(ctx context.Context, abort <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && !closed(abort)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !closed(abort)
	case <-abort:
		return false
	case <-ctx.Done():
		return false
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// skip handles a task that never got to start. Aborted missions leave it
// PENDING; a mission deadline halts it.
func (c *Coordinator) skip(ctx context.Context, id string, i int) {
	if c.cancelled() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	c.transition(id, i, func(t *mission.Task) {
		t.Status = mission.TaskHalted
		t.Error = mission.ErrNodeTimeout
	})
}

func (c *Coordinator) cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsCancelled
}

// runTask drives one task PENDING -> ACTIVE -> COMPLETED|HALTED.
func (c *Coordinator) runTask(ctx context.Context, id string, i int, files []mission.DirectiveFile, abort <-chan struct{}) {
	if ctx.Err() != nil {
		c.skip(ctx, id, i)
		return
	}

	// The cancel check and PENDING -> ACTIVE happen under one lock so no task
	// starts once an abort has been observed.
	c.mu.Lock()
	if c.state.IsCancelled {
		c.mu.Unlock()
		return
	}
	t := &c.state.Plan.Tasks[i]
	t.Status = mission.TaskActive
	t.Progress = 10
	task := *t
	c.mu.Unlock()
	c.emit(Event{Type: EventTaskStatusChanged, MissionID: id, TaskID: task.ID, Task: &task})

	c.logLine(id, LevelInfo, "["+task.AssignedNode+"] engaging objective "+task.Label+".")

	res, err := c.dispatcher.Dispatch(ctx, router.Request{
		Task:  task,
		Files: files,
		Abort: abort,
		OnProgress: func(pct int) {
			c.transition(id, i, func(t *mission.Task) {
				if t.Status == mission.TaskActive && pct > t.Progress {
					t.Progress = pct
				}
			})
		},
		OnRetry: func(attempt int, err error) {
			c.retries.Add(1)
			c.logLine(id, LevelWarn, "["+task.AssignedNode+"] rate limited, retry "+strconv.Itoa(attempt)+" scheduled.")
		},
	})

	c.mu.Lock()
	t = &c.state.Plan.Tasks[i]
	if c.state.IsCancelled {
		t.Status = mission.TaskHalted
		t.Error = mission.ErrMissionAborted
		snapshot := *t
		c.mu.Unlock()
		logging.MissionDebug("Mission %s discarded result of %s after abort", id, task.ID)
		c.emit(Event{Type: EventTaskStatusChanged, MissionID: id, TaskID: snapshot.ID, Task: &snapshot})
		return
	}

	var arts []mission.Artifact
	if err != nil {
		t.Status = mission.TaskHalted
		t.Error = mission.KindOf(err)
	} else {
		arts = c.agg.Absorb(t.ID, res)
		t.Status = mission.TaskCompleted
		t.Progress = 100
	}
	snapshot := *t
	c.mu.Unlock()

	for k := range arts {
		c.emit(Event{Type: EventArtifactAdded, MissionID: id, TaskID: snapshot.ID, Artifact: &arts[k]})
	}
	c.emit(Event{Type: EventTaskStatusChanged, MissionID: id, TaskID: snapshot.ID, Task: &snapshot})

	switch {
	case err != nil:
		logging.MissionWarn("Mission %s task %s halted: %s", id, task.ID, mission.Summarize(err))
		c.logLine(id, LevelError, "["+task.AssignedNode+"] halted: "+mission.Summarize(err)+".")
	case len(arts) == 0:
		c.logLine(id, LevelWarn, "["+task.AssignedNode+"] completed without a deliverable.")
	default:
		c.logLine(id, LevelSuccess, "["+task.AssignedNode+"] delivered "+strconv.Itoa(len(arts))+" artifact(s) in "+res.Elapsed.Round(time.Millisecond).String()+".")
	}
}

// transition mutates task i under the lock and publishes the new state.
func (c *Coordinator) transition(id string, i int, fn func(*mission.Task)) {
	c.mu.Lock()
	if c.state.MissionID != id || c.state.Plan == nil || i >= len(c.state.Plan.Tasks) {
		c.mu.Unlock()
		return
	}
	t := &c.state.Plan.Tasks[i]
	before := *t
	fn(t)
	if *t == before {
		c.mu.Unlock()
		return
	}
	snapshot := *t
	c.mu.Unlock()

	c.emit(Event{Type: EventTaskStatusChanged, MissionID: id, TaskID: snapshot.ID, Task: &snapshot})
}
