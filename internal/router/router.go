// Package router dispatches a task to the generation routine for its
// modality and turns the gateway response into a GenerationResult.
package router

import (
	"context"
	"errors"
	"time"

	"missionforge/internal/config"
	"missionforge/internal/gateway"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/retry"
)

// Options configures a Router.
type Options struct {
	Models config.ModelsConfig

	// Policy wraps every single round trip (per-attempt timeout, quota retry).
	Policy retry.Policy
	// VideoTimeout bounds the whole submit+poll sequence.
	VideoTimeout time.Duration
	PollInterval time.Duration

	ThinkingBudget      int
	FastMaxOutputTokens int
	Voice               string
	ImageAspectRatio    string
	ImageSize           string
	VideoAspectRatio    string
	VideoResolution     string
}

// OptionsFromConfig builds router options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Timeouts()
	return Options{
		Models: cfg.Models,
		Policy: retry.Policy{
			Timeout:   t.NodeTimeout,
			BaseDelay: t.QuotaBackoffBase,
			MaxDelay:  30 * time.Second,
		},
		VideoTimeout:        t.VideoTimeout,
		PollInterval:        t.PollInterval,
		ThinkingBudget:      cfg.Gateway.ThinkingBudget,
		FastMaxOutputTokens: cfg.Gateway.FastMaxOutputTokens,
		Voice:               cfg.Gateway.Voice,
		ImageAspectRatio:    cfg.Gateway.ImageAspectRatio,
		ImageSize:           cfg.Gateway.ImageSize,
		VideoAspectRatio:    cfg.Gateway.VideoAspectRatio,
		VideoResolution:     cfg.Gateway.VideoResolution,
	}
}

// Request is one task dispatch.
type Request struct {
	Task  mission.Task
	Files []mission.DirectiveFile

	// Abort is closed when the operator aborts the mission. It is checked
	// before every video poll tick; in-flight calls are never interrupted.
	Abort <-chan struct{}

	// OnProgress receives progress percentages for long-running routes.
	OnProgress func(pct int)
	// OnRetry is called before each quota retry.
	OnRetry func(attempt int, err error)
}

// Router is stateless with respect to missions.
type Router struct {
	gw   gateway.Gateway
	opts Options
}

// New creates a router over gw.
func New(gw gateway.Gateway, opts Options) *Router {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 8 * time.Second
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = 10 * time.Minute
	}
	if opts.Voice == "" {
		opts.Voice = "Kore"
	}
	return &Router{gw: gw, opts: opts}
}

// Dispatch classifies the task and runs the matching routine.
//
// A call failure returns a result with status error plus the classified
// error. A call that succeeds without a deliverable returns status empty and
// a nil error.
func (r *Router) Dispatch(ctx context.Context, req Request) (mission.GenerationResult, error) {
	route := Classify(req.Task, req.Files)
	start := time.Now()
	logging.Router("Task %s on %s -> %s", req.Task.ID, req.Task.AssignedNode, route)

	policy := r.opts.Policy.Named(req.Task.AssignedNode + "/" + string(route))
	policy.OnRetry = req.OnRetry

	var (
		res mission.GenerationResult
		err error
	)
	switch route {
	case RouteVideo:
		res, err = r.video(ctx, policy, req)
	case RouteImageGenerate, RouteImageEdit:
		res, err = r.image(ctx, policy, route, req)
	case RouteSpeech:
		res, err = r.speech(ctx, policy, req)
	case RouteMaps, RouteSearch:
		res, err = r.grounded(ctx, policy, route, req)
	default:
		res, err = r.text(ctx, policy, route, req)
	}

	res.NodeID = req.Task.AssignedNode
	res.Route = string(route)
	res.Elapsed = time.Since(start)

	if err != nil {
		res.Status = mission.ResultError
		res.Err = mission.KindOf(err)
		res.Artifacts = nil
		logging.RouterWarn("Task %s failed after %v: %s", req.Task.ID, res.Elapsed, mission.Summarize(err))
		return res, err
	}
	if len(res.Artifacts) == 0 {
		res.Status = mission.ResultEmpty
		logging.RouterWarn("Task %s produced no deliverable", req.Task.ID)
	} else {
		res.Status = mission.ResultSuccess
	}
	logging.RouterDebug("Task %s finished in %v with %d artifacts", req.Task.ID, res.Elapsed, len(res.Artifacts))
	return res, nil
}

// errAborted is returned when the abort signal is seen between poll ticks.
var errAborted = errors.New("aborted between poll ticks")

func aborted(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
