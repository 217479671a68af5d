// Package planner decomposes a directive into a typed task plan with one
// structured-output gateway request.
package planner

import (
	"context"
	"errors"
	"time"

	"missionforge/internal/gateway"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/retry"
)

// Options configures a Synthesizer.
type Options struct {
	Model   string
	Timeout time.Duration
}

// Synthesizer implements plan synthesis. It holds no mission state.
type Synthesizer struct {
	gw      gateway.Gateway
	model   string
	timeout time.Duration
}

// NewSynthesizer creates a new plan synthesizer.
func NewSynthesizer(gw gateway.Gateway, opts Options) *Synthesizer {
	if opts.Model == "" {
		opts.Model = "gemini-3-flash-preview"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	return &Synthesizer{gw: gw, model: opts.Model, timeout: opts.Timeout}
}

// SynthesizePlan asks the gateway for a plan and validates it.
//
// Failures: unparseable output is PLAN_FORMAT_ERROR, a parseable response
// with no usable task is PLAN_EMPTY, a gateway error or timeout is
// GATEWAY_FAILURE. A cancelled ctx is returned as is. Nothing is retried here.
func (s *Synthesizer) SynthesizePlan(ctx context.Context, d mission.Directive) (*mission.Plan, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "SynthesizePlan")
	defer timer.StopWithThreshold(30 * time.Second)

	req := &gateway.Request{
		Model:             s.model,
		SystemInstruction: systemInstruction,
		Prompt:            directivePrefix + d.Text,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    planSchema,
	}
	for _, f := range d.Files {
		req.Parts = append(req.Parts, gateway.InlinePart{MIMEType: f.MIMEType, Data: f.Data})
	}

	policy := retry.Policy{Op: "plan synthesis"}.TimeoutOnly(s.timeout)
	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*gateway.Response, error) {
		return s.gw.GenerateContent(ctx, req)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logging.PlannerWarn("Plan request failed: %v", err)
		var me *mission.Error
		if errors.As(err, &me) && me.Kind != mission.ErrGatewayFailure {
			return nil, mission.NewError(mission.ErrGatewayFailure, "plan synthesis", err)
		}
		return nil, err
	}

	plan, err := ParsePlan(resp.Text)
	if err != nil {
		logging.PlannerWarn("Plan rejected: %v", err)
		return nil, err
	}
	logging.Planner("Synthesized plan with %d tasks", plan.Len())
	return plan, nil
}

// ParsePlan extracts and validates a plan from raw model text.
func ParsePlan(text string) (*mission.Plan, error) {
	v, err := ExtractJSON(text)
	if err != nil {
		return nil, mission.NewError(mission.ErrPlanFormat, "plan synthesis", err)
	}

	raw, ok := FindTaskArray(v, MaxDigDepth)
	if !ok {
		return nil, mission.NewError(mission.ErrPlanEmpty, "plan synthesis", errors.New("no task array in response"))
	}

	tasks := NormalizeTasks(raw)
	if len(tasks) == 0 {
		return nil, mission.NewError(mission.ErrPlanEmpty, "plan synthesis", errors.New("no task with node and description"))
	}
	logTasks(tasks)
	return &mission.Plan{Tasks: tasks}, nil
}

func logTasks(tasks []mission.Task) {
	for _, t := range tasks {
		logging.PlannerDebug("task %s node=%s kind=%s declared=%v", t.ID, t.AssignedNode, t.Kind, t.KindDeclared)
	}
}
