package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"missionforge/internal/gateway"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/retry"
)

func (r *Router) generate(ctx context.Context, p retry.Policy, req *gateway.Request) (*gateway.Response, error) {
	return retry.Do(ctx, p, func(ctx context.Context) (*gateway.Response, error) {
		return r.gw.GenerateContent(ctx, req)
	})
}

func draft(kind mission.ArtifactKind, task mission.Task, model string, payload mission.Payload) mission.Artifact {
	return mission.Artifact{Kind: kind, Label: task.Label, Payload: payload, Model: model}
}

func inlineParts(files []mission.DirectiveFile, keep func(mission.DirectiveFile) bool) []gateway.InlinePart {
	var parts []gateway.InlinePart
	for _, f := range files {
		if keep == nil || keep(f) {
			parts = append(parts, gateway.InlinePart{MIMEType: f.MIMEType, Data: f.Data})
		}
	}
	return parts
}

// video submits a synthesis job and polls it until done. The whole sequence
// runs under VideoTimeout; each submit and poll call gets the normal policy.
func (r *Router) video(ctx context.Context, p retry.Policy, req Request) (mission.GenerationResult, error) {
	model := r.opts.Models.Video
	vreq := &gateway.VideoRequest{
		Model:       model,
		Prompt:      req.Task.Description,
		AspectRatio: r.opts.VideoAspectRatio,
		Resolution:  r.opts.VideoResolution,
	}
	if vreq.AspectRatio != "9:16" {
		vreq.AspectRatio = "16:9"
	}
	for _, f := range req.Files {
		if f.IsImage() {
			vreq.Image = &gateway.InlinePart{MIMEType: f.MIMEType, Data: f.Data}
			break
		}
	}

	seq := p.TimeoutOnly(r.opts.VideoTimeout)
	op, err := retry.Do(ctx, seq, func(ctx context.Context) (*gateway.VideoOperation, error) {
		op, err := retry.Do(ctx, p, func(ctx context.Context) (*gateway.VideoOperation, error) {
			return r.gw.GenerateVideo(ctx, vreq)
		})
		if err != nil {
			return nil, err
		}

		ticker := time.NewTicker(r.opts.PollInterval)
		defer ticker.Stop()
		for tick := 1; !op.Done; tick++ {
			select {
			case <-req.Abort:
				return nil, mission.NewError(mission.ErrMissionAborted, p.Op, errAborted)
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
			if aborted(req.Abort) {
				return nil, mission.NewError(mission.ErrMissionAborted, p.Op, errAborted)
			}

			op, err = retry.Do(ctx, p.Named(p.Op+"/poll"), func(ctx context.Context) (*gateway.VideoOperation, error) {
				return r.gw.PollVideo(ctx, op)
			})
			if err != nil {
				return nil, err
			}
			if req.OnProgress != nil {
				req.OnProgress(min(90, 10+tick*10))
			}
			logging.RouterDebug("Video %s poll %d done=%v", op.Name, tick, op.Done)
		}
		return op, nil
	})
	if err != nil {
		return mission.GenerationResult{Model: model}, err
	}
	if op.Err != "" {
		return mission.GenerationResult{Model: model},
			mission.NewError(mission.ErrGatewayFailure, p.Op, fmt.Errorf("%w: %s", gateway.ErrVideoFailed, op.Err))
	}

	res := mission.GenerationResult{Model: model, Reasoning: "Temporal synthesis finalized."}
	switch {
	case op.VideoURI != "":
		res.Artifacts = append(res.Artifacts, draft(mission.ArtifactVideo, req.Task, model,
			mission.Payload{URI: op.VideoURI, MIMEType: videoMIME(op.MIMEType)}))
	case len(op.Data) > 0:
		res.Artifacts = append(res.Artifacts, draft(mission.ArtifactVideo, req.Task, model,
			mission.Payload{Data: op.Data, MIMEType: videoMIME(op.MIMEType)}))
	}
	return res, nil
}

func videoMIME(m string) string {
	if m == "" {
		return "video/mp4"
	}
	return m
}

func (r *Router) image(ctx context.Context, p retry.Policy, route Route, req Request) (mission.GenerationResult, error) {
	greq := &gateway.Request{
		Prompt:             req.Task.Description,
		ResponseModalities: []gateway.Modality{gateway.ModalityText, gateway.ModalityImage},
	}
	if route == RouteImageEdit {
		greq.Model = r.opts.Models.ImageEdit
		greq.Parts = inlineParts(req.Files, mission.DirectiveFile.IsImage)
	} else {
		greq.Model = r.opts.Models.ImageGenerate
		greq.ImageAspectRatio = r.opts.ImageAspectRatio
		greq.ImageSize = r.opts.ImageSize
	}

	resp, err := r.generate(ctx, p, greq)
	if err != nil {
		return mission.GenerationResult{Model: greq.Model}, err
	}

	res := mission.GenerationResult{Model: greq.Model, Text: resp.Text, Reasoning: resp.Reasoning}
	// One image per task: the last image part of the response wins.
	var image *gateway.InlinePart
	for i := range resp.Inline {
		if strings.HasPrefix(resp.Inline[i].MIMEType, "image/") && len(resp.Inline[i].Data) > 0 {
			image = &resp.Inline[i]
		}
	}
	if image != nil {
		res.Artifacts = append(res.Artifacts, draft(mission.ArtifactImage, req.Task, greq.Model,
			mission.Payload{MIMEType: image.MIMEType, Data: image.Data}))
	}
	return res, nil
}

func (r *Router) speech(ctx context.Context, p retry.Policy, req Request) (mission.GenerationResult, error) {
	greq := &gateway.Request{
		Model:              r.opts.Models.Speech,
		Prompt:             req.Task.Description,
		ResponseModalities: []gateway.Modality{gateway.ModalityAudio},
		Voice:              r.opts.Voice,
	}
	resp, err := r.generate(ctx, p, greq)
	if err != nil {
		return mission.GenerationResult{Model: greq.Model}, err
	}

	res := mission.GenerationResult{Model: greq.Model, Reasoning: "Acoustic synthesis, voice " + greq.Voice + "."}
	for _, part := range resp.Inline {
		if len(part.Data) == 0 {
			continue
		}
		payload := mission.Payload{MIMEType: "audio/wav", Data: part.Data}
		if !isWAV(part) {
			payload.Data = EncodeWAV(part.Data)
		}
		res.Artifacts = append(res.Artifacts, draft(mission.ArtifactAudio, req.Task, greq.Model, payload))
		break
	}
	return res, nil
}

func isWAV(p gateway.InlinePart) bool {
	return strings.Contains(p.MIMEType, "wav") || (len(p.Data) >= 4 && string(p.Data[:4]) == "RIFF")
}

// grounded runs search or maps retrieval. Missing citations never fail it.
func (r *Router) grounded(ctx context.Context, p retry.Policy, route Route, req Request) (mission.GenerationResult, error) {
	greq := &gateway.Request{Prompt: req.Task.Description}
	note := "External knowledge scan via search grounding."
	if route == RouteMaps {
		greq.Model = r.opts.Models.Maps
		greq.Tools = []gateway.Tool{gateway.ToolMaps}
		note = "Spatial retrieval via maps grounding."
	} else {
		greq.Model = r.opts.Models.Search
		greq.Tools = []gateway.Tool{gateway.ToolSearch}
	}

	resp, err := r.generate(ctx, p, greq)
	if err != nil {
		return mission.GenerationResult{Model: greq.Model}, err
	}
	res := mission.GenerationResult{
		Model:     greq.Model,
		Text:      resp.Text,
		Reasoning: firstNonEmpty(resp.Reasoning, note),
		Citations: resp.Citations,
	}
	res.Artifacts = documentArtifact(req.Task, greq.Model, resp.Text)
	return res, nil
}

func (r *Router) text(ctx context.Context, p retry.Policy, route Route, req Request) (mission.GenerationResult, error) {
	// Every attachment goes along on all text routes, not only media.
	greq := &gateway.Request{Prompt: req.Task.Description, Parts: inlineParts(req.Files, nil)}
	var note string
	switch route {
	case RouteFast:
		greq.Model = r.opts.Models.Fast
		greq.MaxOutputTokens = r.opts.FastMaxOutputTokens
		note = "Synthesized via low-latency " + greq.Model + "."
	case RouteMultimodal:
		greq.Model = r.opts.Models.Reasoning
		greq.ThinkingBudget = r.opts.ThinkingBudget
		note = "Multimodal feature extraction complete."
	default:
		greq.Model = r.opts.Models.Reasoning
		greq.ThinkingBudget = r.opts.ThinkingBudget
		if greq.ThinkingBudget > 0 {
			note = fmt.Sprintf("High-precision reasoning engaged (%dt budget).", greq.ThinkingBudget)
		} else {
			note = "Synthesized via " + greq.Model + "."
		}
	}

	resp, err := r.generate(ctx, p, greq)
	if err != nil {
		return mission.GenerationResult{Model: greq.Model}, err
	}
	return mission.GenerationResult{
		Model:     greq.Model,
		Text:      resp.Text,
		Reasoning: firstNonEmpty(resp.Reasoning, note),
		Artifacts: documentArtifact(req.Task, greq.Model, resp.Text),
	}, nil
}

func documentArtifact(task mission.Task, model, text string) []mission.Artifact {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []mission.Artifact{draft(mission.ArtifactDocument, task, model,
		mission.Payload{MIMEType: "text/markdown", Data: []byte(text)})}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
