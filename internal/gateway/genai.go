package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"missionforge/internal/logging"
	"missionforge/internal/mission"
)

// =============================================================================
// GOOGLE GENAI GATEWAY
// =============================================================================

// GenAIOptions configures GenAIGateway.
type GenAIOptions struct {
	APIKey     string
	BaseURL    string        // overrides the API endpoint (tests, proxies)
	Timeout    time.Duration // per HTTP request, 0 keeps the SDK default
	HTTPClient *http.Client
}

// GenAIGateway implements Gateway on the Gemini API.
type GenAIGateway struct {
	client *genai.Client
	apiKey string
}

// NewGenAIGateway creates a new Gemini gateway.
func NewGenAIGateway(ctx context.Context, opts GenAIOptions) (*GenAIGateway, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required: %w", ErrUnauthorized)
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		timeout := opts.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	logging.Gateway("GenAI gateway ready (base_url=%q)", opts.BaseURL)

	return &GenAIGateway{client: client, apiKey: opts.APIKey}, nil
}

// GenerateContent runs one generateContent round trip.
func (g *GenAIGateway) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryGateway, "GenerateContent "+req.Model)
	defer timer.Stop()

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, p := range req.Parts {
		parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, buildContentConfig(req))
	if err != nil {
		logging.GatewayError("GenerateContent %s failed: %v", req.Model, err)
		return nil, classify("generate content", err)
	}
	return extractResponse(resp), nil
}

func buildContentConfig(req *Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: req.ResponseMIMEType,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseJsonSchema = req.ResponseSchema
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.ThinkingBudget > 0 {
		budget := int32(req.ThinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	for _, t := range req.Tools {
		switch t {
		case ToolSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case ToolMaps:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		}
	}
	for _, m := range req.ResponseModalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, string(m))
	}
	if req.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		}
	}
	if req.ImageAspectRatio != "" || req.ImageSize != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: req.ImageAspectRatio, ImageSize: req.ImageSize}
	}
	return cfg
}

// extractResponse flattens the first candidate. Thought parts go to
// Reasoning, inline blobs to Inline, grounding chunks to Citations with
// duplicate URIs collapsed.
func extractResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]

	var text, reasoning strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.InlineData != nil && len(p.InlineData.Data) > 0:
				out.Inline = append(out.Inline, InlinePart{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			case p.Thought:
				reasoning.WriteString(p.Text)
			default:
				text.WriteString(p.Text)
			}
		}
	}
	out.Text = text.String()
	out.Reasoning = reasoning.String()

	if gm := cand.GroundingMetadata; gm != nil {
		seen := make(map[string]bool)
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil {
				continue
			}
			var c mission.Citation
			switch {
			case chunk.Web != nil && chunk.Web.URI != "":
				c = mission.Citation{SourceURI: chunk.Web.URI, Title: chunk.Web.Title, Kind: mission.CitationWeb}
			case chunk.Maps != nil && chunk.Maps.URI != "":
				c = mission.Citation{SourceURI: chunk.Maps.URI, Title: chunk.Maps.Title, Kind: mission.CitationLocation}
			default:
				continue
			}
			if seen[c.SourceURI] {
				continue
			}
			seen[c.SourceURI] = true
			out.Citations = append(out.Citations, c)
		}
	}
	return out
}

// GenerateVideo submits a video synthesis job.
func (g *GenAIGateway) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoOperation, error) {
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
	}
	var image *genai.Image
	if req.Image != nil {
		image = &genai.Image{ImageBytes: req.Image.Data, MIMEType: req.Image.MIMEType}
	}

	op, err := g.client.Models.GenerateVideos(ctx, req.Model, req.Prompt, image, cfg)
	if err != nil {
		logging.GatewayError("GenerateVideos %s failed: %v", req.Model, err)
		return nil, classify("generate video", err)
	}
	logging.Gateway("Video operation submitted: %s", op.Name)
	return convertVideoOperation(op, g.apiKey), nil
}

// PollVideo refreshes a video operation.
func (g *GenAIGateway) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	raw, ok := op.handle.(*genai.GenerateVideosOperation)
	if !ok || raw == nil {
		raw = &genai.GenerateVideosOperation{Name: op.Name}
	}
	next, err := g.client.Operations.GetVideosOperation(ctx, raw, nil)
	if err != nil {
		return nil, classify("poll video", err)
	}
	logging.GatewayDebug("Video operation %s done=%v", next.Name, next.Done)
	return convertVideoOperation(next, g.apiKey), nil
}

// convertVideoOperation maps the SDK operation. Remote URIs are signed with
// the API key as the key query parameter so they can be fetched directly.
func convertVideoOperation(op *genai.GenerateVideosOperation, apiKey string) *VideoOperation {
	out := &VideoOperation{Name: op.Name, Done: op.Done, handle: op}
	if !op.Done {
		return out
	}
	if len(op.Error) > 0 {
		out.Err = fmt.Sprint(op.Error["message"])
		return out
	}
	if op.Response == nil {
		return out
	}
	for _, gv := range op.Response.GeneratedVideos {
		if gv == nil || gv.Video == nil {
			continue
		}
		out.MIMEType = gv.Video.MIMEType
		if gv.Video.URI != "" {
			out.VideoURI = signURI(gv.Video.URI, apiKey)
		}
		out.Data = gv.Video.VideoBytes
		break
	}
	return out
}

func signURI(raw, apiKey string) string {
	if apiKey == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}
