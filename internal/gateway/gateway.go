// Package gateway is the boundary to the remote inference provider.
//
// Callers speak in the provider-neutral Request/Response/VideoOperation
// types; GenAIGateway maps them onto google.golang.org/genai and Stub
// answers them locally for offline runs and tests.
package gateway

import (
	"context"

	"missionforge/internal/mission"
)

// Gateway is a request/response inference service. Video synthesis is
// long-running: GenerateVideo returns an operation that must be polled with
// PollVideo until Done.
type Gateway interface {
	GenerateContent(ctx context.Context, req *Request) (*Response, error)
	GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoOperation, error)
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
}

// Tool enables a grounded retrieval tool on a request.
type Tool string

const (
	ToolSearch Tool = "google_search"
	ToolMaps   Tool = "google_maps"
)

// Modality is a requested response modality.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
	ModalityAudio Modality = "AUDIO"
)

// InlinePart is binary content sent to or received from the provider.
type InlinePart struct {
	MIMEType string
	Data     []byte
}

// Request is a single content generation round trip.
type Request struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Parts             []InlinePart // sent after the prompt text

	Tools []Tool

	// Structured output
	ResponseMIMEType string
	ResponseSchema   map[string]any

	ThinkingBudget  int // 0 leaves the model default
	MaxOutputTokens int // 0 means no cap

	ResponseModalities []Modality
	Voice              string // prebuilt voice for AUDIO responses

	ImageAspectRatio string
	ImageSize        string
}

// Response is the extracted content of the first candidate.
type Response struct {
	Text      string
	Reasoning string // thought parts, when the model returns them
	Inline    []InlinePart
	Citations []mission.Citation
}

// VideoRequest submits a video synthesis job.
type VideoRequest struct {
	Model       string
	Prompt      string
	Image       *InlinePart // optional reference frame
	AspectRatio string
	Resolution  string
}

// VideoOperation is a handle on a video job. When Done, either VideoURI (or
// Data) or Err is set.
type VideoOperation struct {
	Name     string
	Done     bool
	VideoURI string
	MIMEType string
	Data     []byte
	Err      string

	handle any // provider specific
}
