package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// onePixelPNG is a transparent 1x1 PNG.
var onePixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

// stubPlan is the structured answer the stub gives to JSON requests.
const stubPlan = `{"objectives":[` +
	`{"id":"s1","label":"Market_Scan","assignedNode":"RA-01","description":"Search the latest news for the directive","type":"RESEARCH"},` +
	`{"id":"s2","label":"Key_Visual","assignedNode":"CC-10","description":"Hero image for the directive","type":"IMAGE"},` +
	`{"id":"s3","label":"Voice_Brief","assignedNode":"CC-12","description":"Narrate the mission brief"}]}`

// Stub answers every call locally. Each func field overrides the default
// behaviour, so tests script only the calls they care about. The defaults
// echo the prompt as text, return a 1x1 PNG for image requests, a short PCM
// buffer for audio requests and finish video jobs after PollsToDone polls.
type Stub struct {
	GenerateContentFunc func(ctx context.Context, req *Request) (*Response, error)
	GenerateVideoFunc   func(ctx context.Context, req *VideoRequest) (*VideoOperation, error)
	PollVideoFunc       func(ctx context.Context, op *VideoOperation) (*VideoOperation, error)

	PollsToDone int

	mu       sync.Mutex
	requests []*Request
	polls    atomic.Int32
	videos   atomic.Int32
}

// NewStub returns a stub whose video jobs finish on the second poll.
func NewStub() *Stub {
	return &Stub{PollsToDone: 2}
}

// GenerateContent records the request and answers it.
func (s *Stub) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.GenerateContentFunc != nil {
		return s.GenerateContentFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ResponseMIMEType == "application/json" {
		return &Response{Text: stubPlan}, nil
	}
	for _, m := range req.ResponseModalities {
		switch m {
		case ModalityImage:
			return &Response{Inline: []InlinePart{{MIMEType: "image/png", Data: onePixelPNG}}}, nil
		case ModalityAudio:
			return &Response{Inline: []InlinePart{{MIMEType: "audio/L16;rate=24000", Data: make([]byte, 4800)}}}, nil
		}
	}
	return &Response{Text: fmt.Sprintf("[%s] %s", req.Model, firstLine(req.Prompt))}, nil
}

// GenerateVideo answers a video submission with a pending operation.
func (s *Stub) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoOperation, error) {
	if s.GenerateVideoFunc != nil {
		return s.GenerateVideoFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.videos.Add(1)
	return &VideoOperation{Name: fmt.Sprintf("operations/stub-%d", n)}, nil
}

// PollVideo counts the poll and reports done after PollsToDone polls.
func (s *Stub) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	n := s.polls.Add(1)
	if s.PollVideoFunc != nil {
		return s.PollVideoFunc(ctx, op)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := *op
	if int(n) >= s.PollsToDone {
		next.Done = true
		next.VideoURI = "https://stub.invalid/" + strings.TrimPrefix(op.Name, "operations/") + ".mp4"
		next.MIMEType = "video/mp4"
	}
	return &next, nil
}

// Requests returns the content requests seen so far.
func (s *Stub) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Polls returns how many times PollVideo was called.
func (s *Stub) Polls() int {
	return int(s.polls.Load())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
