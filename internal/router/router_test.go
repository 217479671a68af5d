package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"missionforge/internal/config"
	"missionforge/internal/gateway"
	"missionforge/internal/mission"
	"missionforge/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testRouter(gw gateway.Gateway) *Router {
	return New(gw, Options{
		Models:              config.DefaultConfig().Models,
		Policy:              retry.Policy{Timeout: time.Second, BaseDelay: time.Millisecond},
		VideoTimeout:        2 * time.Second,
		PollInterval:        time.Millisecond,
		ThinkingBudget:      1024,
		FastMaxOutputTokens: 64,
		ImageAspectRatio:    "1:1",
	})
}

func TestDispatch_VideoPollsUntilDone(t *testing.T) {
	var polls int32
	stub := &gateway.Stub{
		GenerateVideoFunc: func(ctx context.Context, req *gateway.VideoRequest) (*gateway.VideoOperation, error) {
			return &gateway.VideoOperation{Name: "operations/v1", Done: false}, nil
		},
		PollVideoFunc: func(ctx context.Context, op *gateway.VideoOperation) (*gateway.VideoOperation, error) {
			n := atomic.AddInt32(&polls, 1)
			next := *op
			if n == 3 {
				next.Done = true
				next.VideoURI = "https://files.example/final.mp4"
			}
			return &next, nil
		},
	}

	var progress []int
	res, err := testRouter(stub).Dispatch(context.Background(), Request{
		Task:       declared("CC-06", "trailer", mission.KindVideo),
		OnProgress: func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), polls)
	assert.Equal(t, 3, stub.Polls())
	assert.Equal(t, mission.ResultSuccess, res.Status)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, mission.ArtifactVideo, res.Artifacts[0].Kind)
	assert.Equal(t, "https://files.example/final.mp4", res.Artifacts[0].Payload.URI)
	assert.Equal(t, []int{20, 30, 40}, progress)
	assert.Equal(t, "video", res.Route)
}

func TestDispatch_VideoReferenceImageAndAspect(t *testing.T) {
	var got *gateway.VideoRequest
	stub := &gateway.Stub{
		PollsToDone: 1,
		GenerateVideoFunc: func(ctx context.Context, req *gateway.VideoRequest) (*gateway.VideoOperation, error) {
			got = req
			return &gateway.VideoOperation{Name: "operations/v", Done: true, VideoURI: "https://x/v.mp4"}, nil
		},
	}
	files := []mission.DirectiveFile{
		{MIMEType: "text/plain", Data: []byte("notes")},
		{MIMEType: "image/jpeg", Data: []byte{9}},
	}
	_, err := testRouter(stub).Dispatch(context.Background(), Request{
		Task:  declared("CC-06", "trailer", mission.KindVideo),
		Files: files,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Image)
	assert.Equal(t, "image/jpeg", got.Image.MIMEType)
	assert.Equal(t, "16:9", got.AspectRatio)
	assert.Equal(t, 0, stub.Polls(), "an already finished operation is not polled")
}

func TestDispatch_VideoAbortStopsPolling(t *testing.T) {
	abort := make(chan struct{})
	stub := &gateway.Stub{
		PollsToDone: 1000,
		PollVideoFunc: func(ctx context.Context, op *gateway.VideoOperation) (*gateway.VideoOperation, error) {
			close(abort)
			return op, nil
		},
	}

	res, err := testRouter(stub).Dispatch(context.Background(), Request{
		Task:  declared("CC-06", "trailer", mission.KindVideo),
		Abort: abort,
	})
	require.Error(t, err)
	assert.Equal(t, mission.ErrMissionAborted, mission.KindOf(err))
	assert.Equal(t, mission.ResultError, res.Status)
	assert.Equal(t, 1, stub.Polls())
}

func TestDispatch_VideoSequenceTimeout(t *testing.T) {
	stub := &gateway.Stub{PollsToDone: 1 << 30}
	r := testRouter(stub)
	r.opts.VideoTimeout = 30 * time.Millisecond

	res, err := r.Dispatch(context.Background(), Request{Task: declared("CC-06", "trailer", mission.KindVideo)})
	assert.Equal(t, mission.ErrNodeTimeout, mission.KindOf(err))
	assert.Equal(t, mission.ErrNodeTimeout, res.Err)
	assert.Empty(t, res.Artifacts)
}

func TestDispatch_VideoOperationError(t *testing.T) {
	stub := &gateway.Stub{
		GenerateVideoFunc: func(ctx context.Context, req *gateway.VideoRequest) (*gateway.VideoOperation, error) {
			return &gateway.VideoOperation{Done: true, Err: "safety filter"}, nil
		},
	}
	_, err := testRouter(stub).Dispatch(context.Background(), Request{Task: declared("CC-06", "trailer", mission.KindVideo)})
	assert.Equal(t, mission.ErrGatewayFailure, mission.KindOf(err))
	assert.ErrorIs(t, err, gateway.ErrVideoFailed)
}

func TestDispatch_Image(t *testing.T) {
	stub := gateway.NewStub()
	res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: declared("CC-10", "hero shot", mission.KindImage)})
	require.NoError(t, err)

	require.Len(t, res.Artifacts, 1)
	art := res.Artifacts[0]
	assert.Equal(t, mission.ArtifactImage, art.Kind)
	assert.Equal(t, "image/png", art.Payload.MIMEType)
	assert.Equal(t, "gemini-3-pro-image-preview", art.Model)

	req := stub.Requests()[0]
	assert.Equal(t, "1:1", req.ImageAspectRatio)
	assert.Contains(t, req.ResponseModalities, gateway.ModalityImage)
}

func TestDispatch_ImageEditSendsUploads(t *testing.T) {
	stub := gateway.NewStub()
	files := []mission.DirectiveFile{{MIMEType: "image/png", Data: []byte{7}}}
	res, err := testRouter(stub).Dispatch(context.Background(), Request{
		Task:  declared("CC-10", "make it night", mission.KindImage),
		Files: files,
	})
	require.NoError(t, err)
	assert.Equal(t, "image_edit", res.Route)
	req := stub.Requests()[0]
	assert.Equal(t, "gemini-2.5-flash-image", req.Model)
	require.Len(t, req.Parts, 1)
}

func TestDispatch_SpeechWrapsPCM(t *testing.T) {
	stub := gateway.NewStub()
	res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: task("CC-12", "read the brief")})
	require.NoError(t, err)

	require.Len(t, res.Artifacts, 1)
	art := res.Artifacts[0]
	assert.Equal(t, mission.ArtifactAudio, art.Kind)
	assert.Equal(t, "audio/wav", art.Payload.MIMEType)
	assert.Equal(t, "RIFF", string(art.Payload.Data[:4]))
	assert.Len(t, art.Payload.Data, 44+4800)
	assert.Equal(t, "Kore", stub.Requests()[0].Voice)
}

func TestDispatch_SearchCitations(t *testing.T) {
	stub := &gateway.Stub{GenerateContentFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		assert.Equal(t, []gateway.Tool{gateway.ToolSearch}, req.Tools)
		return &gateway.Response{
			Text:      "Rates held.",
			Citations: []mission.Citation{{SourceURI: "https://news.example", Kind: mission.CitationWeb}},
		}, nil
	}}
	res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: declared("RA-01", "latest rates", mission.KindResearch)})
	require.NoError(t, err)

	assert.Equal(t, "Rates held.", res.Text)
	require.Len(t, res.Citations, 1)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, mission.ArtifactDocument, res.Artifacts[0].Kind)
	assert.Equal(t, "text/markdown", res.Artifacts[0].Payload.MIMEType)
}

func TestDispatch_SearchWithoutCitationsSucceeds(t *testing.T) {
	stub := &gateway.Stub{GenerateContentFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		return &gateway.Response{Text: "Nothing indexed."}, nil
	}}
	res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: declared("RA-01", "latest", mission.KindResearch)})
	require.NoError(t, err)
	assert.Equal(t, mission.ResultSuccess, res.Status)
	assert.Empty(t, res.Citations)
}

func TestDispatch_EmptyIsNotAnError(t *testing.T) {
	stub := &gateway.Stub{GenerateContentFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		return &gateway.Response{}, nil
	}}
	for _, tk := range []mission.Task{
		declared("CC-10", "hero", mission.KindImage),
		task("CC-12", "read"),
		declared("SP-01", "plan", mission.KindStrategy),
	} {
		res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: tk})
		require.NoError(t, err)
		assert.Equal(t, mission.ResultEmpty, res.Status, tk.AssignedNode)
		assert.Empty(t, res.Artifacts)
	}
}

func TestDispatch_QuotaExhausted(t *testing.T) {
	var calls, retries int32
	stub := &gateway.Stub{GenerateContentFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, gateway.ErrQuotaExceeded
	}}
	res, err := testRouter(stub).Dispatch(context.Background(), Request{
		Task:    declared("SP-01", "plan", mission.KindStrategy),
		OnRetry: func(int, error) { atomic.AddInt32(&retries, 1) },
	})
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, int32(1), retries)
	assert.Equal(t, mission.ErrResourceExhausted, mission.KindOf(err))
	assert.Equal(t, mission.ResultError, res.Status)
	assert.Equal(t, "SP-01", res.NodeID)
}

func TestDispatch_TextModels(t *testing.T) {
	stub := gateway.NewStub()
	r := testRouter(stub)

	_, err := r.Dispatch(context.Background(), Request{Task: task("MI-01", "compliance overview")})
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), Request{Task: task("SP-01", "pricing strategy")})
	require.NoError(t, err)

	reqs := stub.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "gemini-2.5-flash-lite", reqs[0].Model)
	assert.Equal(t, 64, reqs[0].MaxOutputTokens)
	assert.Equal(t, 0, reqs[0].ThinkingBudget)
	assert.Equal(t, "gemini-3-pro-preview", reqs[1].Model)
	assert.Equal(t, 1024, reqs[1].ThinkingBudget)
}

func TestDispatch_ImageKeepsLastPart(t *testing.T) {
	stub := &gateway.Stub{
		GenerateContentFunc: func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
			return &gateway.Response{Inline: []gateway.InlinePart{
				{MIMEType: "image/png", Data: []byte{1}},
				{MIMEType: "text/plain", Data: []byte("caption")},
				{MIMEType: "image/jpeg", Data: []byte{2}},
			}}, nil
		},
	}
	res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: declared("CC-10", "hero shot", mission.KindImage)})
	require.NoError(t, err)

	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "image/jpeg", res.Artifacts[0].Payload.MIMEType)
	assert.Equal(t, []byte{2}, res.Artifacts[0].Payload.Data)
}

func TestDispatch_TextRoutesForwardEveryAttachment(t *testing.T) {
	pdf := mission.DirectiveFile{Name: "brief.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}
	png := mission.DirectiveFile{Name: "mood.png", MIMEType: "image/png", Data: []byte{9}}

	cases := []struct {
		name  string
		task  mission.Task
		files []mission.DirectiveFile
		route Route
	}{
		{"reasoning", declared("SP-01", "pricing strategy", mission.KindStrategy), []mission.DirectiveFile{pdf}, RouteReasoning},
		{"fast", task("MI-01", "compliance overview"), []mission.DirectiveFile{pdf}, RouteFast},
		{"multimodal", task("SP-02", "summarize these"), []mission.DirectiveFile{pdf, png}, RouteMultimodal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := gateway.NewStub()
			res, err := testRouter(stub).Dispatch(context.Background(), Request{Task: tc.task, Files: tc.files})
			require.NoError(t, err)
			assert.Equal(t, string(tc.route), res.Route)

			req := stub.Requests()[0]
			require.Len(t, req.Parts, len(tc.files))
			for i, f := range tc.files {
				assert.Equal(t, f.MIMEType, req.Parts[i].MIMEType)
			}
		})
	}
}
