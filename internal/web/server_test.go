package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionforge/internal/config"
	"missionforge/internal/mission"
	"missionforge/internal/router"
	"missionforge/internal/store"
	"missionforge/internal/swarm"
)

type fakePlanner struct{}

func (fakePlanner) SynthesizePlan(ctx context.Context, d mission.Directive) (*mission.Plan, error) {
	return &mission.Plan{Tasks: []mission.Task{
		{ID: "t1", Label: "Memo", AssignedNode: "SP-01", Description: d.Text, Kind: mission.KindStrategy, Status: mission.TaskPending},
	}}, nil
}

type gatedDispatcher struct {
	gate chan struct{}
}

func (g *gatedDispatcher) Dispatch(ctx context.Context, req router.Request) (mission.GenerationResult, error) {
	if g.gate != nil {
		<-g.gate
	}
	return mission.GenerationResult{
		Status: mission.ResultSuccess,
		NodeID: req.Task.AssignedNode,
		Artifacts: []mission.Artifact{{
			Kind:    mission.ArtifactDocument,
			Label:   req.Task.Label,
			Payload: mission.Payload{MIMEType: "text/markdown", Data: []byte("memo")},
		}},
	}, nil
}

type fakeHistory struct {
	reports map[string]*mission.Report
}

func (f *fakeHistory) ListMissions(limit int) ([]store.MissionSummary, error) {
	var out []store.MissionSummary
	for _, r := range f.reports {
		out = append(out, summarize(r))
	}
	return out, nil
}

func (f *fakeHistory) Get(id string) (*mission.Report, error) {
	if r, ok := f.reports[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

type harness struct {
	srv   *Server
	coord *swarm.Coordinator
	http  *httptest.Server
}

func newHarness(t *testing.T, d swarm.Dispatcher, history History) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	coord := swarm.NewCoordinator(swarm.Config{Mode: config.ModeSequential}, fakePlanner{}, d, swarm.WithSink(hub))
	srv := NewServer(ctx, Options{Coordinator: coord, Hub: hub, History: history, Version: "test"})
	go hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, coord: coord, http: ts}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.http.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestSubmitAndFetchMission(t *testing.T) {
	h := newHarness(t, &gatedDispatcher{}, nil)

	resp, body := h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "write a memo"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["missionId"].(string)
	require.NotEmpty(t, id)

	<-h.coord.Done()

	resp, body = h.do(t, http.MethodGet, "/api/missions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", body["outcome"])

	resp, body = h.do(t, http.MethodGet, "/api/missions/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "IDLE", body["phase"])

	req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/api/missions", nil)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []store.MissionSummary
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &gatedDispatcher{gate: gate}, nil)

	resp, _ := h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, h.http.URL+"/api/missions", strings.NewReader("{not json"))
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already active")

	resp, body = h.do(t, http.MethodPost, "/api/missions/abort", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["isCancelled"])

	close(gate)
	<-h.coord.Done()
	assert.Equal(t, mission.OutcomeAborted, h.coord.LastReport().Outcome)

	resp, _ = h.do(t, http.MethodPost, "/api/missions/abort", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetMissionFromHistory(t *testing.T) {
	history := &fakeHistory{reports: map[string]*mission.Report{
		"old": {MissionID: "old", Directive: "archived", Outcome: mission.OutcomePartial},
	}}
	h := newHarness(t, &gatedDispatcher{}, history)

	resp, body := h.do(t, http.MethodGet, "/api/missions/old", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "archived", body["directive"])

	resp, _ = h.do(t, http.MethodGet, "/api/missions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNodesHealthAndClassify(t *testing.T) {
	h := newHarness(t, &gatedDispatcher{}, nil)

	req, _ := http.NewRequest(http.MethodGet, h.http.URL+"/api/nodes", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var nodes []router.Node
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nodes))
	resp.Body.Close()
	assert.Equal(t, len(router.Roster()), len(nodes))

	hr, body := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, hr.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])

	cr, body := h.do(t, http.MethodPost, "/api/classify", classifyRequest{
		Task: mission.Task{AssignedNode: "cc-06", Description: "opening titles"},
	})
	assert.Equal(t, http.StatusOK, cr.StatusCode)
	assert.Equal(t, "video", body["route"])

	cr, _ = h.do(t, http.MethodPost, "/api/classify", classifyRequest{})
	assert.Equal(t, http.StatusBadRequest, cr.StatusCode)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	h := newHarness(t, &gatedDispatcher{}, nil)

	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.srv.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, _ := h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "stream it"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-h.coord.Done()

	seen := map[swarm.EventType]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !seen[swarm.EventArtifactAdded] || !seen[swarm.EventPhaseChanged] {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e swarm.Event
		require.NoError(t, json.Unmarshal(data, &e))
		seen[e.Type] = true
	}
}

func TestRequestBodyLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord := swarm.NewCoordinator(swarm.Config{Mode: config.ModeSequential}, fakePlanner{}, &gatedDispatcher{})
	srv := NewServer(ctx, Options{Coordinator: coord, MaxRequestBytes: 1024})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	h := &harness{srv: srv, coord: coord, http: ts}

	resp, _ := h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, coord.State().IsActive)

	resp, _ = h.do(t, http.MethodPost, "/api/classify", classifyRequest{
		Task: mission.Task{AssignedNode: "SP-01", Description: strings.Repeat("y", 4096)},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/missions", submitRequest{Directive: "small enough"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-coord.Done()
}

func TestHubDropsStalledClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	hub.writeWait = 50 * time.Millisecond
	coord := swarm.NewCoordinator(swarm.Config{Mode: config.ModeSequential}, fakePlanner{}, &gatedDispatcher{})
	srv := NewServer(ctx, Options{Coordinator: coord, Hub: hub})
	go hub.Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// The client never reads, so the socket buffers fill up.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	big := strings.Repeat("z", 256<<10)
	require.Eventually(t, func() bool {
		hub.Publish(swarm.Event{Type: swarm.EventLogLine, MissionID: "m", Message: big})
		return hub.ClientCount() == 0
	}, 10*time.Second, 10*time.Millisecond)
}
