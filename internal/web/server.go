// Package web exposes the coordinator over HTTP and streams mission events
// to websocket clients.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"missionforge/internal/logging"
	"missionforge/internal/mission"
	"missionforge/internal/router"
	"missionforge/internal/store"
	"missionforge/internal/swarm"
)

// History is the read side of the mission journal.
type History interface {
	ListMissions(limit int) ([]store.MissionSummary, error)
	Get(id string) (*mission.Report, error)
}

// DefaultMaxRequestBytes caps a request body, attachments included.
const DefaultMaxRequestBytes = 32 << 20

// Options configures a Server.
type Options struct {
	Coordinator *swarm.Coordinator
	Hub         *Hub
	History     History // optional
	Logger      *zap.Logger
	Version     string

	// MaxRequestBytes defaults to DefaultMaxRequestBytes.
	MaxRequestBytes int64
}

// Server is the HTTP control surface.
type Server struct {
	coord     *swarm.Coordinator
	hub       *Hub
	history   History
	log       *zap.Logger
	version   string
	maxBody   int64
	startedAt time.Time

	// missionCtx bounds submitted missions; request contexts end too early.
	missionCtx context.Context
}

// NewServer creates a server. Missions submitted over HTTP run under ctx.
func NewServer(ctx context.Context, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}
	maxBody := opts.MaxRequestBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestBytes
	}
	return &Server{
		coord:      opts.Coordinator,
		hub:        hub,
		history:    opts.History,
		log:        log,
		version:    opts.Version,
		maxBody:    maxBody,
		startedAt:  time.Now(),
		missionCtx: ctx,
	}
}

// Hub returns the websocket hub so it can be added to the event sinks.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logMiddleware(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/nodes", s.handleNodes)
		r.Post("/classify", s.handleClassify)

		r.Route("/missions", func(r chi.Router) {
			r.Get("/", s.handleListMissions)
			r.Post("/", s.handleSubmit)
			r.Post("/abort", s.handleAbort)
			r.Get("/current", s.handleCurrent)
			r.Get("/{id}", s.handleGetMission)
		})
	})
	return r
}

// Start serves on addr until ctx is done, then shuts down within
// shutdownTimeout. The hub runs for the lifetime of the server.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.API("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	<-errCh
	logging.API("HTTP server stopped")
	return nil
}

type submitRequest struct {
	Directive string                  `json:"directive"`
	Files     []mission.DirectiveFile `json:"files,omitempty"`
}

type submitResponse struct {
	MissionID string `json:"missionId"`
}

type classifyRequest struct {
	Task  mission.Task            `json:"task"`
	Files []mission.DirectiveFile `json:"files,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Phase   mission.Phase `json:"phase"`
	Clients int           `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Phase:   s.coord.State().Phase,
		Clients: s.hub.ClientCount(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, decodeStatus(err), "unable to parse body")
		return
	}

	id, err := s.coord.Submit(s.missionCtx, mission.Directive{Text: req.Directive, Files: req.Files})
	switch {
	case errors.Is(err, swarm.ErrEmptyDirective):
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, swarm.ErrMissionActive):
		s.fail(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logging.API("Mission %s submitted over HTTP (%d files)", id, len(req.Files))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, submitResponse{MissionID: id})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Abort(); err != nil {
		s.fail(w, r, http.StatusConflict, err.Error())
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, s.coord.State())
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.coord.State())
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if state := s.coord.State(); state.MissionID == id && state.IsActive {
		render.JSON(w, r, state)
		return
	}
	if last := s.coord.LastReport(); last != nil && last.MissionID == id {
		render.JSON(w, r, last)
		return
	}
	if s.history != nil {
		report, err := s.history.Get(id)
		if err == nil {
			render.JSON(w, r, report)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.fail(w, r, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.fail(w, r, http.StatusNotFound, "mission not found")
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		var out []store.MissionSummary
		if last := s.coord.LastReport(); last != nil {
			out = append(out, summarize(last))
		}
		render.JSON(w, r, out)
		return
	}
	list, err := s.history.ListMissions(50)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, list)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, router.Roster())
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, decodeStatus(err), "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Task.Description) == "" {
		s.fail(w, r, http.StatusBadRequest, "task description is required")
		return
	}
	req.Task.AssignedNode = strings.ToUpper(req.Task.AssignedNode)
	render.JSON(w, r, map[string]string{"route": string(router.Classify(req.Task, req.Files))})
}

// decode reads a JSON body of at most maxBody bytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	return render.DecodeJSON(r.Body, v)
}

func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= http.StatusInternalServerError {
		logging.APIWarn("%s %s: %s", r.Method, r.URL.Path, msg)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func summarize(r *mission.Report) store.MissionSummary {
	return store.MissionSummary{
		ID:           r.MissionID,
		Directive:    r.Directive,
		Outcome:      r.Outcome,
		UsedFallback: r.UsedFallback,
		Completed:    r.Stats.Completed,
		Halted:       r.Stats.Halted,
		Artifacts:    len(r.Artifacts),
		StartedAt:    r.StartedAt,
		Elapsed:      r.Stats.Elapsed,
	}
}
