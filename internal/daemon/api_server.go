package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"castline/internal/api"
	"castline/internal/engine"
	"castline/internal/jobs"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/preflight"
	"castline/internal/stageexec"
	"castline/internal/store"
	"castline/internal/workflow"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	engine *engine.Engine

	listener net.Listener
	server   *http.Server
}

// NewHandler returns the HTTP JSON API for eng. A non-empty token requires
// bearer authentication on every route.
func NewHandler(eng *engine.Engine, token string, logger *slog.Logger) http.Handler {
	srv := &apiServer{engine: eng, logger: logger}
	return srv.routes(token)
}

func newAPIServer(bind, token string, eng *engine.Engine, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || eng == nil {
		return nil
	}
	srv := &apiServer{bind: bind, logger: logger, engine: eng}
	srv.server = &http.Server{
		Handler:           srv.routes(token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/units", s.handleListUnits)
	mux.HandleFunc("POST /api/units", s.handleAddUnit)
	mux.HandleFunc("GET /api/units/{id}", s.handleGetUnit)
	mux.HandleFunc("GET /api/units/{id}/runs", s.handleUnitRuns)
	mux.HandleFunc("POST /api/units/{id}/stages/{stage}", s.handleRunStage)
	mux.HandleFunc("POST /api/units/{id}/pipeline", s.handleRunPipeline)
	mux.HandleFunc("POST /api/units/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/units/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/batches", s.handleStartBatch)
	mux.HandleFunc("GET /api/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /api/batches/{id}/stop", s.handleStopBatch)
	mux.HandleFunc("GET /api/cost", s.handleCost)
	return requestIDMiddleware(authMiddleware(token, mux))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	stages := s.engine.Health(r.Context())
	checks := preflight.RunAll(r.Context(), cfg)
	ready := !preflight.Failed(checks)
	for _, h := range stages {
		if !h.Ready {
			ready = false
		}
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		Ready:      ready,
		QueueDepth: s.engine.QueueDepth(),
		Stages:     stages,
		Preflight:  checks,
		InboxDir:   cfg.Paths.InboxDir,
	})
}

func (s *apiServer) handleListUnits(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := store.ParseStatus(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
			return
		}
		statuses = append(statuses, status)
	}
	units, err := s.engine.Units(r.Context(), statuses...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.UnitListResponse{
		Units:  api.FromUnits(units),
		Counts: api.StatusCounts(stats),
	})
}

func (s *apiServer) handleAddUnit(w http.ResponseWriter, r *http.Request) {
	var req engine.AddRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	unit, err := s.engine.AddUnit(r.Context(), req)
	if errors.Is(err, store.ErrDuplicateSource) && unit != nil {
		dto := api.FromUnit(unit)
		s.writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error(), Unit: &dto})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.AddUnitResponse{Unit: api.FromUnit(unit)})
}

func (s *apiServer) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	unit, err := s.engine.Unit(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	artifacts, err := s.engine.Artifacts(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	segments, err := s.engine.Segments(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.UnitResponse{
		Unit:      api.FromUnit(unit),
		Artifacts: api.FromArtifacts(artifacts),
		Segments:  len(segments),
	})
}

func (s *apiServer) handleUnitRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	runs, err := s.engine.Runs(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromRuns(runs)})
}

func (s *apiServer) handleRunStage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	var req api.RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	jobID, err := s.engine.RunStage(r.Context(), id, r.PathValue("stage"), req.Force)
	s.accepted(w, r, jobID, err)
}

func (s *apiServer) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	var req api.RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	jobID, err := s.engine.RunPipeline(r.Context(), id, req.Force)
	s.accepted(w, r, jobID, err)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	jobID, err := s.engine.Retry(r.Context(), id)
	s.accepted(w, r, jobID, err)
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.unitID(w, r)
	if !ok {
		return
	}
	var req api.ResetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Stage) == "" {
		s.writeError(w, http.StatusBadRequest, "stage is required")
		return
	}
	unit, err := s.engine.Reset(r.Context(), id, req.Stage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AddUnitResponse{Unit: api.FromUnit(unit)})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: s.engine.Jobs()})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Job(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	batch, err := s.engine.StartBatch(r.Context(), req.UnitIDs, jobs.BatchOptions{
		StopOnFirstError:  req.StopOnFirstError,
		StopBetweenStages: req.StopBetweenStages,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, batch)
}

func (s *apiServer) handleListBatches(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": s.engine.Batches()})
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.engine.Batch(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *apiServer) handleStopBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.engine.StopBatch(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *apiServer) handleCost(w http.ResponseWriter, r *http.Request) {
	var unitID *int64
	if value := strings.TrimSpace(r.URL.Query().Get("unit")); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid unit id")
			return
		}
		unitID = &parsed
	}
	summary, err := s.engine.Cost(r.Context(), unitID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCostSummary(summary))
}

func (s *apiServer) unitID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid unit id")
		return 0, false
	}
	return id, true
}

// decode reads an optional JSON body. An empty body leaves out untouched.
func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) accepted(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobAccepted{JobID: jobID})
}

func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.log()).Error("api request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var precondition *stageexec.PreconditionError
	var invalid *workflow.InvalidStateError
	switch {
	case errors.As(err, &precondition), errors.As(err, &invalid), errors.Is(err, store.ErrDuplicateSource):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrUnitNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrBatchNotFound),
		errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, pipeline.ErrUnknownVersion):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
