package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"github.com/etrobot/gpt-trader/daemon/jobs"
	"github.com/etrobot/gpt-trader/internals/metrics"
	"github.com/etrobot/gpt-trader/internals/resultstore"
	"github.com/etrobot/gpt-trader/internals/schemas"
	"github.com/etrobot/gpt-trader/internals/taskengine"
	"github.com/etrobot/gpt-trader/internals/timeouts"
)

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Base.Config.Version))
}

func (s *Server) HandlerShutdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("shutting down"))
	s.Shutdown()
}

func (s *Server) HandlerRunAnalysis(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, jobs.KindAnalysis)
}

func (s *Server) HandlerRunNewsEvaluation(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, jobs.KindNewsEvaluation)
}

func (s *Server) HandlerRunKind(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, chi.URLParam(r, "kind"))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, kind string) {
	request, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	factory, err := s.catalog.Resolve(kind)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "Unknown job kind", nil), Render.Status(http.StatusNotFound))
		return
	}

	rec, err := s.runner.Submit(kind, factory(request.TopN))
	if errors.Is(err, taskengine.ErrSlotBusy) {
		metrics.BusyRejections.WithLabelValues(kind).Inc()
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeBusy, "Another task is already running", nil), Render.Status(http.StatusConflict))
		return
	}
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}

	metrics.TasksSubmitted.WithLabelValues(kind).Inc()
	RenderJSON(w, r, schemas.RunResponse{
		TaskID:  rec.ID,
		Kind:    rec.Kind,
		Status:  string(rec.Status),
		Message: rec.Message,
	}, Render.Status(http.StatusAccepted))
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (schemas.RunRequest, bool) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return schemas.RunRequest{}, false
	}
	if payload == nil {
		payload = map[string]any{}
	}

	var request schemas.RunRequest
	if issues := schemas.RunRequestSchema.Parse(payload, &request); issues != nil {
		response := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, response, Render.Status(http.StatusBadRequest))
		return schemas.RunRequest{}, false
	}
	return request, true
}

func (s *Server) HandlerTaskList(w http.ResponseWriter, r *http.Request) {
	records := s.store.List()
	response := schemas.TaskListResponse{Tasks: make([]schemas.TaskResponse, 0, len(records))}
	for _, rec := range records {
		response.Tasks = append(response.Tasks, schemas.TaskResponseFromRecord(rec))
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerTaskStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "Unknown task", nil), Render.Status(http.StatusNotFound))
		return
	}
	RenderJSON(w, r, schemas.TaskResponseFromRecord(rec))
}

func (s *Server) HandlerTaskStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runner.Stop(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, taskengine.ErrUnknownTask) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "Unknown task", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, schemas.TaskResponseFromRecord(rec))
}

// HandlerLatestResult serves the most recently completed task of any kind,
// falling back to the persisted store when the process has not completed
// anything since it started.
func (s *Server) HandlerLatestResult(w http.ResponseWriter, r *http.Request) {
	if rec, err := s.store.LatestCompleted(); err == nil {
		RenderJSON(w, r, schemas.TaskResponseFromRecord(rec))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Probe)
	defer cancel()
	entry, err := s.Base.Results.LatestAny(ctx)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "No completed results", nil), Render.Status(http.StatusNotFound))
		return
	}
	RenderJSON(w, r, taskResponseFromEntry(entry))
}

func (s *Server) HandlerLatestResultByKind(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	if rec, err := s.store.Latest(kind); err == nil {
		RenderJSON(w, r, schemas.TaskResponseFromRecord(rec))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Probe)
	defer cancel()
	entry, err := s.Base.Results.Latest(ctx, kind)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "No results for this kind", nil), Render.Status(http.StatusNotFound))
		return
	}
	RenderJSON(w, r, taskResponseFromEntry(entry))
}

func resultEntryFromRecord(rec taskengine.Record) resultstore.Entry {
	return resultstore.Entry{
		Kind:        rec.Kind,
		TaskID:      rec.ID,
		Status:      string(rec.Status),
		Message:     rec.Message,
		Result:      rec.Result,
		Error:       rec.Error,
		CompletedAt: rec.CompletedAt,
	}
}

func taskResponseFromEntry(entry resultstore.Entry) schemas.TaskResponse {
	response := schemas.TaskResponse{
		TaskID:      entry.TaskID,
		Kind:        entry.Kind,
		Status:      entry.Status,
		Message:     entry.Message,
		CompletedAt: entry.CompletedAt.Format(time.RFC3339Nano),
		Result:      entry.Result,
		Error:       entry.Error,
	}
	if entry.Status == string(taskengine.StatusCompleted) {
		response.Progress = 1
	}
	return response
}
