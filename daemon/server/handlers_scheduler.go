package server

import (
	"encoding/json"
	"errors"
	"net/http"

	z "github.com/Oudwins/zog"

	"github.com/etrobot/gpt-trader/internals/metrics"
	"github.com/etrobot/gpt-trader/internals/schedule"
	"github.com/etrobot/gpt-trader/internals/schemas"
	"github.com/etrobot/gpt-trader/internals/taskengine"
)

func (s *Server) HandlerSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, schemas.SchedulerStatusFromSnapshot(s.scheduler.Status()))
}

func (s *Server) HandlerSchedulerEnable(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}

	var request schemas.SchedulerEnableRequest
	if issues := schemas.SchedulerEnableSchema.Parse(payload, &request); issues != nil {
		response := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, response, Render.Status(http.StatusBadRequest))
		return
	}

	s.scheduler.Enable(request.Enabled)
	RenderJSON(w, r, schemas.SchedulerStatusFromSnapshot(s.scheduler.Status()))
}

func (s *Server) HandlerSchedulerStop(w http.ResponseWriter, r *http.Request) {
	rec, stopped := s.scheduler.StopCurrent()
	response := schemas.SchedulerStopResponse{Stopped: stopped}
	if stopped {
		task := schemas.TaskResponseFromRecord(rec)
		response.Task = &task
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerSchedulerRunNow(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}

	var request schemas.SchedulerRunNowRequest
	if issues := schemas.SchedulerRunNowSchema.Parse(payload, &request); issues != nil {
		response := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, response, Render.Status(http.StatusBadRequest))
		return
	}

	rec, err := s.scheduler.RunNow(request.Kind)
	if errors.Is(err, schedule.ErrUnknownJob) {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "Unknown job kind", nil), Render.Status(http.StatusNotFound))
		return
	}
	if errors.Is(err, taskengine.ErrSlotBusy) {
		metrics.BusyRejections.WithLabelValues(request.Kind).Inc()
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeBusy, "Another task is already running", nil), Render.Status(http.StatusConflict))
		return
	}
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}

	metrics.TasksSubmitted.WithLabelValues(request.Kind).Inc()
	RenderJSON(w, r, schemas.RunResponse{
		TaskID:  rec.ID,
		Kind:    rec.Kind,
		Status:  string(rec.Status),
		Message: rec.Message,
	}, Render.Status(http.StatusAccepted))
}
