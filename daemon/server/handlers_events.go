package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/etrobot/gpt-trader/internals/metrics"
	"github.com/etrobot/gpt-trader/internals/schemas"
	"github.com/etrobot/gpt-trader/internals/taskengine"
	"github.com/etrobot/gpt-trader/internals/timeouts"
)

// HandlerTaskEvents streams one "update" SSE event per record mutation and
// closes the stream after the terminal snapshot. Clients that cannot hold
// the connection fall back to polling GET /tasks/{id}.
func (s *Server) HandlerTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(id); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "Unknown task", nil), Render.Status(http.StatusNotFound))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Streaming unsupported", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	sub := s.notifier.Subscribe(id, func() (taskengine.Record, bool) {
		rec, err := s.store.Get(id)
		return rec, err == nil
	})
	defer sub.Close()

	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	writeSSEHeaders(w)
	flusher.Flush()

	heartbeat := time.NewTicker(timeouts.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case rec, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSEEvent(w, "update", schemas.TaskResponseFromRecord(rec)); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandlerSchedulerEvents streams the scheduler snapshot whenever it changes,
// checking on a short fixed interval.
func (s *Server) HandlerSchedulerEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Streaming unsupported", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	writeSSEHeaders(w)

	var last []byte
	emit := func() bool {
		snapshot := schemas.SchedulerStatusFromSnapshot(s.scheduler.Status())
		encoded, err := json.Marshal(snapshot)
		if err != nil {
			return false
		}
		if bytes.Equal(encoded, last) {
			return true
		}
		last = encoded
		if _, err := fmt.Fprintf(w, "event: update\ndata: %s\n\n", encoded); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !emit() {
		return
	}

	ticker := time.NewTicker(timeouts.SchedulerEvents)
	defer ticker.Stop()
	heartbeat := time.NewTicker(timeouts.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ticker.C:
			if !emit() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
	return err
}
