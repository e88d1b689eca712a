package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Use(MiddlewareMetrics)

	r.Get("/version", s.HandlerVersion)
	r.Post("/shutdown", s.HandlerShutdown)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/run", s.HandlerRunAnalysis)
	r.Post("/run-news-evaluation", s.HandlerRunNewsEvaluation)
	r.Post("/jobs/{kind}/run", s.HandlerRunKind)

	r.Get("/tasks", s.HandlerTaskList)
	r.Get("/tasks/{id}", s.HandlerTaskStatus)
	r.Post("/tasks/{id}/stop", s.HandlerTaskStop)
	r.Get("/tasks/{id}/events", s.HandlerTaskEvents)

	r.Get("/results", s.HandlerLatestResult)
	r.Get("/results/{kind}", s.HandlerLatestResultByKind)

	r.Get("/scheduler/status", s.HandlerSchedulerStatus)
	r.Post("/scheduler/enable", s.HandlerSchedulerEnable)
	r.Post("/scheduler/stop", s.HandlerSchedulerStop)
	r.Post("/scheduler/run-now", s.HandlerSchedulerRunNow)
	r.Get("/scheduler/events", s.HandlerSchedulerEvents)

	return r
}
