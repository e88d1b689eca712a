package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/etrobot/gpt-trader/internals/schemas"
)

func TestSubscribeTaskDeliversUntilTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/task1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		snapshots := []schemas.TaskResponse{
			{TaskID: "task1", Status: "running", Progress: 0.5, Version: 2},
			{TaskID: "task1", Status: "completed", Progress: 1, Version: 3},
		}
		for _, snap := range snapshots {
			data, _ := json.Marshal(snap)
			fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, ": heartbeat\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates, err := client.SubscribeTask(ctx, "task1")
	if err != nil {
		t.Fatalf("SubscribeTask: %v", err)
	}

	var got []schemas.TaskResponse
	for task := range updates {
		got = append(got, task)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(got))
	}
	if got[0].Status != "running" || got[1].Status != "completed" {
		t.Fatalf("unexpected updates: %+v", got)
	}
	if got[1].Version <= got[0].Version {
		t.Fatalf("versions not increasing: %+v", got)
	}
}

func TestSubscribeTaskUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Status: "failed", Code: "not_found", Message: "Task not found"})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.SubscribeTask(ctx, "missing"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestPollTaskStopsAtTerminal(t *testing.T) {
	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/task1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		polls++
		snap := schemas.TaskResponse{TaskID: "task1", Status: "running", Version: uint64(polls)}
		if polls >= 3 {
			snap.Status = "completed"
			snap.Progress = 1
		}
		_ = json.NewEncoder(w).Encode(&snap)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates, err := client.PollTask(ctx, "task1")
	if err != nil {
		t.Fatalf("PollTask: %v", err)
	}

	var got []schemas.TaskResponse
	for task := range updates {
		got = append(got, task)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 updates, got %+v", got)
	}
	if got[len(got)-1].Status != "completed" {
		t.Fatalf("expected terminal last update, got %+v", got[len(got)-1])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Version <= got[i-1].Version {
			t.Fatalf("versions not increasing: %+v", got)
		}
	}
}

func TestPollTaskSkipsUnchangedVersions(t *testing.T) {
	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		snap := schemas.TaskResponse{TaskID: "task1", Status: "running", Version: 1}
		if polls >= 4 {
			snap = schemas.TaskResponse{TaskID: "task1", Status: "completed", Version: 2}
		}
		_ = json.NewEncoder(w).Encode(&snap)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates, err := client.PollTask(ctx, "task1")
	if err != nil {
		t.Fatalf("PollTask: %v", err)
	}

	var got []schemas.TaskResponse
	for task := range updates {
		got = append(got, task)
	}
	if len(got) != 2 {
		t.Fatalf("expected dedup to 2 updates, got %+v", got)
	}
}

func TestWatchTaskFallsBackToPolling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks/task1/events":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Status: "failed", Code: "internal", Message: "streaming unsupported"})
		case "/tasks/task1":
			_ = json.NewEncoder(w).Encode(&schemas.TaskResponse{TaskID: "task1", Status: "completed", Progress: 1, Version: 4})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := client.WatchTask(ctx, "task1")
	if err != nil {
		t.Fatalf("WatchTask: %v", err)
	}

	var got []schemas.TaskResponse
	for task := range updates {
		got = append(got, task)
	}
	if len(got) != 1 || got[0].Status != "completed" {
		t.Fatalf("expected single terminal update, got %+v", got)
	}
}
