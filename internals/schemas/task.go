package schemas

import (
	"time"

	z "github.com/Oudwins/zog"

	"github.com/etrobot/gpt-trader/internals/taskengine"
)

// TaskResponse is the wire form of a task record snapshot.
type TaskResponse struct {
	TaskID      string  `json:"task_id"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt string  `json:"completed_at,omitempty"`
	Result      any     `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
	Version     uint64  `json:"version"`
}

func TaskResponseFromRecord(rec taskengine.Record) TaskResponse {
	resp := TaskResponse{
		TaskID:    rec.ID,
		Kind:      rec.Kind,
		Status:    string(rec.Status),
		Progress:  rec.Progress,
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		Result:    rec.Result,
		Error:     rec.Error,
		Version:   rec.Version,
	}
	if !rec.CompletedAt.IsZero() {
		resp.CompletedAt = rec.CompletedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// RunRequest is the body of job-submission endpoints. TopN bounds how many
// top-turnover symbols a sweep visits.
type RunRequest struct {
	TopN int `json:"top_n" zog:"top_n"`
}

var RunRequestSchema = z.Struct(z.Shape{
	"TopN": z.Int().Default(20).GTE(1).LTE(50),
})

// RunResponse acknowledges an accepted submission.
type RunResponse struct {
	TaskID  string `json:"task_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskListResponse wraps the full record listing.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}
