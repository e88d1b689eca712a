package schemas

import (
	"time"

	z "github.com/Oudwins/zog"

	"github.com/etrobot/gpt-trader/internals/schedule"
)

// SchedulerJobResponse is the wire form of one recurring job's state.
type SchedulerJobResponse struct {
	Kind    string `json:"kind"`
	State   string `json:"state"`
	LastRun string `json:"last_run,omitempty"`
	NextRun string `json:"next_run,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

type SchedulerStatusResponse struct {
	Enabled bool                   `json:"enabled"`
	Jobs    []SchedulerJobResponse `json:"jobs"`
}

func SchedulerStatusFromSnapshot(status schedule.Status) SchedulerStatusResponse {
	resp := SchedulerStatusResponse{
		Enabled: status.Enabled,
		Jobs:    make([]SchedulerJobResponse, 0, len(status.Jobs)),
	}
	for _, job := range status.Jobs {
		item := SchedulerJobResponse{
			Kind:   job.Kind,
			State:  string(job.State),
			TaskID: job.TaskID,
		}
		if !job.LastRun.IsZero() {
			item.LastRun = job.LastRun.Format(time.RFC3339Nano)
		}
		if !job.NextRun.IsZero() {
			item.NextRun = job.NextRun.Format(time.RFC3339Nano)
		}
		resp.Jobs = append(resp.Jobs, item)
	}
	return resp
}

type SchedulerStopResponse struct {
	Stopped bool          `json:"stopped"`
	Task    *TaskResponse `json:"task,omitempty"`
}

type SchedulerEnableRequest struct {
	Enabled bool `json:"enabled" zog:"enabled"`
}

var SchedulerEnableSchema = z.Struct(z.Shape{
	"Enabled": z.Bool().Required(),
})

type SchedulerRunNowRequest struct {
	Kind string `json:"kind" zog:"kind"`
}

var SchedulerRunNowSchema = z.Struct(z.Shape{
	"Kind": z.String().Required().Trim(),
})
