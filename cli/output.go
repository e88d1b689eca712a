package cli

import (
	"encoding/json"
	"fmt"

	"github.com/etrobot/gpt-trader/internals/schemas"
)

func printTask(task *schemas.TaskResponse) {
	fmt.Printf("task: %s\nkind: %s\nstatus: %s\nmessage: %s\n", task.TaskID, task.Kind, task.Status, task.Message)
	if task.Error != "" {
		fmt.Printf("error: %s\n", task.Error)
	}
}

func printTaskProgress(task *schemas.TaskResponse) {
	fmt.Printf("[%3.0f%%] %-10s %s\n", task.Progress*100, task.Status, task.Message)
	if task.Error != "" {
		fmt.Printf("error: %s\n", task.Error)
	}
}

func printTaskWithResult(task *schemas.TaskResponse) {
	printTask(task)
	if task.CompletedAt != "" {
		fmt.Printf("completed: %s\n", task.CompletedAt)
	}
	if task.Result == nil {
		return
	}
	pretty, err := json.MarshalIndent(task.Result, "", "  ")
	if err != nil {
		fmt.Printf("result: %v\n", task.Result)
		return
	}
	fmt.Printf("result:\n%s\n", pretty)
}

func printSchedulerStatus(status *schemas.SchedulerStatusResponse) {
	state := "disabled"
	if status.Enabled {
		state = "enabled"
	}
	fmt.Printf("scheduler: %s\n", state)
	for _, job := range status.Jobs {
		line := fmt.Sprintf("  %-22s %-14s", job.Kind, job.State)
		if job.NextRun != "" {
			line += " next " + job.NextRun
		}
		if job.LastRun != "" {
			line += " last " + job.LastRun
		}
		if job.TaskID != "" {
			line += " task " + job.TaskID
		}
		fmt.Println(line)
	}
}
