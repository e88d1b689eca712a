package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/etrobot/gpt-trader/internals/schemas"
	"github.com/etrobot/gpt-trader/internals/timeouts"
)

// SubscribeTask opens the task's event stream and delivers every update on
// the returned channel, starting with the current snapshot. The channel is
// closed once the task reaches a terminal state, the server ends the stream,
// or ctx is cancelled.
func (c *Client) SubscribeTask(ctx context.Context, taskID string) (<-chan schemas.TaskResponse, error) {
	path := "/tasks/" + url.PathEscape(taskID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the client's request timeout, so use a dedicated
	// client without one. Cancellation comes from ctx.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}

	updates := make(chan schemas.TaskResponse)
	go func() {
		defer close(updates)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var data string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "":
				if data == "" {
					continue
				}
				var task schemas.TaskResponse
				if err := json.Unmarshal([]byte(data), &task); err != nil {
					data = ""
					continue
				}
				data = ""
				select {
				case updates <- task:
				case <-ctx.Done():
					return
				}
				if terminalStatus(task.Status) {
					return
				}
			}
		}
	}()

	return updates, nil
}

// PollTask watches a task by polling its status endpoint. Each version bump
// is delivered once; the channel closes after the first terminal snapshot or
// when ctx is cancelled.
func (c *Client) PollTask(ctx context.Context, taskID string) (<-chan schemas.TaskResponse, error) {
	first, err := c.TaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	updates := make(chan schemas.TaskResponse)
	go func() {
		defer close(updates)

		last := uint64(0)
		ticker := time.NewTicker(timeouts.Poll)
		defer ticker.Stop()

		task := first
		for {
			if task != nil && task.Version > last {
				last = task.Version
				select {
				case updates <- *task:
				case <-ctx.Done():
					return
				}
				if terminalStatus(task.Status) {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}

			next, err := c.TaskStatus(ctx, taskID)
			if err != nil {
				return
			}
			task = next
		}
	}()

	return updates, nil
}

// WatchTask prefers the event stream and falls back to polling when the
// stream cannot be established.
func (c *Client) WatchTask(ctx context.Context, taskID string) (<-chan schemas.TaskResponse, error) {
	updates, err := c.SubscribeTask(ctx, taskID)
	if err == nil {
		return updates, nil
	}
	return c.PollTask(ctx, taskID)
}

func terminalStatus(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
