package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/etrobot/gpt-trader/internals/taskengine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T) (*Scheduler, *taskengine.Store, *taskengine.Runner) {
	t.Helper()
	store := taskengine.NewStore()
	runner := taskengine.NewRunner(store, taskengine.NewSlot(), testLogger(), 0)
	return New(runner, store, testLogger()), store, runner
}

func waitForStatus(store *taskengine.Store, taskID string, status taskengine.Status) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(taskID)
		if err == nil && rec.Status == status {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("timeout waiting for status")
}

func noopBody(ctx context.Context, report taskengine.Progress) (any, error) {
	return nil, nil
}

func TestSchedulerRegisterRejectsBadSpec(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	if err := sched.Register(Job{Kind: "analysis", Spec: "not a cron spec", Body: noopBody}); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

func TestSchedulerRunNowDispatches(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	if err := sched.Register(Job{Kind: "analysis", Spec: "0 0 * * *", Body: noopBody}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec, err := sched.RunNow("analysis")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if rec.Kind != "analysis" {
		t.Fatalf("unexpected kind %q", rec.Kind)
	}
	if err := waitForStatus(store, rec.ID, taskengine.StatusCompleted); err != nil {
		t.Fatalf("wait for completed: %v", err)
	}
}

func TestSchedulerRunNowUnknownKind(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	if _, err := sched.RunNow("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestSchedulerBusySkip(t *testing.T) {
	sched, store, runner := newTestScheduler(t)

	var skipped []string
	sched.OnSkip(func(kind string) { skipped = append(skipped, kind) })

	if err := sched.Register(Job{Kind: "analysis", Spec: "0 0 * * *", Body: noopBody}); err != nil {
		t.Fatalf("register: %v", err)
	}

	release := make(chan struct{})
	blocker, err := runner.Submit("generic", func(ctx context.Context, report taskengine.Progress) (any, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}

	if _, err := sched.RunNow("analysis"); !errors.Is(err, taskengine.ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "analysis" {
		t.Fatalf("expected one analysis skip, got %v", skipped)
	}

	status := sched.Status()
	if status.Jobs[0].State != StateIdle {
		t.Fatalf("expected idle after busy skip, got %s", status.Jobs[0].State)
	}

	close(release)
	if err := waitForStatus(store, blocker.ID, taskengine.StatusCompleted); err != nil {
		t.Fatalf("wait for blocker: %v", err)
	}
}

func TestSchedulerStatusTracksDispatchAndCompletion(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	release := make(chan struct{})
	if err := sched.Register(Job{Kind: "analysis", Spec: "0 0 * * *", Body: func(ctx context.Context, report taskengine.Progress) (any, error) {
		<-release
		return nil, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec, err := sched.RunNow("analysis")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	status := sched.Status()
	if status.Jobs[0].State != StateDispatched {
		t.Fatalf("expected dispatched, got %s", status.Jobs[0].State)
	}
	if status.Jobs[0].TaskID != rec.ID {
		t.Fatalf("expected task id %s, got %s", rec.ID, status.Jobs[0].TaskID)
	}

	close(release)
	if err := waitForStatus(store, rec.ID, taskengine.StatusCompleted); err != nil {
		t.Fatalf("wait for completed: %v", err)
	}

	status = sched.Status()
	if status.Jobs[0].State != StateIdle {
		t.Fatalf("expected idle after completion, got %s", status.Jobs[0].State)
	}
}

func TestSchedulerDisabledSkipsSubmission(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	if err := sched.Register(Job{Kind: "analysis", Spec: "0 0 * * *", Body: noopBody}); err != nil {
		t.Fatalf("register: %v", err)
	}

	sched.Enable(false)
	if sched.Enabled() {
		t.Fatalf("expected disabled")
	}

	sched.trigger("analysis")
	if got := len(store.List()); got != 0 {
		t.Fatalf("expected no submissions while disabled, got %d", got)
	}

	status := sched.Status()
	if status.Enabled {
		t.Fatalf("expected snapshot to report disabled")
	}
	if status.Jobs[0].LastRun.IsZero() {
		t.Fatalf("expected last_run to be recorded even while disabled")
	}
}

func TestSchedulerStopCurrent(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	started := make(chan struct{})
	if err := sched.Register(Job{Kind: "analysis", Spec: "0 0 * * *", Body: func(ctx context.Context, report taskengine.Progress) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := sched.StopCurrent(); ok {
		t.Fatalf("expected nothing to stop before dispatch")
	}

	rec, err := sched.RunNow("analysis")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	<-started

	if _, ok := sched.StopCurrent(); !ok {
		t.Fatalf("expected a stop to be issued")
	}
	if err := waitForStatus(store, rec.ID, taskengine.StatusCancelled); err != nil {
		t.Fatalf("wait for cancelled: %v", err)
	}
}

func TestSchedulerNextRunComputedWhenStarted(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	if err := sched.Register(Job{Kind: "analysis", Spec: "* * * * *", Body: noopBody}); err != nil {
		t.Fatalf("register: %v", err)
	}

	sched.Start()
	defer sched.Stop()

	status := sched.Status()
	if status.Jobs[0].NextRun.IsZero() {
		t.Fatalf("expected next_run to be computed after start")
	}
	if !status.Jobs[0].NextRun.After(time.Now().Add(-time.Minute)) {
		t.Fatalf("implausible next_run: %v", status.Jobs[0].NextRun)
	}
}
