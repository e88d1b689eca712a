package taskengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Progress reports advisory progress in [0,1] plus a human-readable status
// line. Values outside the range are clamped; progress is monotonic by
// convention only.
type Progress func(progress float64, message string)

// Body is a caller-supplied unit of work. The context carries the
// cooperative cancellation signal: bodies must check ctx.Err() at safe
// checkpoints (e.g. between one symbol and the next) and return it when
// cancellation is observed. The engine never forcibly interrupts a body, so
// the checkpoint discipline is a mandatory part of this contract.
type Body func(ctx context.Context, report Progress) (any, error)

// Runner is the orchestration glue between submission, the execution slot,
// the store and the fan-out: it admits work, spawns the worker goroutine and
// wires progress, results and failures back into the record.
type Runner struct {
	store       *Store
	slot        *Slot
	logger      *slog.Logger
	acquireWait time.Duration
	onTerminal  func(Record)
}

func NewRunner(store *Store, slot *Slot, logger *slog.Logger, acquireWait time.Duration) *Runner {
	return &Runner{
		store:       store,
		slot:        slot,
		logger:      logger,
		acquireWait: acquireWait,
	}
}

// OnTerminal registers a hook invoked from the worker goroutine after a
// record reaches a terminal state. Used for persistence and metrics. Must be
// called during wiring, before the first Submit.
func (r *Runner) OnTerminal(fn func(Record)) {
	r.onTerminal = fn
}

// Submit creates a record for kind and attempts to start body. Submission is
// non-blocking beyond the slot's bounded wait: on success the Running
// snapshot is returned immediately while the body executes on its own
// goroutine.
//
// A busy submission is rejected rather than queued; recurring triggers
// re-attempt on their own cadence. The record is transitioned
// Pending -> Cancelled (cancel before start) so every submission still
// resolves to an observable terminal state, and ErrSlotBusy is returned.
func (r *Runner) Submit(kind string, body Body) (Record, error) {
	rec := r.store.Create(kind)

	adm, err := r.slot.TryAcquire(rec.ID, r.acquireWait)
	if err != nil {
		snapshot := r.finish(rec.ID, func(rec *Record) {
			rec.Status = StatusCancelled
			rec.Message = "another task is already running"
		})
		r.logger.Warn("submission rejected, slot busy", "task_id", rec.ID, "kind", kind)
		return snapshot, ErrSlotBusy
	}

	running, uerr := r.store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusRunning
		rec.Message = "task started"
	})
	if uerr != nil {
		adm.Release()
		if errors.Is(uerr, ErrTerminalTask) {
			// Cancelled between creation and start; nothing to run.
			return running, nil
		}
		r.logger.Error("failed to mark task running", "task_id", rec.ID, "error", uerr)
		return rec, uerr
	}

	r.logger.Info("task started", "task_id", rec.ID, "kind", kind)
	go r.run(adm, running.ID, running.Kind, body)
	return running, nil
}

// Stop requests cooperative cancellation of the task. The returned snapshot
// may still read Running: callers poll or subscribe to observe the eventual
// Cancelled transition, the engine never cancels synchronously.
func (r *Runner) Stop(id string) (Record, error) {
	rec, err := r.store.Get(id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	// Cancel-before-start races with Submit promoting the record to
	// Running; the decision has to happen inside one store mutation. When
	// the record turned Running in the meantime we fall through to the
	// cooperative path below.
	snapshot, cancelled, uerr := r.store.UpdateIf(id,
		func(rec Record) bool { return rec.Status == StatusPending },
		func(rec *Record) {
			rec.Status = StatusCancelled
			rec.Message = "cancelled before start"
			rec.CompletedAt = time.Now().UTC()
		})
	if errors.Is(uerr, ErrTerminalTask) {
		return snapshot, nil
	}
	if uerr != nil {
		return Record{}, uerr
	}
	if cancelled {
		if r.onTerminal != nil {
			r.onTerminal(snapshot)
		}
		return snapshot, nil
	}

	if r.slot.RequestCancel(id) {
		if snapshot, uerr := r.store.Update(id, func(rec *Record) {
			rec.Message = "cancellation requested, waiting for the job to stop"
		}); uerr == nil {
			return snapshot, nil
		}
	}
	return r.store.Get(id)
}

// run executes body on the worker goroutine. All failures are caught at this
// boundary so one job's fault can never corrupt the store, and the slot is
// released exactly once on every exit path.
func (r *Runner) run(adm *Admission, id string, kind string, body Body) {
	defer adm.Release()
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("job body panicked", "task_id", id, "kind", kind, "panic", recovered)
			r.finish(id, func(rec *Record) {
				rec.Status = StatusFailed
				rec.Error = fmt.Sprintf("panic: %v", recovered)
				rec.Message = "task failed"
			})
		}
	}()

	report := func(progress float64, message string) {
		progress = min(max(progress, 0), 1)
		if _, err := r.store.Update(id, func(rec *Record) {
			rec.Progress = progress
			if message != "" {
				rec.Message = message
			}
		}); err != nil {
			r.logger.Error("progress update rejected", "task_id", id, "error", err)
		}
	}

	result, err := body(adm.Context(), report)
	switch {
	case err == nil:
		r.finish(id, func(rec *Record) {
			rec.Status = StatusCompleted
			rec.Progress = 1
			rec.Message = "task completed"
			rec.Result = result
		})
		r.logger.Info("task completed", "task_id", id, "kind", kind)
	case errors.Is(err, context.Canceled):
		r.finish(id, func(rec *Record) {
			rec.Status = StatusCancelled
			rec.Message = "task cancelled"
		})
		r.logger.Info("task cancelled", "task_id", id, "kind", kind)
	default:
		r.finish(id, func(rec *Record) {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			rec.Message = "task failed: " + err.Error()
		})
		r.logger.Error("task failed", "task_id", id, "kind", kind, "error", err)
	}
}

// finish applies a terminal mutation. A failed terminal transition is an
// internal invariant violation and is surfaced loudly, never swallowed.
func (r *Runner) finish(id string, mutate func(*Record)) Record {
	snapshot, err := r.store.Update(id, func(rec *Record) {
		mutate(rec)
		rec.CompletedAt = time.Now().UTC()
	})
	if err != nil {
		r.logger.Error("terminal transition rejected", "task_id", id, "error", err)
		return snapshot
	}
	if r.onTerminal != nil && snapshot.Status.Terminal() {
		r.onTerminal(snapshot)
	}
	return snapshot
}
