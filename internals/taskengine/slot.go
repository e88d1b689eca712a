package taskengine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSlotBusy is returned when the execution slot could not be acquired
// within the submission's wait bound. Recoverable: the caller retries or the
// next scheduled trigger re-attempts.
var ErrSlotBusy = errors.New("execution slot busy")

// Slot is the capacity-1 admission gate enforcing the process-wide
// single-flight invariant. It also carries the cooperative-cancellation
// signal for the task currently holding it.
type Slot struct {
	ch chan struct{}

	mu     sync.Mutex
	holder string
	cancel context.CancelFunc
}

func NewSlot() *Slot {
	return &Slot{ch: make(chan struct{}, 1)}
}

// TryAcquire blocks up to wait for the slot, then reports ErrSlotBusy. The
// bounded wait protects submitters from stalling behind a long-running job.
func (s *Slot) TryAcquire(taskID string, wait time.Duration) (*Admission, error) {
	if wait <= 0 {
		select {
		case s.ch <- struct{}{}:
		default:
			return nil, ErrSlotBusy
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case s.ch <- struct{}{}:
		case <-timer.C:
			return nil, ErrSlotBusy
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.holder = taskID
	s.cancel = cancel
	s.mu.Unlock()

	return &Admission{slot: s, taskID: taskID, ctx: ctx}, nil
}

// RequestCancel cancels the admission context if and only if id names the
// task currently holding the slot. Cancellation is cooperative: the job body
// observes it at its own checkpoints.
func (s *Slot) RequestCancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != id || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Holder returns the id of the currently admitted task, or "".
func (s *Slot) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

// Admission is a successful acquisition of the slot. Context carries the
// cancellation signal for the admitted task.
type Admission struct {
	slot   *Slot
	taskID string
	ctx    context.Context
	once   sync.Once
}

func (a *Admission) Context() context.Context {
	return a.ctx
}

// Release returns the slot. Safe against double calls, but the runner calls
// it exactly once per admission, on every exit path.
func (a *Admission) Release() {
	a.once.Do(func() {
		a.slot.mu.Lock()
		if a.slot.holder == a.taskID {
			a.slot.holder = ""
			if a.slot.cancel != nil {
				a.slot.cancel()
				a.slot.cancel = nil
			}
		}
		a.slot.mu.Unlock()
		<-a.slot.ch
	})
}
