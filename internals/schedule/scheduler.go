package schedule

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/etrobot/gpt-trader/internals/taskengine"
)

// ErrUnknownJob is returned for job kinds the scheduler was never given.
var ErrUnknownJob = errors.New("unknown scheduled job")

// State describes where a recurring job sits in its trigger cycle.
type State string

const (
	StateIdle         State = "idle"
	StateTriggered    State = "triggered"
	StateAwaitingSlot State = "awaiting_slot"
	StateDispatched   State = "dispatched"
)

// Submitter is the slice of the job runner the scheduler needs.
type Submitter interface {
	Submit(kind string, body taskengine.Body) (taskengine.Record, error)
	Stop(id string) (taskengine.Record, error)
}

// RecordReader resolves task ids to their latest snapshots.
type RecordReader interface {
	Get(id string) (taskengine.Record, error)
}

// Job is one recurring job: a catalog kind, a cron cadence and the body to
// run on each trigger.
type Job struct {
	Kind string
	Spec string
	Body taskengine.Body
}

// JobStatus is the externally visible snapshot of one recurring job.
type JobStatus struct {
	Kind    string    `json:"kind"`
	State   State     `json:"state"`
	LastRun time.Time `json:"last_run,omitzero"`
	NextRun time.Time `json:"next_run,omitzero"`
	TaskID  string    `json:"task_id,omitempty"`
}

// Status is the whole scheduler snapshot.
type Status struct {
	Enabled bool        `json:"enabled"`
	Jobs    []JobStatus `json:"jobs"`
}

type entry struct {
	job     Job
	cronID  cron.EntryID
	state   State
	lastRun time.Time
	taskID  string
}

// Scheduler triggers a fixed set of recurring jobs on their own cadences,
// feeding the single-flight runner. A trigger that finds the slot busy is
// skipped and logged; the next cadence re-attempts.
type Scheduler struct {
	runner  Submitter
	records RecordReader
	logger  *slog.Logger
	cron    *cron.Cron
	onSkip  func(kind string)

	mu      sync.Mutex
	enabled bool
	entries map[string]*entry
	order   []string
}

func New(runner Submitter, records RecordReader, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		records: records,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		enabled: true,
		entries: make(map[string]*entry),
	}
}

// OnSkip registers a hook fired when a trigger is skipped because the slot
// is busy. Used for metrics. Must be called before Start.
func (s *Scheduler) OnSkip(fn func(kind string)) {
	s.onSkip = fn
}

// Register adds a recurring job. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := job.Kind
	cronID, err := s.cron.AddFunc(job.Spec, func() { s.trigger(kind) })
	if err != nil {
		return err
	}
	s.entries[kind] = &entry{job: job, cronID: cronID, state: StateIdle}
	s.order = append(s.order, kind)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// Stop halts the cadence timers. Running jobs are unaffected.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Enable flips the global switch. While disabled, cadences keep firing and
// next_run keeps advancing, but no submission is made.
func (s *Scheduler) Enable(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.logger.Info("scheduler enabled flag changed", "enabled", enabled)
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// RunNow forces an out-of-cadence trigger for kind. The busy-skip rule still
// applies: the caller sees ErrSlotBusy instead of queueing.
func (s *Scheduler) RunNow(kind string) (taskengine.Record, error) {
	s.mu.Lock()
	ent, ok := s.entries[kind]
	if !ok {
		s.mu.Unlock()
		return taskengine.Record{}, ErrUnknownJob
	}
	job := ent.job
	ent.state = StateTriggered
	s.mu.Unlock()

	return s.dispatch(job)
}

// StopCurrent requests cooperative cancellation of the task currently
// dispatched by the scheduler, if any. Reports whether a stop was issued.
func (s *Scheduler) StopCurrent() (taskengine.Record, bool) {
	s.mu.Lock()
	var target string
	for _, kind := range s.order {
		ent := s.entries[kind]
		if ent.taskID == "" {
			continue
		}
		if rec, err := s.records.Get(ent.taskID); err == nil && !rec.Status.Terminal() {
			target = ent.taskID
			break
		}
	}
	s.mu.Unlock()

	if target == "" {
		return taskengine.Record{}, false
	}
	rec, err := s.runner.Stop(target)
	if err != nil {
		s.logger.Error("failed to stop scheduled task", "task_id", target, "error", err)
		return taskengine.Record{}, false
	}
	return rec, true
}

// Status returns a snapshot of every recurring job. Dispatched entries whose
// task has since reached a terminal state read Idle again.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Status{Enabled: s.enabled, Jobs: make([]JobStatus, 0, len(s.order))}
	for _, kind := range s.order {
		ent := s.entries[kind]
		state := ent.state
		taskID := ent.taskID
		if state == StateDispatched {
			if rec, err := s.records.Get(ent.taskID); err != nil || rec.Status.Terminal() {
				state = StateIdle
				ent.state = StateIdle
			}
		}
		out.Jobs = append(out.Jobs, JobStatus{
			Kind:    kind,
			State:   state,
			LastRun: ent.lastRun,
			NextRun: s.cron.Entry(ent.cronID).Next,
			TaskID:  taskID,
		})
	}
	return out
}

// trigger runs on the cron goroutine when a cadence elapses.
func (s *Scheduler) trigger(kind string) {
	s.mu.Lock()
	ent, ok := s.entries[kind]
	if !ok {
		s.mu.Unlock()
		return
	}
	ent.lastRun = time.Now().UTC()
	if !s.enabled {
		s.mu.Unlock()
		s.logger.Info("scheduler disabled, trigger skipped", "kind", kind)
		return
	}
	job := ent.job
	ent.state = StateTriggered
	s.mu.Unlock()

	if _, err := s.dispatch(job); err != nil && !errors.Is(err, taskengine.ErrSlotBusy) {
		s.logger.Error("scheduled submission failed", "kind", kind, "error", err)
	}
}

func (s *Scheduler) dispatch(job Job) (taskengine.Record, error) {
	s.setState(job.Kind, StateAwaitingSlot)

	rec, err := s.runner.Submit(job.Kind, job.Body)
	if err != nil {
		s.setState(job.Kind, StateIdle)
		if errors.Is(err, taskengine.ErrSlotBusy) {
			s.logger.Warn("trigger skipped, another task is running", "kind", job.Kind)
			if s.onSkip != nil {
				s.onSkip(job.Kind)
			}
		}
		return rec, err
	}

	s.mu.Lock()
	if ent, ok := s.entries[job.Kind]; ok {
		ent.state = StateDispatched
		ent.taskID = rec.ID
	}
	s.mu.Unlock()
	s.logger.Info("scheduled task dispatched", "kind", job.Kind, "task_id", rec.ID)
	return rec, nil
}

func (s *Scheduler) setState(kind string, state State) {
	s.mu.Lock()
	if ent, ok := s.entries[kind]; ok {
		ent.state = state
	}
	s.mu.Unlock()
}
