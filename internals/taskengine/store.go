package taskengine

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownTask is returned for task ids the store has never seen.
	ErrUnknownTask = errors.New("unknown task")

	// ErrTerminalTask is returned when a mutation is attempted on a record
	// that already reached a terminal state. Correct callers never hit
	// this; it is reported rather than silently ignored.
	ErrTerminalTask = errors.New("task is terminal and immutable")
)

// Store holds the authoritative copy of every known TaskRecord and hands out
// value snapshots. A single mutex is enough: mutations are O(1) and the lock
// is held briefly.
type Store struct {
	mu       sync.Mutex
	records  map[string]*Record
	byKind   map[string]string // kind -> most recently created task id
	onChange []func(Record)
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		byKind:  make(map[string]string),
	}
}

// OnChange registers a hook fired after every record creation or mutation,
// while the store lock is held, in version order. Hooks must be non-blocking
// and must not call back into the store.
func (s *Store) OnChange(fn func(Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Create allocates a fresh Pending record of the given kind at version 1.
func (s *Store) Create(kind string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		Message:   "task created",
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}
	s.records[rec.ID] = rec
	s.byKind[kind] = rec.ID

	snapshot := *rec
	s.notifyLocked(snapshot)
	return snapshot
}

// Update applies mutate to the record, bumps its version and returns the new
// snapshot. Terminal records are immutable: the attempt fails with
// ErrTerminalTask and the unchanged snapshot is returned for context.
func (s *Store) Update(id string, mutate func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrUnknownTask
	}
	if rec.Status.Terminal() {
		return *rec, ErrTerminalTask
	}

	mutate(rec)
	rec.Version++

	snapshot := *rec
	s.notifyLocked(snapshot)
	return snapshot, nil
}

// UpdateIf applies mutate only when cond holds for the current record,
// decided under the store lock. Reports whether the mutation was applied;
// when cond fails the current snapshot is returned with no version bump and
// no notification.
func (s *Store) UpdateIf(id string, cond func(Record) bool, mutate func(*Record)) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false, ErrUnknownTask
	}
	if rec.Status.Terminal() {
		return *rec, false, ErrTerminalTask
	}
	if !cond(*rec) {
		return *rec, false, nil
	}

	mutate(rec)
	rec.Version++

	snapshot := *rec
	s.notifyLocked(snapshot)
	return snapshot, true, nil
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrUnknownTask
	}
	return *rec, nil
}

// Latest returns the most recently created record of the given kind, used to
// resume observing a still-running job across a client reconnect.
func (s *Store) Latest(kind string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKind[kind]
	if !ok {
		return Record{}, ErrUnknownTask
	}
	return *s.records[id], nil
}

// LatestCompleted returns the most recently completed record of any kind.
func (s *Store) LatestCompleted() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Record
	for _, rec := range s.records {
		if rec.Status != StatusCompleted {
			continue
		}
		if best == nil || rec.CompletedAt.After(best.CompletedAt) {
			best = rec
		}
	}
	if best == nil {
		return Record{}, ErrUnknownTask
	}
	return *best, nil
}

// List returns snapshots of all known records, oldest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) notifyLocked(snapshot Record) {
	for _, fn := range s.onChange {
		fn(snapshot)
	}
}
