package taskengine

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Record is the unit of observable task state. The store hands out value
// copies; Result is shared between copies and must be treated as read-only.
//
// Version increments on construction and on every subsequent mutation, so an
// observer that has seen version V never needs to re-inspect a record
// reporting a version <= V.
type Record struct {
	ID          string
	Kind        string
	Status      Status
	Progress    float64
	Message     string
	CreatedAt   time.Time
	CompletedAt time.Time // zero until a terminal state is reached
	Result      any
	Error       string
	Version     uint64
}
