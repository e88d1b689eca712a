package timeouts

import "time"

// Central timeout constants so callers and tests agree on the same bounds.
const (
	// Probe is how long health checks wait for the daemon to answer.
	Probe = 500 * time.Millisecond

	// SlotAcquire bounds how long a submission waits for the execution
	// slot before being rejected as busy.
	SlotAcquire = 3 * time.Second

	// Shutdown bounds graceful HTTP shutdown.
	Shutdown = 2 * time.Second

	// SSEHeartbeat is the idle keep-alive interval on event streams.
	SSEHeartbeat = 15 * time.Second

	// SchedulerEvents is how often the scheduler event stream re-checks
	// for state changes.
	SchedulerEvents = 2 * time.Second

	// Poll is the client-side fallback polling interval when a live
	// event stream cannot be held open.
	Poll = 2 * time.Second
)
