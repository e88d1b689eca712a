package taskengine

import "sync"

// subscriptionBuffer is how many undelivered snapshots a subscriber may lag
// behind before it is dropped from the fan-out set.
const subscriptionBuffer = 16

// Notifier fans out record snapshots to any number of observers of a task id
// without them polling the store. Publishing never blocks: a subscriber that
// cannot keep up is dropped rather than back-pressuring the publisher.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish broadcasts the snapshot to all observers of its task id. Intended
// as a Store.OnChange hook, so calls arrive in version order.
func (n *Notifier) Publish(rec Record) {
	n.mu.Lock()
	set := n.subs[rec.ID]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		if sub.push(rec) {
			n.remove(sub)
		}
	}
}

// Subscribe registers an observer for the given task. snapshot is consulted
// after registration so no mutation can slip between the initial state and
// the live feed. The channel delivers the current snapshot first, then one
// snapshot per mutation, and closes once a terminal snapshot is delivered.
func (n *Notifier) Subscribe(id string, snapshot func() (Record, bool)) *Subscription {
	sub := &Subscription{
		notifier: n,
		id:       id,
		ch:       make(chan Record, subscriptionBuffer),
	}
	sub.C = sub.ch

	n.mu.Lock()
	set, ok := n.subs[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[id] = set
	}
	set[sub] = struct{}{}
	n.mu.Unlock()

	if rec, ok := snapshot(); ok {
		if sub.push(rec) {
			n.remove(sub)
		}
	}
	return sub
}

func (n *Notifier) remove(sub *Subscription) {
	n.mu.Lock()
	if set, ok := n.subs[sub.id]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(n.subs, sub.id)
		}
	}
	n.mu.Unlock()
}

// Subscription is a single-consumer stream of record snapshots.
type Subscription struct {
	// C carries snapshots in strictly increasing version order. It closes
	// after a terminal snapshot, or when the subscriber is dropped for
	// lagging too far behind.
	C <-chan Record

	notifier *Notifier
	id       string
	ch       chan Record

	mu     sync.Mutex
	last   uint64
	closed bool
}

// Close detaches the subscription. Safe to call at any time; pending
// snapshots already in the channel stay readable.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notifier.remove(s)
}

// push delivers rec if it is newer than everything already delivered.
// Returns true when the subscription should be detached from the fan-out.
func (s *Subscription) push(rec Record) (detach bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || rec.Version <= s.last {
		return false
	}

	select {
	case s.ch <- rec:
		s.last = rec.Version
		if rec.Status.Terminal() {
			s.closed = true
			close(s.ch)
			return true
		}
		return false
	default:
		// Subscriber is not keeping up; drop it instead of stalling
		// the publisher.
		s.closed = true
		close(s.ch)
		return true
	}
}
