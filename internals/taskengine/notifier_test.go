package taskengine

import (
	"testing"
	"time"
)

func recvSnapshot(t *testing.T, sub *Subscription) Record {
	t.Helper()
	select {
	case rec, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for snapshot")
		return Record{}
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription never closed")
		}
	}
}

func TestNotifierDeliversInitialSnapshotThenUpdates(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})
	defer sub.Close()

	first := recvSnapshot(t, sub)
	if first.Version != 1 || first.Status != StatusPending {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	if _, err := store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusRunning
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	second := recvSnapshot(t, sub)
	if second.Version != 2 || second.Status != StatusRunning {
		t.Fatalf("unexpected update snapshot: %+v", second)
	}
}

func TestNotifierVersionsStrictlyIncrease(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if _, err := store.Update(rec.ID, func(rec *Record) {
			rec.Progress = float64(i) / 5
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	last := uint64(0)
	for i := 0; i < 6; i++ {
		got := recvSnapshot(t, sub)
		if got.Version <= last {
			t.Fatalf("version went backwards: %d after %d", got.Version, last)
		}
		last = got.Version
	}
}

func TestNotifierClosesAfterTerminalSnapshot(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})

	if _, err := store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusCompleted
		rec.CompletedAt = time.Now().UTC()
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	sawTerminal := false
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-sub.C:
			if !ok {
				if !sawTerminal {
					t.Fatalf("closed without delivering terminal snapshot")
				}
				return
			}
			if got.Status.Terminal() {
				sawTerminal = true
			}
		case <-deadline:
			t.Fatalf("subscription never closed after terminal state")
		}
	}
}

func TestNotifierSubscribeToAlreadyTerminalTask(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	if _, err := store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Error = "boom"
		rec.CompletedAt = time.Now().UTC()
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})

	got := recvSnapshot(t, sub)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed snapshot, got %+v", got)
	}
	waitClosed(t, sub)
}

func TestNotifierSlowSubscriberIsDropped(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})

	// Never read from sub.C; overflow the buffer.
	for i := 0; i < subscriptionBuffer+4; i++ {
		if _, err := store.Update(rec.ID, func(rec *Record) {
			rec.Progress = float64(i)
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	waitClosed(t, sub)
}

func TestNotifierCloseStopsDelivery(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	sub := notifier.Subscribe(rec.ID, func() (Record, bool) {
		snapshot, err := store.Get(rec.ID)
		return snapshot, err == nil
	})

	recvSnapshot(t, sub)
	sub.Close()

	if _, err := store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusRunning
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case rec, ok := <-sub.C:
		if ok {
			t.Fatalf("received snapshot after close: %+v", rec)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierIndependentSubscribers(t *testing.T) {
	store := NewStore()
	notifier := NewNotifier()
	store.OnChange(notifier.Publish)

	rec := store.Create("analysis")
	snapshot := func() (Record, bool) {
		got, err := store.Get(rec.ID)
		return got, err == nil
	}
	a := notifier.Subscribe(rec.ID, snapshot)
	defer a.Close()
	b := notifier.Subscribe(rec.ID, snapshot)
	defer b.Close()

	if _, err := store.Update(rec.ID, func(rec *Record) {
		rec.Status = StatusRunning
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	for _, sub := range []*Subscription{a, b} {
		first := recvSnapshot(t, sub)
		second := recvSnapshot(t, sub)
		if first.Version != 1 || second.Version != 2 {
			t.Fatalf("unexpected versions: %d, %d", first.Version, second.Version)
		}
	}
}
