package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

// collector is an Observer accumulating everything it sees.
type collector struct {
	mu        sync.Mutex
	next      []int64
	errs      []error
	completed int
}

func (c *collector) OnNext(commit *Commit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = append(c.next, commit.Checkpoint)
}

func (c *collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) OnCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

func (c *collector) seen() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.next...)
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// seedCheckpoints loads the fake with commits at the given checkpoints.
func seedCheckpoints(t *testing.T, fake *fakePersistence, checkpoints ...int64) {
	t.Helper()
	fake.mu.Lock()
	defer fake.mu.Unlock()
	base := len(fake.commits["s1"])
	for i, cp := range checkpoints {
		commit := mustCommit(t, "s1", base+i+1, base+i+1, EventMessage{Body: "e"})
		commit.Checkpoint = cp
		fake.commits["s1"] = append(fake.commits["s1"], commit)
	}
}

// sloppyCheckpointReader yields every stored commit regardless of the
// requested checkpoint, imitating an eventually consistent backend that
// re-delivers rows the observer has already consumed.
type sloppyCheckpointReader struct {
	*fakePersistence
}

func (s *sloppyCheckpointReader) GetFromCheckpoint(_ context.Context, _ int64) (Cursor, error) {
	return NewSliceCursor(s.all(func(*Commit) bool { return true })), nil
}

// TestPollingObserver_SkipsConsumedCheckpoints pins the defensive skip:
// started at checkpoint 10 with persistence yielding 9, 11, 12, subscribers
// see 11 then 12 only.
func TestPollingObserver_SkipsConsumedCheckpoints(t *testing.T) {
	fake := newFakePersistence()
	seedCheckpoints(t, fake, 9, 11, 12)

	observer, err := NewPollingObserver(&sloppyCheckpointReader{fake}, 5*time.Millisecond, 10, nil)
	if err != nil {
		t.Fatalf("NewPollingObserver failed: %v", err)
	}
	defer observer.Close()

	sub := &collector{}
	if _, err := observer.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(sub.seen()) >= 2 })
	seen := sub.seen()
	if len(seen) != 2 || seen[0] != 11 || seen[1] != 12 {
		t.Errorf("subscriber saw %v, want [11 12]", seen)
	}
	if observer.Checkpoint() != 12 {
		t.Errorf("observer checkpoint = %d, want 12", observer.Checkpoint())
	}
}

func TestPollingObserver_DeliversNewCommits(t *testing.T) {
	fake := newFakePersistence()
	observer, err := NewPollingObserver(fake, 5*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewPollingObserver failed: %v", err)
	}
	defer observer.Close()

	sub := &collector{}
	if _, err := observer.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Start is idempotent.
	if err := observer.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	// Commits arriving after Start are picked up on later ticks.
	seedCheckpoints(t, fake, 1, 2)
	waitFor(t, 2*time.Second, func() bool { return len(sub.seen()) >= 2 })

	seedCheckpoints(t, fake, 3)
	waitFor(t, 2*time.Second, func() bool { return len(sub.seen()) >= 3 })

	seen := sub.seen()
	if seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", seen)
	}
}

// panicker blows up on its first commit.
type panicker struct {
	collector
}

func (p *panicker) OnNext(*Commit) { panic("subscriber bug") }

func TestPollingObserver_PanickingSubscriberIsIsolated(t *testing.T) {
	fake := newFakePersistence()
	seedCheckpoints(t, fake, 1, 2)

	observer, err := NewPollingObserver(fake, 5*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewPollingObserver failed: %v", err)
	}
	defer observer.Close()

	bad := &panicker{}
	good := &collector{}
	if _, err := observer.Subscribe(bad); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := observer.Subscribe(good); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(good.seen()) >= 2 })

	// The healthy subscriber got everything; the panicking one was
	// detached after its error.
	if seen := good.seen(); seen[0] != 1 || seen[1] != 2 {
		t.Errorf("healthy subscriber saw %v, want [1 2]", seen)
	}
	bad.mu.Lock()
	badErrs := len(bad.errs)
	bad.mu.Unlock()
	if badErrs != 1 {
		t.Errorf("panicking subscriber received %d errors, want 1", badErrs)
	}
}

func TestPollingObserver_Unsubscribe(t *testing.T) {
	fake := newFakePersistence()
	observer, err := NewPollingObserver(fake, 5*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewPollingObserver failed: %v", err)
	}
	defer observer.Close()

	sub := &collector{}
	registration, err := observer.Subscribe(sub)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	registration.Unsubscribe()
	registration.Unsubscribe() // idempotent

	if err := observer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	seedCheckpoints(t, fake, 1)
	waitFor(t, 2*time.Second, func() bool { return observer.Checkpoint() == 1 })

	if len(sub.seen()) != 0 {
		t.Errorf("unsubscribed observer still received %v", sub.seen())
	}
}

func TestPollingObserver_CloseCompletesSubscribers(t *testing.T) {
	fake := newFakePersistence()
	observer, err := NewPollingObserver(fake, time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewPollingObserver failed: %v", err)
	}

	sub := &collector{}
	if _, err := observer.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := observer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := observer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	sub.mu.Lock()
	completed := sub.completed
	sub.mu.Unlock()
	if completed != 1 {
		t.Errorf("OnCompleted fired %d times, want 1", completed)
	}

	// A closed observer refuses new work.
	if err := observer.Start(); err == nil {
		t.Error("Start after Close must fail")
	}
	if _, err := observer.Subscribe(&collector{}); err == nil {
		t.Error("Subscribe after Close must fail")
	}
}

func TestPollingObserver_Validation(t *testing.T) {
	if _, err := NewPollingObserver(nil, time.Second, 0, nil); err == nil {
		t.Error("nil persistence accepted")
	}
	if _, err := NewPollingObserver(newFakePersistence(), 0, 0, nil); err == nil {
		t.Error("zero interval accepted")
	}
}
