package eventstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingDispatcher captures dispatched commits and optionally fails.
type recordingDispatcher struct {
	mu       sync.Mutex
	commits  []*Commit
	failWith error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, commit *Commit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.commits = append(d.commits, commit)
	return nil
}

func (d *recordingDispatcher) dispatched() []*Commit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Commit(nil), d.commits...)
}

func TestSyncScheduler_CatchesUpAtConstruction(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	c1 := mustCommit(t, "s1", 1, 1, EventMessage{Body: "a"})
	c2 := mustCommit(t, "s2", 1, 1, EventMessage{Body: "b"})
	c1.Checkpoint, c2.Checkpoint = 1, 2
	fake.undispatched = []*Commit{c1, c2}

	dispatcher := &recordingDispatcher{}
	_, err := NewSyncDispatchScheduler(ctx, fake, dispatcher)
	if err != nil {
		t.Fatalf("NewSyncDispatchScheduler failed: %v", err)
	}

	// Initialize ran, both commits were delivered in checkpoint order and
	// marked afterwards.
	if fake.initialized != 1 {
		t.Errorf("Initialize ran %d times, want 1", fake.initialized)
	}
	got := dispatcher.dispatched()
	if len(got) != 2 || got[0].Checkpoint != 1 || got[1].Checkpoint != 2 {
		t.Errorf("catch-up dispatched %+v, want checkpoints [1 2]", got)
	}
	marked := fake.markedCheckpoints()
	if len(marked) != 2 || marked[0] != 1 || marked[1] != 2 {
		t.Errorf("marked %v, want [1 2]", marked)
	}
}

func TestSyncScheduler_DispatchThenMark(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	dispatcher := &recordingDispatcher{}
	scheduler, err := NewSyncDispatchScheduler(ctx, fake, dispatcher)
	if err != nil {
		t.Fatalf("NewSyncDispatchScheduler failed: %v", err)
	}

	commit := mustCommit(t, "s1", 1, 1, EventMessage{Body: "a"})
	commit.Checkpoint = 7
	if err := scheduler.ScheduleDispatch(ctx, commit); err != nil {
		t.Fatalf("ScheduleDispatch failed: %v", err)
	}
	if len(dispatcher.dispatched()) != 1 {
		t.Error("commit not dispatched")
	}
	if marked := fake.markedCheckpoints(); len(marked) != 1 || marked[0] != 7 {
		t.Errorf("marked %v, want [7]", marked)
	}
}

func TestSyncScheduler_FailureLeavesUnmarked(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	boom := errors.New("downstream broken")
	dispatcher := &recordingDispatcher{failWith: boom}
	scheduler, err := NewSyncDispatchScheduler(ctx, fake, dispatcher)
	if err != nil {
		t.Fatalf("NewSyncDispatchScheduler failed: %v", err)
	}

	commit := mustCommit(t, "s1", 1, 1, EventMessage{Body: "a"})
	if err := scheduler.ScheduleDispatch(ctx, commit); !errors.Is(err, boom) {
		t.Fatalf("expected the dispatch failure, got %v", err)
	}
	if len(fake.markedCheckpoints()) != 0 {
		t.Error("failed dispatch marked the commit anyway")
	}
}

func TestSyncScheduler_ConstructionFailsWhenCatchUpFails(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	fake.undispatched = []*Commit{mustCommit(t, "s1", 1, 1, EventMessage{Body: "a"})}
	boom := errors.New("downstream broken")

	_, err := NewSyncDispatchScheduler(ctx, fake, &recordingDispatcher{failWith: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected catch-up failure, got %v", err)
	}
}

func TestAsyncScheduler_DeliversInOrderAndDrains(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	dispatcher := &recordingDispatcher{}
	scheduler, err := NewAsyncDispatchScheduler(ctx, fake, dispatcher, nil)
	if err != nil {
		t.Fatalf("NewAsyncDispatchScheduler failed: %v", err)
	}

	const n = 20
	for i := 1; i <= n; i++ {
		commit := mustCommit(t, "s1", i, i, EventMessage{Body: "e"})
		commit.Checkpoint = int64(i)
		if err := scheduler.ScheduleDispatch(ctx, commit); err != nil {
			t.Fatalf("ScheduleDispatch %d failed: %v", i, err)
		}
	}

	// Stop drains everything still queued.
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	got := dispatcher.dispatched()
	if len(got) != n {
		t.Fatalf("dispatched %d commits, want %d", len(got), n)
	}
	for i, commit := range got {
		if commit.Checkpoint != int64(i+1) {
			t.Fatalf("dispatch order broken at %d: checkpoint %d", i, commit.Checkpoint)
		}
	}
	if len(fake.markedCheckpoints()) != n {
		t.Errorf("marked %d commits, want %d", len(fake.markedCheckpoints()), n)
	}

	// After Stop the queue refuses new work.
	if err := scheduler.ScheduleDispatch(ctx, mustCommit(t, "s1", n+1, n+1, EventMessage{Body: "late"})); err == nil {
		t.Error("ScheduleDispatch after Stop must fail")
	}
}

func TestAsyncScheduler_FailedDispatchIsLoggedNotMarked(t *testing.T) {
	ctx := context.Background()
	fake := newFakePersistence()
	boom := errors.New("downstream broken")
	dispatcher := &recordingDispatcher{failWith: boom}

	var mu sync.Mutex
	var logged int
	logger := func(string, ...any) {
		mu.Lock()
		logged++
		mu.Unlock()
	}

	scheduler, err := NewAsyncDispatchScheduler(ctx, fake, dispatcher, logger)
	if err != nil {
		t.Fatalf("NewAsyncDispatchScheduler failed: %v", err)
	}
	if err := scheduler.ScheduleDispatch(ctx, mustCommit(t, "s1", 1, 1, EventMessage{Body: "a"})); err != nil {
		t.Fatalf("ScheduleDispatch failed: %v", err)
	}
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logged != 1 {
		t.Errorf("failure logged %d times, want 1", logged)
	}
	if len(fake.markedCheckpoints()) != 0 {
		t.Error("failed dispatch marked the commit")
	}
}
