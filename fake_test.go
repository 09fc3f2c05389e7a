package eventstore

import (
	"context"
	"sync"
	"time"
)

// fakePersistence is a scriptable Persistence for exercising the stream,
// façade, schedulers and observer without a real backend.
type fakePersistence struct {
	mu sync.Mutex

	// commits holds the persisted history per stream, in sequence order.
	commits map[string][]*Commit

	// commitErrs is popped once per Commit call; a nil entry means the
	// call succeeds against the default append path.
	commitErrs []error

	// attempts records every attempt Commit received.
	attempts []*Commit

	undispatched []*Commit
	marked       []int64
	snapshots    map[string][]*Snapshot
	heads        []*StreamHead

	checkpoint   int64
	getFromCalls int
	cursorClosed bool
	initialized  int
	closed       bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		commits:   make(map[string][]*Commit),
		snapshots: make(map[string][]*Snapshot),
	}
}

// seed appends a commit to a stream's history without going through Commit.
func (f *fakePersistence) seed(commit *Commit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoint++
	commit.Checkpoint = f.checkpoint
	f.commits[commit.StreamID] = append(f.commits[commit.StreamID], commit)
}

func (f *fakePersistence) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized++
	return nil
}

// trackingCursor records Close so tests can pin single-pass consumption.
type trackingCursor struct {
	Cursor
	owner *fakePersistence
}

func (c *trackingCursor) Close() error {
	c.owner.mu.Lock()
	c.owner.cursorClosed = true
	c.owner.mu.Unlock()
	return c.Cursor.Close()
}

func (f *fakePersistence) GetFrom(_ context.Context, streamID string, minRevision, maxRevision int) (Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFromCalls++
	var out []*Commit
	for _, c := range f.commits[streamID] {
		if c.StreamRevision >= minRevision && c.FirstRevision() <= maxRevision {
			out = append(out, c)
		}
	}
	return &trackingCursor{Cursor: NewSliceCursor(out), owner: f}, nil
}

func (f *fakePersistence) GetFromInstant(_ context.Context, instant time.Time) (Cursor, error) {
	return NewSliceCursor(f.all(func(c *Commit) bool { return !c.CommitStamp.Before(instant) })), nil
}

func (f *fakePersistence) GetFromTo(_ context.Context, start, end time.Time) (Cursor, error) {
	return NewSliceCursor(f.all(func(c *Commit) bool {
		return !c.CommitStamp.Before(start) && c.CommitStamp.Before(end)
	})), nil
}

func (f *fakePersistence) GetFromCheckpoint(_ context.Context, checkpoint int64) (Cursor, error) {
	return NewSliceCursor(f.all(func(c *Commit) bool { return c.Checkpoint > checkpoint })), nil
}

// all returns every commit matching keep, in checkpoint order.
func (f *fakePersistence) all(keep func(*Commit) bool) []*Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Commit
	for _, stream := range f.commits {
		for _, c := range stream {
			if keep(c) {
				out = append(out, c)
			}
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Checkpoint < out[i].Checkpoint {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (f *fakePersistence) Commit(_ context.Context, attempt *Commit) (*Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	if len(f.commitErrs) > 0 {
		err := f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.checkpoint++
	persisted := *attempt
	persisted.Checkpoint = f.checkpoint
	f.commits[attempt.StreamID] = append(f.commits[attempt.StreamID], &persisted)
	return &persisted, nil
}

func (f *fakePersistence) GetUndispatchedCommits(context.Context) (Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return NewSliceCursor(f.undispatched), nil
}

func (f *fakePersistence) MarkCommitAsDispatched(_ context.Context, commit *Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, commit.Checkpoint)
	return nil
}

func (f *fakePersistence) GetStreamsToSnapshot(_ context.Context, threshold int) ([]*StreamHead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*StreamHead
	for _, h := range f.heads {
		if h.UnsnapshottedEvents() >= threshold {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakePersistence) GetSnapshot(_ context.Context, streamID string, maxRevision int) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *Snapshot
	for _, s := range f.snapshots[streamID] {
		if s.StreamRevision <= maxRevision && (best == nil || s.StreamRevision > best.StreamRevision) {
			best = s
		}
	}
	return best, nil
}

func (f *fakePersistence) AddSnapshot(_ context.Context, snapshot *Snapshot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots[snapshot.StreamID] {
		if s.StreamRevision == snapshot.StreamRevision {
			return false, nil
		}
	}
	f.snapshots[snapshot.StreamID] = append(f.snapshots[snapshot.StreamID], snapshot)
	return true, nil
}

func (f *fakePersistence) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// markedCheckpoints snapshots the marked list.
func (f *fakePersistence) markedCheckpoints() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.marked...)
}

// attemptCount reports how many attempts reached Commit.
func (f *fakePersistence) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}
