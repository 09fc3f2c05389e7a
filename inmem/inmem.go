// Package inmem provides an in-memory implementation of the persistence
// contract.
//
// It stores commits, snapshots and stream heads in maps and slices guarded
// by a mutex. Designed for:
//   - Testing and development with zero setup
//   - Single-process applications with no durability requirement
//   - Prototyping before migrating to a database-backed adapter
//
// Data is lost when the process terminates. For durable storage use
// sqlstore or another conforming adapter.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	eventstore "github.com/neventstore/eventstore-go"
)

// Engine is an in-memory eventstore.Persistence. Safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	// commits holds every commit in checkpoint (insertion) order.
	commits  []*eventstore.Commit
	byStream map[string][]*eventstore.Commit

	undispatched map[int64]struct{}
	snapshots    map[string][]*eventstore.Snapshot
	heads        map[string]*eventstore.StreamHead

	checkpoint int64
	closed     bool
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{
		byStream:     make(map[string][]*eventstore.Commit),
		undispatched: make(map[int64]struct{}),
		snapshots:    make(map[string][]*eventstore.Snapshot),
		heads:        make(map[string]*eventstore.StreamHead),
	}
}

// Initialize is a no-op; the maps are ready from construction.
func (e *Engine) Initialize(context.Context) error {
	return e.guard()
}

func (e *Engine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return eventstore.ErrStreamClosed
	}
	return nil
}

// GetFrom returns the stream's commits whose event range intersects
// [minRevision, maxRevision], in commit-sequence order.
func (e *Engine) GetFrom(_ context.Context, streamID string, minRevision, maxRevision int) (eventstore.Cursor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*eventstore.Commit
	for _, c := range e.byStream[streamID] {
		if c.StreamRevision >= minRevision && c.FirstRevision() <= maxRevision {
			out = append(out, c)
		}
	}
	return eventstore.NewSliceCursor(out), nil
}

// GetFromInstant returns all commits stamped at or after instant, ordered
// by stamp then checkpoint.
func (e *Engine) GetFromInstant(_ context.Context, instant time.Time) (eventstore.Cursor, error) {
	return e.byStamp(instant, time.Time{})
}

// GetFromTo returns all commits stamped in [start, end), ordered by stamp
// then checkpoint.
func (e *Engine) GetFromTo(_ context.Context, start, end time.Time) (eventstore.Cursor, error) {
	return e.byStamp(start, end)
}

func (e *Engine) byStamp(start, end time.Time) (eventstore.Cursor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*eventstore.Commit
	for _, c := range e.commits {
		if c.CommitStamp.Before(start) {
			continue
		}
		if !end.IsZero() && !c.CommitStamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CommitStamp.Equal(out[j].CommitStamp) {
			return out[i].Checkpoint < out[j].Checkpoint
		}
		return out[i].CommitStamp.Before(out[j].CommitStamp)
	})
	return eventstore.NewSliceCursor(out), nil
}

// GetFromCheckpoint returns all commits with checkpoints strictly above the
// given one, in checkpoint order.
func (e *Engine) GetFromCheckpoint(_ context.Context, checkpoint int64) (eventstore.Cursor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*eventstore.Commit
	for _, c := range e.commits {
		if c.Checkpoint > checkpoint {
			out = append(out, c)
		}
	}
	return eventstore.NewSliceCursor(out), nil
}

// Commit appends the attempt, allocating the next checkpoint.
func (e *Engine) Commit(_ context.Context, attempt *eventstore.Commit) (*eventstore.Commit, error) {
	if err := attempt.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, eventstore.ErrStreamClosed
	}

	existing := e.byStream[attempt.StreamID]
	for _, c := range existing {
		if c.CommitID == attempt.CommitID {
			return nil, fmt.Errorf("%w: %s on stream %q", eventstore.ErrDuplicateCommit, attempt.CommitID, attempt.StreamID)
		}
	}
	if n := len(existing); n > 0 {
		head := existing[n-1]
		if attempt.CommitSequence <= head.CommitSequence || attempt.FirstRevision() <= head.StreamRevision {
			return nil, &eventstore.ConcurrencyError{
				StreamID: attempt.StreamID,
				Commits:  newerThan(existing, attempt.CommitSequence),
			}
		}
	}

	e.checkpoint++
	persisted := *attempt
	persisted.Checkpoint = e.checkpoint

	e.commits = append(e.commits, &persisted)
	e.byStream[attempt.StreamID] = append(existing, &persisted)
	e.undispatched[persisted.Checkpoint] = struct{}{}

	head := e.heads[attempt.StreamID]
	if head == nil {
		head = &eventstore.StreamHead{StreamID: attempt.StreamID}
		e.heads[attempt.StreamID] = head
	}
	head.HeadRevision = persisted.StreamRevision

	return &persisted, nil
}

// newerThan returns the commits at or past sequence, for the conflict
// payload.
func newerThan(commits []*eventstore.Commit, sequence int) []*eventstore.Commit {
	var out []*eventstore.Commit
	for _, c := range commits {
		if c.CommitSequence >= sequence {
			out = append(out, c)
		}
	}
	return out
}

// GetUndispatchedCommits returns every commit not yet marked dispatched, in
// checkpoint order.
func (e *Engine) GetUndispatchedCommits(context.Context) (eventstore.Cursor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*eventstore.Commit
	for _, c := range e.commits {
		if _, pending := e.undispatched[c.Checkpoint]; pending {
			out = append(out, c)
		}
	}
	return eventstore.NewSliceCursor(out), nil
}

// MarkCommitAsDispatched flips the dispatched flag. Idempotent.
func (e *Engine) MarkCommitAsDispatched(_ context.Context, commit *eventstore.Commit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return eventstore.ErrStreamClosed
	}
	delete(e.undispatched, commit.Checkpoint)
	return nil
}

// GetStreamsToSnapshot returns heads that accumulated at least threshold
// events past their newest snapshot.
func (e *Engine) GetStreamsToSnapshot(_ context.Context, threshold int) ([]*eventstore.StreamHead, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*eventstore.StreamHead
	for _, head := range e.heads {
		if head.UnsnapshottedEvents() >= threshold {
			copied := *head
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// GetSnapshot returns the newest snapshot at or below maxRevision, or nil.
func (e *Engine) GetSnapshot(_ context.Context, streamID string, maxRevision int) (*eventstore.Snapshot, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var best *eventstore.Snapshot
	for _, snap := range e.snapshots[streamID] {
		if snap.StreamRevision <= maxRevision && (best == nil || snap.StreamRevision > best.StreamRevision) {
			best = snap
		}
	}
	return best, nil
}

// AddSnapshot stores the snapshot unless one already exists at the same
// position.
func (e *Engine) AddSnapshot(_ context.Context, snapshot *eventstore.Snapshot) (bool, error) {
	if snapshot == nil {
		return false, fmt.Errorf("%w: snapshot is nil", eventstore.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, eventstore.ErrStreamClosed
	}
	for _, existing := range e.snapshots[snapshot.StreamID] {
		if existing.StreamRevision == snapshot.StreamRevision {
			return false, nil
		}
	}
	copied := *snapshot
	e.snapshots[snapshot.StreamID] = append(e.snapshots[snapshot.StreamID], &copied)

	head := e.heads[snapshot.StreamID]
	if head == nil {
		head = &eventstore.StreamHead{StreamID: snapshot.StreamID, HeadRevision: snapshot.StreamRevision}
		e.heads[snapshot.StreamID] = head
	}
	if snapshot.StreamRevision > head.SnapshotRevision {
		head.SnapshotRevision = snapshot.StreamRevision
	}
	return true, nil
}

// Purge drops every commit, snapshot and head. Administrative tooling only;
// the core never calls it.
func (e *Engine) Purge(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return eventstore.ErrStreamClosed
	}
	e.commits = nil
	e.byStream = make(map[string][]*eventstore.Commit)
	e.undispatched = make(map[int64]struct{})
	e.snapshots = make(map[string][]*eventstore.Snapshot)
	e.heads = make(map[string]*eventstore.StreamHead)
	return nil
}

// Close marks the engine closed. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
