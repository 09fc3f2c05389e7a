package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stream is the per-stream mutable working copy mediating reads from and
// writes to persistence under optimistic concurrency.
//
// A stream moves through four states: fresh (no prior commits), loaded
// (history present), dirty (uncommitted events staged) and closed. It is
// NOT safe for concurrent use; each stream object is owned by one logical
// goroutine at a time. The stream exclusively owns its staged events and
// headers until CommitChanges succeeds; committed events are shared
// immutable data.
type Stream struct {
	store    *Store
	streamID string

	streamRevision int
	commitSequence int

	committed   []EventMessage
	uncommitted []EventMessage
	headers     map[string]any

	// identifiers is the set of commit ids already observed on this
	// stream, used to refuse re-submission of an attempt that is durable.
	identifiers map[uuid.UUID]struct{}

	closed bool
}

func newStream(store *Store, streamID string) *Stream {
	return &Stream{
		store:       store,
		streamID:    streamID,
		headers:     make(map[string]any),
		identifiers: make(map[uuid.UUID]struct{}),
	}
}

// openStream loads the [minRevision, maxRevision] window of a stream. When
// minRevision is above zero and persistence has nothing in range, the
// stream does not exist from the caller's point of view.
func openStream(ctx context.Context, store *Store, streamID string, minRevision, maxRevision int) (*Stream, error) {
	s := newStream(store, streamID)
	cur, err := store.persistence.GetFrom(ctx, streamID, minRevision, maxRevision)
	if err != nil {
		return nil, err
	}
	applied, err := s.populateCursor(cur, minRevision, maxRevision)
	if err != nil {
		return nil, err
	}
	if minRevision > 0 && applied == 0 {
		return nil, fmt.Errorf("%w: %q has no commits in [%d, %d]", ErrStreamNotFound, streamID, minRevision, maxRevision)
	}
	return s, nil
}

// openStreamFromSnapshot resumes a stream from a snapshot, replaying only
// the events past the snapshot revision.
func openStreamFromSnapshot(ctx context.Context, store *Store, snapshot *Snapshot, maxRevision int) (*Stream, error) {
	s := newStream(store, snapshot.StreamID)
	s.streamRevision = snapshot.StreamRevision
	cur, err := store.persistence.GetFrom(ctx, snapshot.StreamID, snapshot.StreamRevision, maxRevision)
	if err != nil {
		return nil, err
	}
	if _, err := s.populateCursor(cur, snapshot.StreamRevision+1, maxRevision); err != nil {
		return nil, err
	}
	return s, nil
}

// populateCursor merges commits from a single-pass cursor into the working
// copy, consuming the cursor exactly once. Returns the number of commits
// observed.
func (s *Stream) populateCursor(cur Cursor, minRevision, maxRevision int) (int, error) {
	defer cur.Close()
	observed := 0
	for cur.Next() {
		observed++
		if !s.populate(cur.Commit(), minRevision, maxRevision) {
			break
		}
	}
	if err := cur.Err(); err != nil {
		return observed, err
	}
	return observed, nil
}

// populate merges one commit into the working copy, honoring partial-range
// reads where a commit straddles the requested window. Returns false once
// the window's upper bound is crossed and iteration should stop.
//
// The commit id is recorded and the working sequence advanced even when
// every event of the commit falls outside the window; the head position of
// the stream is defined by what persistence holds, not by what the caller
// asked to see.
func (s *Stream) populate(commit *Commit, minRevision, maxRevision int) bool {
	s.identifiers[commit.CommitID] = struct{}{}
	s.commitSequence = commit.CommitSequence
	currentRevision := commit.FirstRevision()
	for _, event := range commit.Events {
		if currentRevision > maxRevision {
			return false
		}
		if currentRevision >= minRevision {
			s.committed = append(s.committed, event)
			s.streamRevision = currentRevision
		}
		currentRevision++
	}
	return true
}

// StreamID returns the stream's stable identifier.
func (s *Stream) StreamID() string { return s.streamID }

// StreamRevision returns the revision of the newest loaded event, or zero
// for a fresh stream.
func (s *Stream) StreamRevision() int { return s.streamRevision }

// CommitSequence returns the sequence of the newest observed commit, or
// zero for a fresh stream.
func (s *Stream) CommitSequence() int { return s.commitSequence }

// CommittedEvents returns a read-only view of the loaded events. The
// returned slice must not be mutated.
func (s *Stream) CommittedEvents() []EventMessage { return s.committed }

// UncommittedEvents returns a read-only view of the staged events. The
// returned slice must not be mutated.
func (s *Stream) UncommittedEvents() []EventMessage { return s.uncommitted }

// UncommittedHeaders returns the headers that will ride on the next commit.
// The map is live: callers add or remove entries directly.
func (s *Stream) UncommittedHeaders() map[string]any { return s.headers }

// SetHeader stages a commit-level header for the next commit.
func (s *Stream) SetHeader(key string, value any) {
	s.headers[key] = value
}

// Add stages an event for the next commit. Messages with a nil body are
// silently ignored.
func (s *Stream) Add(event EventMessage) error {
	if s.closed {
		return ErrStreamClosed
	}
	if event.Body == nil {
		return nil
	}
	s.uncommitted = append(s.uncommitted, event)
	return nil
}

// ClearChanges drops all staged events and headers.
func (s *Stream) ClearChanges() {
	s.uncommitted = nil
	s.headers = make(map[string]any)
}

// CommitChanges persists the staged events as a single commit identified by
// commitID.
//
// With nothing staged it returns nil without touching persistence. When the
// id has already been observed on this stream it fails with
// ErrDuplicateCommit before any persistence call.
//
// On a concurrency conflict the stream rebases: it reads the commits the
// winning writer persisted, advances its head and committed view, and
// returns a *ConcurrencyError carrying those commits. The staged events are
// retained, so the caller can inspect the conflict and call CommitChanges
// again with a fresh id; the retry builds a new attempt against the
// advanced head.
//
// When persistence succeeds but downstream dispatch fails, the commit is
// durable: the stream advances and clears its staged state before returning
// the dispatch error, so retrying only redelivers, never re-persists.
func (s *Stream) CommitChanges(ctx context.Context, commitID uuid.UUID) error {
	if s.closed {
		return ErrStreamClosed
	}
	if _, seen := s.identifiers[commitID]; seen {
		return fmt.Errorf("%w: %s already committed to stream %q", ErrDuplicateCommit, commitID, s.streamID)
	}
	if len(s.uncommitted) == 0 {
		return nil
	}

	attempt, err := s.buildAttempt(commitID)
	if err != nil {
		return err
	}

	committed, err := s.store.Commit(ctx, attempt)
	if committed != nil {
		// The write is durable even when an error rides along (a failed
		// dispatch, for instance). Advance the working copy regardless so
		// a retry cannot rebuild the same attempt and persist the staged
		// events twice under a fresh id.
		s.populate(committed, s.streamRevision+1, MaxRevision)
		s.ClearChanges()
	}
	if err == nil {
		return nil
	}
	if conflict, ok := asConcurrency(err); ok {
		return s.rebase(ctx, conflict)
	}
	return err
}

// buildAttempt snapshots the staged state into an immutable attempt.
func (s *Stream) buildAttempt(commitID uuid.UUID) (*Commit, error) {
	return NewCommit(
		s.streamID,
		s.streamRevision+len(s.uncommitted),
		commitID,
		s.commitSequence+1,
		time.Now().UTC(),
		s.headers,
		s.uncommitted,
	)
}

// rebase advances the working copy past the commits another writer won
// with, then re-raises the conflict so the caller decides whether to retry.
func (s *Stream) rebase(ctx context.Context, conflict *ConcurrencyError) error {
	cur, err := s.store.GetFrom(ctx, s.streamID, s.streamRevision+1, MaxRevision)
	if err != nil {
		return err
	}
	discovered, err := ReadAll(cur)
	if err != nil {
		return err
	}
	for _, commit := range discovered {
		s.populate(commit, s.streamRevision+1, MaxRevision)
	}
	if len(discovered) == 0 {
		discovered = conflict.Commits
	}
	return &ConcurrencyError{StreamID: s.streamID, Commits: discovered}
}

// Close releases the stream. Staged events are discarded. Idempotent.
func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// asConcurrency extracts a *ConcurrencyError if err is of that kind.
func asConcurrency(err error) (*ConcurrencyError, bool) {
	var conflict *ConcurrencyError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
