package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger receives printf-style diagnostics for conditions the store is
// contractually required to swallow (post-commit hook failures, subscriber
// failures, dispatch retry notices). The default logger discards them.
type Logger func(format string, args ...any)

func nopLogger(string, ...any) {}

// Store is the event-store façade: it creates and opens streams, owns the
// hook chain composition around the persistence engine, and schedules
// dispatch of durably persisted commits.
//
// A Store is cheap enough to build once per process and hand around; it is
// safe for concurrent use as long as the underlying Persistence is, but the
// Stream objects it returns are single-owner.
type Store struct {
	persistence Persistence
	advanced    Persistence
	hooks       pipelineHooks
	scheduler   DispatchScheduler
	logger      Logger

	closeOnce sync.Once
	closeErr  error
}

// New composes a Store around a persistence engine.
//
//	engine := inmem.NewEngine()
//	store, err := eventstore.New(engine,
//	    eventstore.WithHooks(metricsHook, auditHook),
//	)
func New(p Persistence, opts ...Option) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: persistence is nil", ErrInvalidArgument)
	}
	cfg := config{logger: nopLogger}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	s := &Store{
		persistence: p,
		hooks:       pipelineHooks{hooks: cfg.hooks, logger: cfg.logger},
		scheduler:   cfg.scheduler,
		logger:      cfg.logger,
	}
	s.advanced = newHookedPersistence(p, s.hooks)
	return s, nil
}

// CreateStream returns a fresh stream for streamID. Nothing is read or
// written until events are staged and committed.
func (s *Store) CreateStream(streamID string) (*Stream, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	}
	return newStream(s, streamID), nil
}

// OpenStream loads the stream's history between minRevision and
// maxRevision. With minRevision above zero an empty result fails with
// ErrStreamNotFound; with minRevision zero an empty result is a fresh
// stream.
func (s *Store) OpenStream(ctx context.Context, streamID string, minRevision, maxRevision int) (*Stream, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	}
	return openStream(ctx, s, streamID, minRevision, maxRevision)
}

// OpenStreamFromSnapshot resumes a stream from a snapshot, replaying only
// the events after the snapshot's revision up to maxRevision.
func (s *Store) OpenStreamFromSnapshot(ctx context.Context, snapshot *Snapshot, maxRevision int) (*Stream, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot is nil", ErrInvalidArgument)
	}
	return openStreamFromSnapshot(ctx, s, snapshot, maxRevision)
}

// Commit is the low-level write path used by Stream.CommitChanges and by
// callers that build attempts themselves.
//
// The attempt is validated, run through the PreCommit chain (a veto drops
// it silently and reports success), persisted, and on durability the
// PostCommit chain and the dispatch scheduler observe the result. When
// persistence reports a concurrency conflict whose newer commits include
// the attempt's own id, the failure upgrades to ErrDuplicateCommit.
func (s *Store) Commit(ctx context.Context, attempt *Commit) (*Commit, error) {
	if err := attempt.Validate(); err != nil {
		return nil, err
	}
	if !s.hooks.preCommit(attempt) {
		return attempt, nil
	}

	committed, err := s.persistence.Commit(ctx, attempt)
	if err != nil {
		if conflict, ok := asConcurrency(err); ok {
			for _, other := range conflict.Commits {
				if other.CommitID == attempt.CommitID {
					return nil, fmt.Errorf("%w: %s already persisted for stream %q", ErrDuplicateCommit, attempt.CommitID, attempt.StreamID)
				}
			}
		}
		return nil, err
	}

	s.hooks.postCommit(committed)
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleDispatch(ctx, committed); err != nil {
			// The commit is durable but unmarked; the next scheduler
			// startup retries it from the undispatched queue.
			return committed, err
		}
	}
	return committed, nil
}

// GetFrom reads a stream's commits between minRevision and maxRevision,
// bypassing the Select hook chain. Stream-level reads always see the raw
// persisted sequence.
func (s *Store) GetFrom(ctx context.Context, streamID string, minRevision, maxRevision int) (Cursor, error) {
	return s.persistence.GetFrom(ctx, streamID, minRevision, maxRevision)
}

// Advanced exposes the hook-aware persistence surface for cross-stream
// queries: instant-ranged reads pass each commit through the Select chain.
func (s *Store) Advanced() Persistence { return s.advanced }

// Snapshot returns the most recent snapshot of a stream at or below
// maxRevision, or nil when none exists.
func (s *Store) Snapshot(ctx context.Context, streamID string, maxRevision int) (*Snapshot, error) {
	return s.persistence.GetSnapshot(ctx, streamID, maxRevision)
}

// AddSnapshot stores a snapshot, reporting whether it was newly stored.
func (s *Store) AddSnapshot(ctx context.Context, snapshot *Snapshot) (bool, error) {
	if snapshot == nil {
		return false, fmt.Errorf("%w: snapshot is nil", ErrInvalidArgument)
	}
	return s.persistence.AddSnapshot(ctx, snapshot)
}

// StreamsToSnapshot lists the heads of streams that have accumulated at
// least threshold events past their newest snapshot.
func (s *Store) StreamsToSnapshot(ctx context.Context, threshold int) ([]*StreamHead, error) {
	return s.persistence.GetStreamsToSnapshot(ctx, threshold)
}

// Close releases the underlying persistence exactly once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.persistence.Close()
	})
	return s.closeErr
}

// NewCommitAttempt is a convenience for callers using the low-level Commit
// path directly: it validates and assembles an attempt the same way a
// stream does.
func NewCommitAttempt(streamID string, streamRevision int, commitID uuid.UUID, commitSequence int, headers map[string]any, events []EventMessage) (*Commit, error) {
	return NewCommit(streamID, streamRevision, commitID, commitSequence, time.Now().UTC(), headers, events)
}
