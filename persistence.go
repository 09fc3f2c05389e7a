package eventstore

import (
	"context"
	"math"
	"time"
)

// MaxRevision selects the end of a stream in revision-ranged reads.
const MaxRevision = math.MaxInt32

// Persistence is the storage contract the core consumes.
//
// Implementations must be safe for concurrent use by many goroutines; the
// persistence layer exclusively owns on-disk durability and checkpoint
// allocation. Reads may be slightly stale on eventually consistent
// backends; writes are strongly consistent.
//
// Conforming implementations in this module:
//   - inmem.Engine: maps and slices, for tests and development.
//   - sqlstore.Engine: database/sql with pluggable dialects (SQLite, MySQL).
//
// Implementations elsewhere can target document stores, key-value stores or
// anything able to honor the ordering and failure semantics below.
type Persistence interface {
	// Initialize prepares storage. Idempotent: second and later calls in
	// the same process are no-ops, and concurrent calls from multiple
	// processes must not corrupt state.
	Initialize(ctx context.Context) error

	// GetFrom returns the commits of a stream whose event range intersects
	// [minRevision, maxRevision], ordered by commit sequence ascending.
	// The cursor is lazy and single-pass.
	GetFrom(ctx context.Context, streamID string, minRevision, maxRevision int) (Cursor, error)

	// GetFromInstant returns all commits with CommitStamp >= instant,
	// ordered by stamp then checkpoint.
	GetFromInstant(ctx context.Context, instant time.Time) (Cursor, error)

	// GetFromTo returns all commits with start <= CommitStamp < end,
	// ordered by stamp then checkpoint.
	GetFromTo(ctx context.Context, start, end time.Time) (Cursor, error)

	// GetFromCheckpoint returns all commits with Checkpoint > checkpoint,
	// ordered by checkpoint. Zero reads from the beginning.
	GetFromCheckpoint(ctx context.Context, checkpoint int64) (Cursor, error)

	// Commit durably appends an attempt and returns the persisted commit
	// with its checkpoint assigned.
	//
	// Failure semantics:
	//   - same (StreamID, CommitID) as an existing commit: ErrDuplicateCommit.
	//   - same (StreamID, CommitSequence) with a different id: a
	//     *ConcurrencyError carrying the newer commits.
	//   - transport failure: ErrStorageUnavailable.
	//   - anything else: a *StorageError wrapping the cause.
	Commit(ctx context.Context, attempt *Commit) (*Commit, error)

	// GetUndispatchedCommits returns every commit not yet marked as
	// dispatched, ordered by checkpoint.
	GetUndispatchedCommits(ctx context.Context) (Cursor, error)

	// MarkCommitAsDispatched flips the commit's dispatched flag. Idempotent.
	MarkCommitAsDispatched(ctx context.Context, commit *Commit) error

	// GetStreamsToSnapshot returns the heads of every stream that has
	// accumulated at least threshold events past its newest snapshot.
	GetStreamsToSnapshot(ctx context.Context, threshold int) ([]*StreamHead, error)

	// GetSnapshot returns the most recent snapshot of the stream at or
	// below maxRevision, or nil if none exists.
	GetSnapshot(ctx context.Context, streamID string, maxRevision int) (*Snapshot, error)

	// AddSnapshot stores a snapshot and reports whether it was newly
	// stored. Idempotent by (StreamID, StreamRevision): a second add of the
	// same position returns false without error.
	AddSnapshot(ctx context.Context, snapshot *Snapshot) (bool, error)

	// Close releases the backend. Idempotent.
	Close() error
}
