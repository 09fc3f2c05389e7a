package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	eventstore "github.com/neventstore/eventstore-go"
)

// Engine is the relational eventstore.Persistence adapter. It speaks plain
// database/sql and delegates every dialect-specific concern (statement
// text, parameter naming, unique-violation recognition, identifier
// coalescing) to a Dialect.
//
//	db, err := sql.Open("sqlite", "./events.db")
//	...
//	engine := sqlstore.NewEngine(db, sqlstore.NewSQLiteDialect())
//	if err := engine.Initialize(ctx); err != nil { ... }
//
// Connections are acquired per operation through database/sql and released
// on every exit path; writes run inside a transaction committed on success
// and rolled back on failure. Safe for concurrent use.
type Engine struct {
	db         *sql.DB
	dialect    Dialect
	serializer eventstore.Serializer
	pageSize   int

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once
	closeErr  error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSerializer replaces the default JSON serializer for headers, event
// batches and snapshot payloads.
func WithSerializer(s eventstore.Serializer) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.serializer = s
		}
	}
}

// WithPageSize makes checkpoint-ordered reads page through the backend in
// chunks of n rows instead of one unbounded query. Zero disables paging.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) { e.pageSize = n }
}

// NewEngine wraps an open database handle. The caller owns db until Close.
func NewEngine(db *sql.DB, dialect Dialect, opts ...EngineOption) *Engine {
	e := &Engine{db: db, dialect: dialect, serializer: eventstore.NewJSONSerializer()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize runs the dialect's idempotent bootstrap DDL. Only the first
// call in the process executes; CREATE IF NOT EXISTS keeps concurrent
// processes safe.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initOnce.Do(func() {
		for _, stmt := range e.dialect.InitializeStorage() {
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				e.initErr = e.translate("initialize", err)
				return
			}
		}
	})
	return e.initErr
}

// GetFrom returns the stream's commits whose event range intersects
// [minRevision, maxRevision], in commit-sequence order.
func (e *Engine) GetFrom(ctx context.Context, streamID string, minRevision, maxRevision int) (eventstore.Cursor, error) {
	return e.query(ctx, "get from revision", e.dialect.GetCommitsFromStartingRevision(),
		streamID, minRevision, maxRevision)
}

// GetFromInstant returns all commits stamped at or after instant, ordered
// by stamp then checkpoint.
func (e *Engine) GetFromInstant(ctx context.Context, instant time.Time) (eventstore.Cursor, error) {
	return e.query(ctx, "get from instant", e.dialect.GetCommitsFromInstant(), instant.UTC().UnixNano())
}

// GetFromTo returns all commits stamped in [start, end), ordered by stamp
// then checkpoint.
func (e *Engine) GetFromTo(ctx context.Context, start, end time.Time) (eventstore.Cursor, error) {
	return e.query(ctx, "get from to", e.dialect.GetCommitsFromToInstant(),
		start.UTC().UnixNano(), end.UTC().UnixNano())
}

// GetFromCheckpoint returns all commits past checkpoint, in checkpoint
// order. With a page size configured the cursor re-queries the backend one
// page at a time, resuming from the last checkpoint seen.
func (e *Engine) GetFromCheckpoint(ctx context.Context, checkpoint int64) (eventstore.Cursor, error) {
	if e.pageSize > 0 {
		return &pagedCheckpointCursor{ctx: ctx, engine: e, last: checkpoint, pageSize: e.pageSize}, nil
	}
	return e.query(ctx, "get from checkpoint", e.dialect.GetCommitsFromCheckpoint(), checkpoint)
}

// Commit durably appends the attempt and returns it with the allocated
// checkpoint. Unique violations translate to duplicate-commit when the
// attempt's id is already persisted, otherwise to a conflict carrying the
// newer commits.
func (e *Engine) Commit(ctx context.Context, attempt *eventstore.Commit) (*eventstore.Commit, error) {
	if err := attempt.Validate(); err != nil {
		return nil, err
	}
	headers, err := e.serializer.Serialize(attempt.Headers)
	if err != nil {
		return nil, &eventstore.StorageError{Op: "commit", Cause: err}
	}
	events, err := e.serializer.Serialize(attempt.Events)
	if err != nil {
		return nil, &eventstore.StorageError{Op: "commit", Cause: err}
	}

	var checkpoint int64
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, e.dialect.Rebind(e.dialect.PersistCommit()),
			attempt.StreamID,
			attempt.StreamRevision,
			e.dialect.CoalesceCommitID(attempt.CommitID),
			attempt.CommitSequence,
			attempt.CommitStamp.UTC().UnixNano(),
			headers,
			events,
			len(attempt.Events),
		)
		if err != nil {
			return err
		}
		if checkpoint, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, e.dialect.Rebind(e.dialect.UpdateStreamHead()),
			attempt.StreamID, attempt.StreamRevision)
		return err
	})
	if err != nil {
		if e.dialect.IsDuplicate(err) {
			return nil, e.conflictFor(ctx, attempt)
		}
		return nil, e.translate("commit", err)
	}

	persisted := *attempt
	persisted.Checkpoint = checkpoint
	return &persisted, nil
}

// conflictFor turns a unique violation into the right error kind: the
// attempt's own id already in the stream means duplicate-commit, anything
// else is a concurrency conflict carrying the commits the writer lost to.
func (e *Engine) conflictFor(ctx context.Context, attempt *eventstore.Commit) error {
	cur, err := e.GetFrom(ctx, attempt.StreamID, 0, eventstore.MaxRevision)
	if err != nil {
		return err
	}
	persisted, err := eventstore.ReadAll(cur)
	if err != nil {
		return e.translate("commit conflict", err)
	}
	var newer []*eventstore.Commit
	for _, c := range persisted {
		if c.CommitID == attempt.CommitID {
			return fmt.Errorf("%w: %s on stream %q", eventstore.ErrDuplicateCommit, attempt.CommitID, attempt.StreamID)
		}
		if c.CommitSequence >= attempt.CommitSequence {
			newer = append(newer, c)
		}
	}
	return &eventstore.ConcurrencyError{StreamID: attempt.StreamID, Commits: newer}
}

// GetUndispatchedCommits returns every commit with the dispatched flag
// unset, in checkpoint order.
func (e *Engine) GetUndispatchedCommits(ctx context.Context) (eventstore.Cursor, error) {
	return e.query(ctx, "get undispatched", e.dialect.GetUndispatchedCommits())
}

// MarkCommitAsDispatched flips the dispatched flag by checkpoint.
// Idempotent: marking twice is a no-op.
func (e *Engine) MarkCommitAsDispatched(ctx context.Context, commit *eventstore.Commit) error {
	return e.exec(ctx, "mark dispatched", e.dialect.MarkCommitAsDispatched(), commit.Checkpoint)
}

// GetStreamsToSnapshot returns heads that accumulated at least threshold
// events past their newest snapshot.
func (e *Engine) GetStreamsToSnapshot(ctx context.Context, threshold int) ([]*eventstore.StreamHead, error) {
	rows, err := e.db.QueryContext(ctx, e.dialect.Rebind(e.dialect.GetStreamsRequiringSnapshots()), threshold)
	if err != nil {
		return nil, e.translate("get streams to snapshot", err)
	}
	defer rows.Close()
	var heads []*eventstore.StreamHead
	for rows.Next() {
		head := &eventstore.StreamHead{}
		if err := rows.Scan(&head.StreamID, &head.StreamName, &head.HeadRevision, &head.SnapshotRevision); err != nil {
			return nil, e.translate("get streams to snapshot", err)
		}
		heads = append(heads, head)
	}
	if err := rows.Err(); err != nil {
		return nil, e.translate("get streams to snapshot", err)
	}
	return heads, nil
}

// GetSnapshot returns the newest snapshot at or below maxRevision, or nil.
// Payloads deserialize into the serializer's generic representation
// (map[string]any for JSON object payloads).
func (e *Engine) GetSnapshot(ctx context.Context, streamID string, maxRevision int) (*eventstore.Snapshot, error) {
	row := e.db.QueryRowContext(ctx, e.dialect.Rebind(e.dialect.GetSnapshot()), streamID, maxRevision)
	var revision int
	var payload []byte
	if err := row.Scan(&revision, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, e.translate("get snapshot", err)
	}
	var body any
	if err := e.serializer.Deserialize(payload, &body); err != nil {
		return nil, &eventstore.StorageError{Op: "get snapshot", Cause: err}
	}
	return &eventstore.Snapshot{StreamID: streamID, StreamRevision: revision, Payload: body}, nil
}

// AddSnapshot stores the snapshot and raises the stream head's snapshot
// revision. A second add at the same position returns false.
func (e *Engine) AddSnapshot(ctx context.Context, snapshot *eventstore.Snapshot) (bool, error) {
	if snapshot == nil {
		return false, fmt.Errorf("%w: snapshot is nil", eventstore.ErrInvalidArgument)
	}
	payload, err := e.serializer.Serialize(snapshot.Payload)
	if err != nil {
		return false, &eventstore.StorageError{Op: "add snapshot", Cause: err}
	}
	added := false
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, e.dialect.Rebind(e.dialect.AppendSnapshotToCommit()),
			snapshot.StreamID, snapshot.StreamRevision, payload)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		added = true
		_, err = tx.ExecContext(ctx, e.dialect.Rebind(e.dialect.UpdateSnapshotRevision()),
			snapshot.StreamRevision, snapshot.StreamID, snapshot.StreamRevision)
		return err
	})
	if err != nil {
		return false, e.translate("add snapshot", err)
	}
	return added, nil
}

// Purge deletes every commit, snapshot and head. Administrative tooling
// only; the core never calls it.
func (e *Engine) Purge(ctx context.Context) error {
	for _, stmt := range e.dialect.PurgeStorage() {
		if err := e.exec(ctx, "purge", stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.db.Close()
	})
	return e.closeErr
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any exit path.
func (e *Engine) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exec runs a single write statement inside a transaction scope.
func (e *Engine) exec(ctx context.Context, op, stmt string, args ...any) error {
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, e.dialect.Rebind(stmt), args...)
		return err
	})
	if err != nil {
		return e.translate(op, err)
	}
	return nil
}

// query opens a lazy commit cursor over a read statement.
func (e *Engine) query(ctx context.Context, op, stmt string, args ...any) (eventstore.Cursor, error) {
	rows, err := e.db.QueryContext(ctx, e.dialect.Rebind(stmt), args...)
	if err != nil {
		return nil, e.translate(op, err)
	}
	return &rowsCursor{rows: rows, engine: e, op: op}, nil
}

// translate maps a backend failure to the contract's error kinds.
func (e *Engine) translate(op string, err error) error {
	if e.dialect.IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", eventstore.ErrStorageUnavailable, op, err)
	}
	return &eventstore.StorageError{Op: op, Cause: err}
}
