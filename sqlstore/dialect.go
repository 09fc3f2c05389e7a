// Package sqlstore implements the persistence contract over database/sql
// with pluggable SQL dialects.
package sqlstore

import (
	"strings"

	"github.com/google/uuid"
)

// Dialect supplies the per-backend statement text and behaviors the engine
// needs: parameter-marker substitution, a paging clause, unique-violation
// recognition, identifier coalescing, and bootstrap/purge DDL.
//
// Statements are written with '?' markers; the engine passes each through
// Rebind before execution so dialects with positional or named markers can
// substitute their own.
type Dialect interface {
	// Name identifies the dialect ("sqlite", "mysql").
	Name() string

	// InitializeStorage returns the idempotent DDL run by Initialize.
	InitializeStorage() []string

	// PurgeStorage returns the statements that drop all stored data.
	PurgeStorage() []string

	// PersistCommit inserts one commit row.
	PersistCommit() string

	// GetCommitsFromStartingRevision selects a stream's commits whose
	// event range intersects a revision window, in commit-sequence order.
	GetCommitsFromStartingRevision() string

	// GetCommitsFromInstant selects all commits stamped at or after an
	// instant, ordered by stamp then checkpoint.
	GetCommitsFromInstant() string

	// GetCommitsFromToInstant selects all commits stamped inside a
	// half-open window, ordered by stamp then checkpoint.
	GetCommitsFromToInstant() string

	// GetCommitsFromCheckpoint selects all commits past a checkpoint, in
	// checkpoint order.
	GetCommitsFromCheckpoint() string

	// GetUndispatchedCommits selects commits whose dispatched flag is
	// unset, in checkpoint order.
	GetUndispatchedCommits() string

	// MarkCommitAsDispatched sets the dispatched flag by checkpoint.
	MarkCommitAsDispatched() string

	// UpdateStreamHead upserts a stream's head revision.
	UpdateStreamHead() string

	// AppendSnapshotToCommit inserts a snapshot row, ignoring a duplicate
	// (stream_id, stream_revision).
	AppendSnapshotToCommit() string

	// UpdateSnapshotRevision raises a head's snapshot revision.
	UpdateSnapshotRevision() string

	// GetSnapshot selects the newest snapshot at or below a revision.
	GetSnapshot() string

	// GetStreamsRequiringSnapshots selects heads whose unsnapshotted event
	// count has reached a threshold.
	GetStreamsRequiringSnapshots() string

	// Rebind rewrites '?' markers into the dialect's parameter naming.
	// Identity for SQLite and MySQL; a PostgreSQL dialect would emit $1..$n.
	Rebind(query string) string

	// Paging appends the dialect's limit clause with a '?' marker for the
	// page size.
	Paging(query string) string

	// IsDuplicate reports whether err is the backend's unique-violation
	// condition. The engine translates these to concurrency or
	// duplicate-commit failures.
	IsDuplicate(err error) bool

	// IsUnavailable reports whether err is a transport-level failure the
	// engine should surface as storage-unavailable.
	IsUnavailable(err error) bool

	// CoalesceCommitID converts a commit id to the backend's storage form
	// (text for SQLite, raw bytes for MySQL's BINARY(16)).
	CoalesceCommitID(id uuid.UUID) any

	// DecodeCommitID reverses CoalesceCommitID on a scanned value.
	DecodeCommitID(raw []byte) (uuid.UUID, error)
}

// baseDialect carries the statement text SQLite and MySQL share. Concrete
// dialects embed it and supply DDL, upsert forms and error recognition.
type baseDialect struct{}

func (baseDialect) PersistCommit() string {
	return `INSERT INTO commits
		(stream_id, stream_revision, commit_id, commit_sequence, commit_stamp, headers, events, event_count, dispatched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
}

const commitColumns = `checkpoint, stream_id, stream_revision, commit_id, commit_sequence, commit_stamp, headers, events`

func (baseDialect) GetCommitsFromStartingRevision() string {
	return `SELECT ` + commitColumns + ` FROM commits
		WHERE stream_id = ? AND stream_revision >= ? AND stream_revision - event_count + 1 <= ?
		ORDER BY commit_sequence`
}

func (baseDialect) GetCommitsFromInstant() string {
	return `SELECT ` + commitColumns + ` FROM commits
		WHERE commit_stamp >= ?
		ORDER BY commit_stamp, checkpoint`
}

func (baseDialect) GetCommitsFromToInstant() string {
	return `SELECT ` + commitColumns + ` FROM commits
		WHERE commit_stamp >= ? AND commit_stamp < ?
		ORDER BY commit_stamp, checkpoint`
}

func (baseDialect) GetCommitsFromCheckpoint() string {
	return `SELECT ` + commitColumns + ` FROM commits
		WHERE checkpoint > ?
		ORDER BY checkpoint`
}

func (baseDialect) GetUndispatchedCommits() string {
	return `SELECT ` + commitColumns + ` FROM commits
		WHERE dispatched = 0
		ORDER BY checkpoint`
}

func (baseDialect) MarkCommitAsDispatched() string {
	return `UPDATE commits SET dispatched = 1 WHERE checkpoint = ?`
}

func (baseDialect) GetSnapshot() string {
	return `SELECT stream_revision, payload FROM snapshots
		WHERE stream_id = ? AND stream_revision <= ?
		ORDER BY stream_revision DESC
		LIMIT 1`
}

func (baseDialect) GetStreamsRequiringSnapshots() string {
	return `SELECT stream_id, stream_name, head_revision, snapshot_revision FROM stream_heads
		WHERE head_revision - snapshot_revision >= ?
		ORDER BY stream_id`
}

func (baseDialect) UpdateSnapshotRevision() string {
	return `UPDATE stream_heads SET snapshot_revision = ? WHERE stream_id = ? AND snapshot_revision < ?`
}

// Rebind is the identity for '?'-marker backends.
func (baseDialect) Rebind(query string) string { return query }

// Paging appends a LIMIT clause with a '?' marker.
func (baseDialect) Paging(query string) string { return query + " LIMIT ?" }

// textCommitID stores ids in their canonical text form.
func textCommitID(id uuid.UUID) any { return id.String() }

func parseTextCommitID(raw []byte) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(string(raw)))
}
