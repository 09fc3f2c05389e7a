package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

// SQLite unique-violation result codes: SQLITE_CONSTRAINT_PRIMARYKEY and
// SQLITE_CONSTRAINT_UNIQUE.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// SQLiteDialect targets modernc.org/sqlite (CGO-free). Commit identifiers
// are stored in canonical text form.
type SQLiteDialect struct {
	baseDialect
}

// NewSQLiteDialect returns the SQLite dialect.
func NewSQLiteDialect() SQLiteDialect { return SQLiteDialect{} }

// Name implements Dialect.
func (SQLiteDialect) Name() string { return "sqlite" }

// InitializeStorage returns the idempotent schema bootstrap.
func (SQLiteDialect) InitializeStorage() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS commits (
			checkpoint INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id TEXT NOT NULL,
			stream_revision INTEGER NOT NULL,
			commit_id TEXT NOT NULL,
			commit_sequence INTEGER NOT NULL,
			commit_stamp INTEGER NOT NULL,
			headers BLOB NOT NULL,
			events BLOB NOT NULL,
			event_count INTEGER NOT NULL,
			dispatched INTEGER NOT NULL DEFAULT 0,
			UNIQUE (stream_id, commit_sequence),
			UNIQUE (stream_id, commit_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_stream_revision ON commits (stream_id, stream_revision)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_stamp ON commits (commit_stamp, checkpoint)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_dispatched ON commits (dispatched, checkpoint)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			stream_id TEXT NOT NULL,
			stream_revision INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (stream_id, stream_revision)
		)`,
		`CREATE TABLE IF NOT EXISTS stream_heads (
			stream_id TEXT PRIMARY KEY,
			stream_name TEXT NOT NULL DEFAULT '',
			head_revision INTEGER NOT NULL,
			snapshot_revision INTEGER NOT NULL DEFAULT 0
		)`,
	}
}

// PurgeStorage drops all stored data. Administrative tooling only.
func (SQLiteDialect) PurgeStorage() []string {
	return []string{
		`DELETE FROM commits`,
		`DELETE FROM snapshots`,
		`DELETE FROM stream_heads`,
	}
}

// UpdateStreamHead upserts the head revision for a stream.
func (SQLiteDialect) UpdateStreamHead() string {
	return `INSERT INTO stream_heads (stream_id, head_revision, snapshot_revision)
		VALUES (?, ?, 0)
		ON CONFLICT (stream_id) DO UPDATE SET head_revision = excluded.head_revision`
}

// AppendSnapshotToCommit inserts a snapshot, ignoring a duplicate position.
func (SQLiteDialect) AppendSnapshotToCommit() string {
	return `INSERT OR IGNORE INTO snapshots (stream_id, stream_revision, payload) VALUES (?, ?, ?)`
}

// IsDuplicate recognizes SQLite unique-violation results.
func (SQLiteDialect) IsDuplicate(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsUnavailable recognizes transport-level failures.
func (SQLiteDialect) IsUnavailable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// CoalesceCommitID stores ids as canonical text.
func (SQLiteDialect) CoalesceCommitID(id uuid.UUID) any { return textCommitID(id) }

// DecodeCommitID parses the stored text form.
func (SQLiteDialect) DecodeCommitID(raw []byte) (uuid.UUID, error) {
	id, err := parseTextCommitID(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode commit id: %w", err)
	}
	return id, nil
}
