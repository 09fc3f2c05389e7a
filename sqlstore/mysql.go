package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQL server error numbers the dialect recognizes.
const (
	mysqlDuplicateEntry = 1062
)

// MySQLDialect targets github.com/go-sql-driver/mysql. Commit identifiers
// coalesce to raw bytes for the BINARY(16) column.
type MySQLDialect struct {
	baseDialect
}

// NewMySQLDialect returns the MySQL dialect.
func NewMySQLDialect() MySQLDialect { return MySQLDialect{} }

// Name implements Dialect.
func (MySQLDialect) Name() string { return "mysql" }

// InitializeStorage returns the idempotent schema bootstrap.
func (MySQLDialect) InitializeStorage() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS commits (
			checkpoint BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			stream_id VARCHAR(255) NOT NULL,
			stream_revision INT NOT NULL,
			commit_id BINARY(16) NOT NULL,
			commit_sequence INT NOT NULL,
			commit_stamp BIGINT NOT NULL,
			headers BLOB NOT NULL,
			events MEDIUMBLOB NOT NULL,
			event_count INT NOT NULL,
			dispatched TINYINT NOT NULL DEFAULT 0,
			UNIQUE KEY uq_commits_sequence (stream_id, commit_sequence),
			UNIQUE KEY uq_commits_id (stream_id, commit_id),
			KEY idx_commits_stream_revision (stream_id, stream_revision),
			KEY idx_commits_stamp (commit_stamp, checkpoint),
			KEY idx_commits_dispatched (dispatched, checkpoint)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			stream_id VARCHAR(255) NOT NULL,
			stream_revision INT NOT NULL,
			payload MEDIUMBLOB NOT NULL,
			PRIMARY KEY (stream_id, stream_revision)
		)`,
		`CREATE TABLE IF NOT EXISTS stream_heads (
			stream_id VARCHAR(255) NOT NULL PRIMARY KEY,
			stream_name VARCHAR(255) NOT NULL DEFAULT '',
			head_revision INT NOT NULL,
			snapshot_revision INT NOT NULL DEFAULT 0
		)`,
	}
}

// PurgeStorage drops all stored data. Administrative tooling only.
func (MySQLDialect) PurgeStorage() []string {
	return []string{
		`DELETE FROM commits`,
		`DELETE FROM snapshots`,
		`DELETE FROM stream_heads`,
	}
}

// UpdateStreamHead upserts the head revision for a stream.
func (MySQLDialect) UpdateStreamHead() string {
	return `INSERT INTO stream_heads (stream_id, head_revision, snapshot_revision)
		VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE head_revision = VALUES(head_revision)`
}

// AppendSnapshotToCommit inserts a snapshot, ignoring a duplicate position.
func (MySQLDialect) AppendSnapshotToCommit() string {
	return `INSERT IGNORE INTO snapshots (stream_id, stream_revision, payload) VALUES (?, ?, ?)`
}

// IsDuplicate recognizes ER_DUP_ENTRY.
func (MySQLDialect) IsDuplicate(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == mysqlDuplicateEntry
}

// IsUnavailable recognizes transport-level failures.
func (MySQLDialect) IsUnavailable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone)
}

// CoalesceCommitID stores ids as raw bytes for the BINARY(16) column.
func (MySQLDialect) CoalesceCommitID(id uuid.UUID) any { return id[:] }

// DecodeCommitID reads the BINARY(16) form back.
func (MySQLDialect) DecodeCommitID(raw []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode commit id: %w", err)
	}
	return id, nil
}
