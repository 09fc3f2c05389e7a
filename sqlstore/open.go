package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens a SQLite-backed engine at path (":memory:" works but is
// limited to a single connection; a file path is recommended).
//
// The connection is configured the way a single-writer SQLite deployment
// wants it: one open connection, WAL journaling for concurrent readers,
// and a busy timeout so short lock contention waits instead of failing.
func OpenSQLite(path string, opts ...EngineOption) (*Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return NewEngine(db, NewSQLiteDialect(), opts...), nil
}

// OpenMySQL opens a MySQL-backed engine. The DSN follows the
// go-sql-driver format, e.g. "user:pass@tcp(host:3306)/events".
func OpenMySQL(dsn string, opts ...EngineOption) (*Engine, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return NewEngine(db, NewMySQLDialect(), opts...), nil
}
