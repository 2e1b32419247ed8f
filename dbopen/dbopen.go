// Package dbopen opens the SQLite file behind retrace's durable scope.
// Every connection gets WAL journaling, a busy timeout and NORMAL sync;
// the key-value store does many small upserts from concurrent tabs.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/retrace.db", dbopen.WithMkdirAll())
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// BusyTimeoutMs is how long a connection waits on a locked database.
const BusyTimeoutMs = 10_000

type options struct {
	mkdir bool
}

// Option customises Open.
type Option func(*options)

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdir = true } }

// Open opens the database at path with the "sqlite" driver, which the
// caller must blank-import.
func Open(path string, opts ...Option) (*sql.DB, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.mkdir && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	for _, s := range []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeoutMs),
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %q: %w", s, err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database for a test and closes it
// on cleanup. It holds a single connection, since each ":memory:"
// connection would otherwise see its own empty database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
