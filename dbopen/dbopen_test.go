package dbopen_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/retrace/dbopen"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != dbopen.BusyTimeoutMs {
		t.Fatalf("busy_timeout = %d, want %d", busy, dbopen.BusyTimeoutMs)
	}
}

func TestOpen_WAL(t *testing.T) {
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "wal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestRetry(t *testing.T) {
	busy := errors.New("database is locked")

	calls := 0
	err := dbopen.Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return busy
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("recovering: err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = dbopen.Retry(context.Background(), func() error { calls++; return busy })
	if !errors.Is(err, busy) || calls != dbopen.Attempts {
		t.Fatalf("always busy: err = %v, calls = %d", err, calls)
	}

	calls = 0
	other := errors.New("no such table")
	if err := dbopen.Retry(context.Background(), func() error { calls++; return other }); err != other || calls != 1 {
		t.Fatalf("non-busy: err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = dbopen.Retry(ctx, func() error { return busy })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: err = %v", err)
	}
}

func TestOpen_MkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "retrace.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(`CREATE TABLE t (k TEXT)`); err != nil {
		t.Fatal(err)
	}
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO t (k) VALUES (?)`, "x")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("rows affected = %d, want 1", n)
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"SQLITE_BUSY":              true,
		"database is locked":       true,
		"database table is locked": true,
		"no such table":            false,
	}
	for msg, want := range cases {
		if got := dbopen.IsBusy(errors.New(msg)); got != want {
			t.Errorf("IsBusy(%q) = %v, want %v", msg, got, want)
		}
	}
	if dbopen.IsBusy(nil) {
		t.Error("IsBusy(nil) = true")
	}
}
