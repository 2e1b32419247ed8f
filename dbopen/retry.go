package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Attempts bounds how often a busy write is tried.
const Attempts = 3

// IsBusy reports whether err means another connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-busy error, or has
// been tried Attempts times. Waits grow linearly from 100ms.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 1; i <= Attempts; i++ {
		if err = fn(); !IsBusy(err) || i == Attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(i) * 100 * time.Millisecond):
		}
	}
	return err
}

// Exec runs a write statement with Retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := Retry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}
