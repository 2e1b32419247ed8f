package kvstore

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/retrace/dbopen"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newSQLiteStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	backend, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return New(backend, opts...)
}

func TestStore_DurableRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if err := s.Set(ctx, "settings", record{Name: "a", Count: 2}); err != nil {
		t.Fatal(err)
	}
	var got record
	ok, err := s.Get(ctx, "settings", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("got %+v", got)
	}

	// Overwrite replaces the whole value.
	if err := s.Set(ctx, "settings", record{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	got = record{}
	s.Get(ctx, "settings", &got)
	if got.Name != "b" || got.Count != 0 {
		t.Errorf("after overwrite: got %+v", got)
	}

	if err := s.Remove(ctx, "settings"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Get(ctx, "settings", &got)
	if err != nil || ok {
		t.Fatalf("after remove: ok=%v err=%v", ok, err)
	}
}

func TestStore_MissingKey(t *testing.T) {
	s := New(NewMemory())
	var got record
	ok, err := s.Get(context.Background(), "nope", &got)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing key")
	}
	if err := s.Remove(context.Background(), "nope"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestStore_SessionIsolated(t *testing.T) {
	ctx := context.Background()
	durable, session := NewMemory(), NewMemory()
	s := New(durable, WithSession(session))

	if err := s.SetSession(ctx, "snapshots:1", []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if durable.Len() != 0 {
		t.Fatalf("durable backend written: %d keys", durable.Len())
	}
	if session.Len() != 1 {
		t.Fatalf("session backend keys = %d, want 1", session.Len())
	}

	var got []string
	ok, _ := s.GetSession(ctx, "snapshots:1", &got)
	if !ok || len(got) != 1 || got[0] != "x" {
		t.Fatalf("GetSession: ok=%v got=%v", ok, got)
	}
	s.RemoveSession(ctx, "snapshots:1")
	if session.Len() != 0 {
		t.Fatal("RemoveSession left the key")
	}
}

func TestStore_SessionFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	durable := NewMemory()
	s := New(durable)

	if s.HasSession() {
		t.Fatal("HasSession = true without session backend")
	}
	if err := s.SetSession(ctx, "snapshots:9", 1); err != nil {
		t.Fatal(err)
	}
	if durable.Len() != 1 {
		t.Fatalf("durable keys = %d, want 1", durable.Len())
	}
	var n int
	if ok, _ := s.Get(ctx, "snapshots:9", &n); !ok || n != 1 {
		t.Fatalf("durable view: ok=%v n=%d", ok, n)
	}
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	durable := NewMemory()
	s := New(durable, WithClock(func() time.Time { return now }))

	if err := s.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	var got string
	ok, err := s.GetWithTTL(ctx, "k", &got)
	if err != nil || !ok || got != "v" {
		t.Fatalf("fresh: ok=%v err=%v got=%q", ok, err, got)
	}

	now = now.Add(2 * time.Minute)
	ok, err = s.GetWithTTL(ctx, "k", &got)
	if err != nil || ok {
		t.Fatalf("expired: ok=%v err=%v", ok, err)
	}
	if durable.Len() != 0 {
		t.Fatal("expired entry not removed on read")
	}
}

func TestStore_TTLZeroNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(0)
	s := New(NewMemory(), WithClock(func() time.Time { return now }))

	s.SetWithTTL(ctx, "k", 42, 0)
	now = now.Add(365 * 24 * time.Hour)
	var n int
	if ok, _ := s.GetWithTTL(ctx, "k", &n); !ok || n != 42 {
		t.Fatalf("ok=%v n=%d", ok, n)
	}
}
