package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	return nil
}

// fakeDB keeps lock owners in memory and ignores expiry.
type fakeDB struct {
	mu     sync.Mutex
	owners map[string]string
	tries  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{owners: make(map[string]string)}
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	owner, held := f.owners[key]
	switch {
	case strings.Contains(sql, "INSERT"):
		f.tries++
		if held && owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.owners[key] = token
		return fakeRow{key: key}
	default:
		if !held || owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{key: key}
	}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	if f.owners[key] == token {
		delete(f.owners, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func TestWithLockReleases(t *testing.T) {
	db := newFakeDB()
	c := New(db, DefaultOptions())

	ran := false
	err := c.WithLock(context.Background(), "article:1", func(ctx context.Context) error {
		ran = true
		if len(db.owners) != 1 {
			t.Fatalf("expected lock held, got %v", db.owners)
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run, got %v", err)
	}
	if len(db.owners) != 0 {
		t.Fatalf("expected lock released, got %v", db.owners)
	}
}

func TestAcquireBusyWithoutWait(t *testing.T) {
	db := newFakeDB()
	db.owners["article:1"] = "someone-else"
	c := New(db, Options{TTL: time.Minute})

	if _, err := c.Acquire(context.Background(), "article:1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := c.Acquire(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestAcquireWaitsUntilFree(t *testing.T) {
	db := newFakeDB()
	db.owners["article:1"] = "someone-else"
	c := New(db, Options{TTL: time.Minute, Wait: true, WaitInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(30 * time.Millisecond)
		db.mu.Lock()
		delete(db.owners, "article:1")
		db.mu.Unlock()
	}()

	lease, err := c.Acquire(context.Background(), "article:1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer lease.Release(context.Background())
	if db.tries < 2 {
		t.Fatalf("expected repeated attempts, got %d", db.tries)
	}
}

func TestAcquireWaitHonoursContext(t *testing.T) {
	db := newFakeDB()
	db.owners["article:1"] = "someone-else"
	c := New(db, Options{TTL: time.Minute, Wait: true, WaitInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, "article:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOptionsNormalize(t *testing.T) {
	o := Options{TTL: 10 * time.Second, RenewEvery: time.Minute, WaitJitter: -1}.normalize()
	if o.RenewEvery != 5*time.Second || o.WaitJitter != 0 || o.WaitInterval != 250*time.Millisecond {
		t.Fatalf("unexpected normalized options %+v", o)
	}
	if (Options{}).normalize().TTL != 5*time.Minute {
		t.Fatal("expected default ttl of 5m")
	}
}
