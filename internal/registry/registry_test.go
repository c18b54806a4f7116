package registry

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

// fakeCoinStore mimics coins_table: selects hit existing rows, inserts
// assign the next id, optionally losing the uniqueness race instead.
type fakeCoinStore struct {
	mu       sync.Mutex
	rows     map[string]int64
	nextID   int64
	queries  int
	conflict bool
}

func (f *fakeCoinStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	name := args[0].(string)
	if strings.HasPrefix(sql, "SELECT") {
		if id, ok := f.rows[name]; ok {
			return fakeRow{id: id}
		}
		return fakeRow{err: pgx.ErrNoRows}
	}
	if f.conflict {
		// Another process inserted the row between our select and insert.
		f.conflict = false
		f.nextID++
		f.rows[name] = f.nextID
		return fakeRow{err: &pgconn.PgError{Code: uniqueViolation}}
	}
	if _, ok := f.rows[name]; ok {
		return fakeRow{err: &pgconn.PgError{Code: uniqueViolation}}
	}
	f.nextID++
	f.rows[name] = f.nextID
	return fakeRow{id: f.nextID}
}

func newFakeCoinStore() *fakeCoinStore {
	return &fakeCoinStore{rows: make(map[string]int64)}
}

func TestResolveExisting(t *testing.T) {
	db := newFakeCoinStore()
	db.rows["BTCUSDT"] = 7
	r := New(db)

	id, err := r.Resolve(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if id != 7 {
		t.Errorf("expected coin id 7, got %v", id)
	}
}

func TestResolveCreatesOnFirstSighting(t *testing.T) {
	db := newFakeCoinStore()
	r := New(db)

	id, err := r.Resolve(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	again, err := r.Resolve(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if id != again {
		t.Errorf("expected stable coin id, got %v then %v", id, again)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	db := newFakeCoinStore()
	r := New(db)

	upper, err := r.Resolve(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	lower, err := r.Resolve(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if upper != lower {
		t.Errorf("expected one id for both spellings, got %v and %v", upper, lower)
	}
	if r.CacheSize() != 1 {
		t.Errorf("expected 1 cached symbol, got %v", r.CacheSize())
	}
}

func TestResolveCacheSkipsStore(t *testing.T) {
	db := newFakeCoinStore()
	db.rows["BTCUSDT"] = 3
	r := New(db)

	if _, err := r.Resolve(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	before := db.queries
	if _, err := r.Resolve(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if db.queries != before {
		t.Errorf("expected cached resolve without store access, queries went %v -> %v", before, db.queries)
	}
}

func TestResolveLosingInsertRaceReReads(t *testing.T) {
	db := newFakeCoinStore()
	db.conflict = true
	r := New(db)

	id, err := r.Resolve(context.Background(), "SOLUSDT")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if id != db.rows["SOLUSDT"] {
		t.Errorf("expected winner's coin id %v, got %v", db.rows["SOLUSDT"], id)
	}
}

func TestResolveEmptySymbol(t *testing.T) {
	r := New(newFakeCoinStore())
	if _, err := r.Resolve(context.Background(), "  "); err == nil {
		t.Errorf("expected error for empty symbol")
	}
}

func TestResolveConcurrent(t *testing.T) {
	db := newFakeCoinStore()
	r := New(db)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), "BTCUSDT")
			if err != nil {
				t.Errorf("unexpected error : %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Errorf("expected one coin id for all resolvers, got %v and %v", ids[0], id)
		}
	}
}
