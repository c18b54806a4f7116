package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type fakeTx struct {
	pgx.Tx

	failExecAt int
	execs      int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	f.execs++
	if f.failExecAt > 0 && f.execs == f.failExecAt {
		return pgconn.CommandTag{}, errors.New("insert failed")
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Commit(_ context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(_ context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakePool struct {
	tx     *fakeTx
	begins int
}

func (f *fakePool) Begin(_ context.Context) (pgx.Tx, error) {
	f.begins++
	return f.tx, nil
}

func (f *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}

type fakeResolver struct {
	ids  map[string]int64
	fail map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, symbol string) (int64, error) {
	if f.fail[symbol] {
		return 0, errors.New("resolution failed")
	}
	id, ok := f.ids[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	return id, nil
}

func bookTick(sym string, bid float64) Tick {
	return Tick{
		Symbol:    sym,
		Exchange:  ExchangeBinance,
		Timestamp: time.Now().UTC(),
		BestBid:   Float(bid),
		BestAsk:   Float(bid + 0.5),
	}
}

func TestWriteBatchCommitsAllRows(t *testing.T) {
	tx := &fakeTx{}
	pg := Postgres{
		DB:       &fakePool{tx: tx},
		Resolver: &fakeResolver{ids: map[string]int64{"BTCUSDT": 1, "ETHUSDT": 2}},
	}

	n, err := pg.WriteBatch(context.Background(), []Tick{bookTick("BTCUSDT", 10), bookTick("ETHUSDT", 20)})
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows committed, got %v", n)
	}
	if tx.execs != 2 || !tx.committed {
		t.Errorf("expected 2 inserts and a commit, got execs=%v committed=%v", tx.execs, tx.committed)
	}
}

func TestWriteBatchSkipsInvalidTick(t *testing.T) {
	tx := &fakeTx{}
	pg := Postgres{
		DB:       &fakePool{tx: tx},
		Resolver: &fakeResolver{ids: map[string]int64{"BTCUSDT": 1}},
	}

	invalid := Tick{Symbol: "BTCUSDT", Exchange: ExchangeBinance, Timestamp: time.Now().UTC()}
	n, err := pg.WriteBatch(context.Background(), []Tick{invalid, bookTick("BTCUSDT", 10)})
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if n != 1 || tx.execs != 1 {
		t.Errorf("expected only the valid tick inserted, got n=%v execs=%v", n, tx.execs)
	}
}

func TestWriteBatchSkipsUnresolvableSymbol(t *testing.T) {
	tx := &fakeTx{}
	pg := Postgres{
		DB:       &fakePool{tx: tx},
		Resolver: &fakeResolver{ids: map[string]int64{"BTCUSDT": 1}, fail: map[string]bool{"ETHUSDT": true}},
	}

	n, err := pg.WriteBatch(context.Background(), []Tick{bookTick("ETHUSDT", 20), bookTick("BTCUSDT", 10)})
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if n != 1 || tx.execs != 1 {
		t.Errorf("expected resolution failure to skip one tick, got n=%v execs=%v", n, tx.execs)
	}
	if !tx.committed {
		t.Errorf("expected remaining ticks committed")
	}
}

func TestWriteBatchRollsBackOnInsertFailure(t *testing.T) {
	tx := &fakeTx{failExecAt: 2}
	pg := Postgres{
		DB:       &fakePool{tx: tx},
		Resolver: &fakeResolver{ids: map[string]int64{"BTCUSDT": 1, "ETHUSDT": 2}},
	}

	n, err := pg.WriteBatch(context.Background(), []Tick{bookTick("BTCUSDT", 10), bookTick("ETHUSDT", 20)})
	if err == nil {
		t.Fatalf("expected error from failed insert")
	}
	if n != 0 {
		t.Errorf("expected 0 rows committed, got %v", n)
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("expected rollback without commit, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestWriteBatchEmptyAfterSkipsAvoidsTransaction(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	pg := Postgres{
		DB:       pool,
		Resolver: &fakeResolver{ids: map[string]int64{}},
	}

	n, err := pg.WriteBatch(context.Background(), []Tick{bookTick("BTCUSDT", 10)})
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if n != 0 || pool.begins != 0 {
		t.Errorf("expected no transaction for an all-skipped batch, got n=%v begins=%v", n, pool.begins)
	}
}

func TestCommitAlignedRollsBackWholeBatch(t *testing.T) {
	tx := &fakeTx{failExecAt: 3}
	pg := Postgres{DB: &fakePool{tx: tx}}

	rows := []AlignedRow{
		{Timestamp: time.Now().UTC(), BestBid: Float(10)},
		{Timestamp: time.Now().UTC(), BestBid: Float(11)},
		{Timestamp: time.Now().UTC(), BestBid: Float(12)},
	}
	n, err := pg.CommitAligned(context.Background(), 1, rows)
	if err == nil {
		t.Fatalf("expected error from failed insert")
	}
	if n != 0 || tx.committed || !tx.rolledBack {
		t.Errorf("expected full rollback, got n=%v committed=%v rolledBack=%v", n, tx.committed, tx.rolledBack)
	}
}
