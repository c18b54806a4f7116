package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Expected schema (managed externally, the app never migrates):
//
//	coins_table(coin_id BIGSERIAL PRIMARY KEY, coin_name TEXT UNIQUE NOT NULL)
//	coin_data_table(coin_id BIGINT REFERENCES coins_table, timestamp TIMESTAMPTZ,
//	    best_bid, best_ask, best_bid_qty, best_ask_qty,
//	    mark_price, last_price DOUBLE PRECISION, exchange TEXT)
//	aligned_data_table(coin_id BIGINT, timestamp TIMESTAMPTZ,
//	    best_bid, best_ask, best_bid_qty, best_ask_qty, mark_price, last_price,
//	    pair_bid, pair_ask, pair_bid_qty, pair_ask_qty, pair_price DOUBLE PRECISION,
//	    UNIQUE (coin_id, timestamp))

const insertTickSQL = `INSERT INTO coin_data_table
 (coin_id, timestamp, best_bid, best_ask, best_bid_qty, best_ask_qty, mark_price, last_price, exchange)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertAlignedSQL = `INSERT INTO aligned_data_table
 (coin_id, timestamp, best_bid, best_ask, best_bid_qty, best_ask_qty, mark_price, last_price,
  pair_bid, pair_ask, pair_bid_qty, pair_ask_qty, pair_price)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// CoinResolver resolves an instrument symbol to its durable coin id.
type CoinResolver interface {
	Resolve(ctx context.Context, symbol string) (int64, error)
}

// DB is the subset of pgxpool.Pool the postgres store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the durable relational store for normalized ticks and
// reconciled (aligned) series. Coin ids are resolved through the
// registry; every batch commits in a single transaction.
type Postgres struct {
	DB       DB
	Resolver CoinResolver
	Cfg      *config.Postgres
}

var postgres Postgres

// ConnectPostgres creates the pgx connection pool from configured values.
func ConnectPostgres(appCtx context.Context, cfg *config.Postgres) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Schema)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres config")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetimeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetimeSec) * time.Second
	}
	pool, err := pgxpool.NewWithConfig(appCtx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	if err := pool.Ping(appCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}
	return pool, nil
}

// InitPostgres prepares the package level postgres store with an already
// connected pool and the coin resolver.
func InitPostgres(db DB, resolver CoinResolver, cfg *config.Postgres) *Postgres {
	if postgres.DB == nil {
		postgres = Postgres{DB: db, Resolver: resolver, Cfg: cfg}
	}
	return &postgres
}

// GetPostgres returns already prepared postgres instance.
func GetPostgres() (*Postgres, error) {
	if postgres.DB == nil {
		return nil, errors.New("postgres is not yet prepared")
	}
	return &postgres, nil
}

// CommitTicks implements Storage on top of WriteBatch.
func (p *Postgres) CommitTicks(ctx context.Context, data []Tick) error {
	_, err := p.WriteBatch(ctx, data)
	return err
}

// WriteBatch resolves coin ids and inserts one row per tick into the
// tick store, all in a single transaction. A tick whose symbol cannot
// be resolved is skipped (logged) and the rest of the batch proceeds;
// any insert failure rolls back the whole batch. Returns the number of
// rows committed. Safe to call concurrently from independent adapters.
func (p *Postgres) WriteBatch(ctx context.Context, data []Tick) (int, error) {
	type resolved struct {
		coinID int64
		tick   Tick
	}
	rows := make([]resolved, 0, len(data))
	for i := range data {
		t := data[i]
		if !t.Valid() {
			log.Warn().Str("exchange", t.Exchange).Str("symbol", t.Symbol).Msg("tick with no usable price dropped")
			continue
		}
		coinID, err := p.Resolver.Resolve(ctx, t.Symbol)
		if err != nil {
			log.Error().Err(err).Str("exchange", t.Exchange).Str("symbol", t.Symbol).Msg("coin resolution failed, tick skipped")
			continue
		}
		rows = append(rows, resolved{coinID: coinID, tick: t})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if p.Cfg != nil && p.Cfg.ReqTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.Cfg.ReqTimeoutSec)*time.Second)
		defer cancel()
	}

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "tick batch begin")
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		t := r.tick
		_, err := tx.Exec(ctx, insertTickSQL,
			r.coinID, t.Timestamp.UTC(), t.BestBid, t.BestAsk, t.BestBidQty, t.BestAskQty,
			t.MarkPrice, t.LastPrice, t.Exchange)
		if err != nil {
			return 0, errors.Wrap(err, "tick batch insert")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "tick batch commit")
	}
	return len(rows), nil
}

// SelectTicks reads one venue's captured series for a coin, ordered by
// timestamp ascending. Input for the reconciliation engine.
func (p *Postgres) SelectTicks(ctx context.Context, coinID int64, exchange string) ([]Tick, error) {
	rows, err := p.DB.Query(ctx, `SELECT timestamp, best_bid, best_ask, best_bid_qty, best_ask_qty,
 mark_price, last_price FROM coin_data_table WHERE coin_id = $1 AND exchange = $2 ORDER BY timestamp`,
		coinID, exchange)
	if err != nil {
		return nil, errors.Wrap(err, "tick series select")
	}
	defer rows.Close()

	var ticks []Tick
	for rows.Next() {
		t := Tick{Exchange: exchange}
		if err := rows.Scan(&t.Timestamp, &t.BestBid, &t.BestAsk, &t.BestBidQty, &t.BestAskQty,
			&t.MarkPrice, &t.LastPrice); err != nil {
			return nil, errors.Wrap(err, "tick series scan")
		}
		t.Timestamp = t.Timestamp.UTC()
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "tick series rows")
	}
	return ticks, nil
}

// SelectAlignedTimestamps returns the set of timestamps (unix
// milliseconds) already persisted in the aligned series for a coin.
// The reconciliation engine uses it as the incremental dedup key set.
func (p *Postgres) SelectAlignedTimestamps(ctx context.Context, coinID int64) (map[int64]struct{}, error) {
	rows, err := p.DB.Query(ctx, "SELECT timestamp FROM aligned_data_table WHERE coin_id = $1", coinID)
	if err != nil {
		return nil, errors.Wrap(err, "aligned timestamps select")
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, errors.Wrap(err, "aligned timestamps scan")
		}
		seen[ts.UnixMilli()] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "aligned timestamps rows")
	}
	return seen, nil
}

// CommitAligned inserts aligned rows for a coin in a single transaction.
// Unlike the live path, a failure here must surface to the caller so the
// reconciliation run can be retried wholesale.
func (p *Postgres) CommitAligned(ctx context.Context, coinID int64, data []AlignedRow) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "aligned batch begin")
	}
	defer tx.Rollback(ctx)

	for i := range data {
		r := data[i]
		_, err := tx.Exec(ctx, insertAlignedSQL,
			coinID, r.Timestamp.UTC(), r.BestBid, r.BestAsk, r.BestBidQty, r.BestAskQty,
			r.MarkPrice, r.LastPrice, r.PairBid, r.PairAsk, r.PairBidQty, r.PairAskQty, r.PairPrice)
		if err != nil {
			return 0, errors.Wrap(err, "aligned batch insert")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "aligned batch commit")
	}
	return len(data), nil
}
