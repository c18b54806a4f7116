package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// uniqueViolation is the postgres error code raised when two processes
// race to insert the same coin name.
const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the registry needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Registry resolves instrument symbols to durable coin ids backed by
// coins_table. A coin row is created lazily on first sighting of a new
// symbol, assigned once and never reused. Resolved ids are cached in
// process memory; symbols are immutable once created so cache entries
// never expire.
type Registry struct {
	db DB

	mu    sync.RWMutex
	cache map[string]int64
}

// New creates a coin registry on top of the given store.
func New(db DB) *Registry {
	return &Registry{
		db:    db,
		cache: make(map[string]int64),
	}
}

// Resolve returns the coin id for the symbol, creating the coin row on
// first sighting. Lookup is case-insensitive; symbols are stored upper
// cased. Safe for concurrent use from every adapter and the
// reconciliation engine.
func (r *Registry) Resolve(ctx context.Context, symbol string) (int64, error) {
	name := strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" {
		return 0, errors.New("empty symbol")
	}

	r.mu.RLock()
	id, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.resolveDB(ctx, name)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cache[name] = id
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) resolveDB(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, "SELECT coin_id FROM coins_table WHERE upper(coin_name) = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrap(err, "coin lookup")
	}

	err = r.db.QueryRow(ctx, "INSERT INTO coins_table (coin_name) VALUES ($1) RETURNING coin_id", name).Scan(&id)
	if err == nil {
		log.Info().Str("coin", name).Int64("coin_id", id).Msg("new coin registered")
		return id, nil
	}

	// Concurrent miss for the same symbol: exactly one insert wins the
	// uniqueness constraint, the loser re-reads the winner's row.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if err := r.db.QueryRow(ctx, "SELECT coin_id FROM coins_table WHERE upper(coin_name) = $1", name).Scan(&id); err != nil {
			return 0, errors.Wrap(err, "coin re-read after conflict")
		}
		return id, nil
	}
	return 0, errors.Wrap(err, "coin insert")
}

// CacheSize returns the number of symbols resolved so far in this process.
func (r *Registry) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
