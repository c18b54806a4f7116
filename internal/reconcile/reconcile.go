// Package reconcile periodically joins the two venue tick series per
// instrument into one aligned series and persists the new rows.
package reconcile

import (
	"context"
	"time"

	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/lucambottino/ec2-price-collector/internal/storage"
	"github.com/lucambottino/ec2-price-collector/internal/symbols"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store is the subset of the postgres store the engine reads and writes.
type Store interface {
	SelectTicks(ctx context.Context, coinID int64, exchange string) ([]storage.Tick, error)
	SelectAlignedTimestamps(ctx context.Context, coinID int64) (map[int64]struct{}, error)
	CommitAligned(ctx context.Context, coinID int64, data []storage.AlignedRow) (int, error)
}

// Engine runs the reconciliation job on an interval over the symbol
// universe. Unlike the live write path, a failed run is logged loudly
// and retried wholesale on the next interval, nothing is partially
// committed.
type Engine struct {
	store    Store
	resolver storage.CoinResolver
	src      symbols.Source
	interval time.Duration
}

// New returns an engine over the given store and symbol universe.
func New(store Store, resolver storage.CoinResolver, src symbols.Source, cfg *config.Reconcile) *Engine {
	interval := time.Duration(cfg.RunIntSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		src:      src,
		interval: interval,
	}
}

// Run executes reconciliation on the configured interval until the
// context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	tick := time.NewTicker(e.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if err := e.RunOnce(ctx); err != nil {
				if errors.Is(err, ctx.Err()) {
					return err
				}
				log.Error().Stack().Err(errors.WithStack(err)).Msg("reconciliation run failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce reconciles every symbol in the current universe. The first
// failure aborts the run, remaining symbols wait for the next interval.
func (e *Engine) RunOnce(ctx context.Context) error {
	for _, sym := range e.src.Symbols() {
		if err := e.reconcileSymbol(ctx, sym); err != nil {
			return errors.Wrapf(err, "reconcile %s", sym)
		}
	}
	return nil
}

func (e *Engine) reconcileSymbol(ctx context.Context, symbol string) error {
	coinID, err := e.resolver.Resolve(ctx, symbol)
	if err != nil {
		return err
	}

	primary, err := e.store.SelectTicks(ctx, coinID, storage.ExchangeBinance)
	if err != nil {
		return err
	}
	if len(primary) == 0 {
		return nil
	}
	secondary, err := e.store.SelectTicks(ctx, coinID, storage.ExchangeCoinex)
	if err != nil {
		return err
	}

	seen, err := e.store.SelectAlignedTimestamps(ctx, coinID)
	if err != nil {
		return err
	}

	rows := Merge(primary, secondary, seen)
	if len(rows) == 0 {
		return nil
	}
	n, err := e.store.CommitAligned(ctx, coinID, rows)
	if err != nil {
		return err
	}
	log.Info().Str("symbol", symbol).Int64("coin_id", coinID).Int("rows", n).Msg("aligned series extended")
	return nil
}
