package storage

import (
	"context"
	"time"
)

// Exchange names used in the Exchange field of a Tick and in the
// exchange column of the tick store.
const (
	ExchangeBinance = "BINANCE"
	ExchangeCoinex  = "COINEX"
)

// Tick represents one normalized price / book observation for an
// instrument at a point in time, ready to store.
// A single venue message may carry only book ticker fields or only mark
// price fields, so every price field is nullable (nil pointer).
// Timestamp is the venue event time in UTC, not the local receive time.
type Tick struct {
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	Timestamp  time.Time `json:"timestamp"`
	BestBid    *float64  `json:"best_bid"`
	BestAsk    *float64  `json:"best_ask"`
	BestBidQty *float64  `json:"best_bid_qty"`
	BestAskQty *float64  `json:"best_ask_qty"`
	MarkPrice  *float64  `json:"mark_price"`
	LastPrice  *float64  `json:"last_price"`
}

// Valid reports whether the tick carries at least one usable price.
// A tick with neither a best bid nor a mark price is dropped, never stored.
func (t Tick) Valid() bool {
	return t.BestBid != nil || t.MarkPrice != nil
}

// AlignedRow is the reconciliation output for one instrument: the union
// of one BINANCE tick and the most recent COINEX tick observed at or
// before it. Rows are keyed by Timestamp and immutable once persisted.
type AlignedRow struct {
	Timestamp  time.Time `json:"timestamp"`
	BestBid    *float64  `json:"best_bid"`
	BestAsk    *float64  `json:"best_ask"`
	BestBidQty *float64  `json:"best_bid_qty"`
	BestAskQty *float64  `json:"best_ask_qty"`
	MarkPrice  *float64  `json:"mark_price"`
	LastPrice  *float64  `json:"last_price"`
	PairBid    *float64  `json:"pair_bid"`
	PairAsk    *float64  `json:"pair_ask"`
	PairBidQty *float64  `json:"pair_bid_qty"`
	PairAskQty *float64  `json:"pair_ask_qty"`
	PairPrice  *float64  `json:"pair_price"`
}

// Storage represents different storage options where normalized tick
// data can be committed. Implementations must be safe for concurrent
// use from every adapter.
type Storage interface {
	CommitTicks(ctx context.Context, data []Tick) error
}

// Float returns a pointer to v. Helper for building nullable tick fields.
func Float(v float64) *float64 {
	return &v
}
