package reconcile

import (
	"github.com/lucambottino/ec2-price-collector/internal/storage"
)

// Merge builds the aligned series for one instrument from the two venue
// series. Both inputs must be ordered by timestamp ascending. Each
// primary row is joined with the most recent secondary row observed at
// or before it, gaps inside either series are forward filled first, and
// rows whose timestamp is already in seen are dropped so repeated runs
// over the same data never produce duplicates.
func Merge(primary, secondary []storage.Tick, seen map[int64]struct{}) []storage.AlignedRow {
	joined := asofJoin(forwardFill(primary), forwardFill(secondary))

	out := make([]storage.AlignedRow, 0, len(joined))
	for _, r := range joined {
		if !resolved(r) {
			continue
		}
		key := r.Timestamp.UnixMilli()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// forwardFill carries the last observed value of each price column
// forward over rows where the venue did not report it. Book ticker and
// mark price arrive as separate messages, so raw rows are half empty.
// The input is not mutated.
func forwardFill(ticks []storage.Tick) []storage.Tick {
	out := make([]storage.Tick, len(ticks))
	var bid, ask, bidQty, askQty, mark, last *float64
	for i := range ticks {
		t := ticks[i]
		bid = fill(&t.BestBid, bid)
		ask = fill(&t.BestAsk, ask)
		bidQty = fill(&t.BestBidQty, bidQty)
		askQty = fill(&t.BestAskQty, askQty)
		mark = fill(&t.MarkPrice, mark)
		last = fill(&t.LastPrice, last)
		out[i] = t
	}
	return out
}

// fill replaces a nil field with a copy of the carried value and
// returns the value to carry forward.
func fill(field **float64, carried *float64) *float64 {
	if *field != nil {
		v := **field
		*field = &v
		return &v
	}
	if carried != nil {
		v := *carried
		*field = &v
	}
	return carried
}

// asofJoin attaches to every primary row the most recent secondary row
// with a timestamp at or before the primary row's. Primary rows older
// than the whole secondary series get nil pair fields.
func asofJoin(primary, secondary []storage.Tick) []storage.AlignedRow {
	out := make([]storage.AlignedRow, 0, len(primary))
	j := -1
	for i := range primary {
		p := primary[i]
		for j+1 < len(secondary) && !secondary[j+1].Timestamp.After(p.Timestamp) {
			j++
		}
		row := storage.AlignedRow{
			Timestamp:  p.Timestamp,
			BestBid:    p.BestBid,
			BestAsk:    p.BestAsk,
			BestBidQty: p.BestBidQty,
			BestAskQty: p.BestAskQty,
			MarkPrice:  p.MarkPrice,
			LastPrice:  p.LastPrice,
		}
		if j >= 0 {
			s := secondary[j]
			row.PairBid = s.BestBid
			row.PairAsk = s.BestAsk
			row.PairBidQty = s.BestBidQty
			row.PairAskQty = s.BestAskQty
			row.PairPrice = pairPrice(s)
		}
		out = append(out, row)
	}
	return out
}

// pairPrice picks the representative counterpart price, mark price when
// present, last traded otherwise.
func pairPrice(t storage.Tick) *float64 {
	if t.MarkPrice != nil {
		return t.MarkPrice
	}
	return t.LastPrice
}

// resolved reports whether a joined row carries both sides of the book
// on the primary venue and a counterpart quote. Rows from before the
// first observation of either series stay incomplete after forward
// filling and are not persisted.
func resolved(r storage.AlignedRow) bool {
	return r.BestBid != nil && r.BestAsk != nil && r.PairBid != nil && r.PairAsk != nil
}
