package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/lucambottino/ec2-price-collector/internal/storage"
	"github.com/rs/zerolog/log"
)

// Buffer accumulates normalized ticks for one adapter in arrival order
// and flushes them as a batch when the configured size is reached or the
// flush interval elapses, whichever comes first. A flush atomically
// swaps the slice for an empty one, so ticks arriving during a flush
// land in the next batch and never block on the commit.
type Buffer struct {
	max      int
	interval time.Duration

	mu     sync.Mutex
	ticks  []storage.Tick
	closed bool

	out chan []storage.Tick
}

// New creates a buffer flushing at max ticks or every interval.
func New(max int, interval time.Duration) *Buffer {
	if max < 1 {
		max = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Buffer{
		max:      max,
		interval: interval,
		ticks:    make([]storage.Tick, 0, max),
		out:      make(chan []storage.Tick, 1),
	}
}

// Batches returns the channel detached batches are handed over on.
// The channel is closed after the final flush when Run returns.
func (b *Buffer) Batches() <-chan []storage.Tick {
	return b.out
}

// Add appends a tick. When the size threshold is reached the current
// batch is detached and handed over immediately. A tick arriving after
// shutdown is dropped, a late frame must not panic the adapter.
func (b *Buffer) Add(ctx context.Context, t storage.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		log.Debug().Str("exchange", t.Exchange).Str("symbol", t.Symbol).Msg("tick after buffer shutdown dropped")
		return
	}
	b.ticks = append(b.ticks, t)
	if len(b.ticks) >= b.max {
		b.sendLocked(ctx, b.detachLocked())
	}
}

// Run drives the interval flush until ctx is canceled, then performs a
// final flush and closes the batch channel so the drain side can finish
// in-flight commits before storage teardown.
func (b *Buffer) Run(ctx context.Context) error {
	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			b.Flush(ctx)
		case <-ctx.Done():
			b.mu.Lock()
			batch := b.detachLocked()
			b.closed = true
			if batch != nil {
				// Best effort hand-over of the tail; the context is
				// already canceled so do not wait on a full channel.
				select {
				case b.out <- batch:
				default:
					log.Error().Int("batch", len(batch)).Msg("final flush dropped, drain side not keeping up")
				}
			}
			close(b.out)
			b.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Flush detaches the currently buffered ticks, if any, and hands them over.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if batch := b.detachLocked(); batch != nil {
		b.sendLocked(ctx, batch)
	}
}

// Len returns the number of ticks waiting in the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

func (b *Buffer) detachLocked() []storage.Tick {
	if len(b.ticks) == 0 {
		return nil
	}
	batch := b.ticks
	b.ticks = make([]storage.Tick, 0, b.max)
	return batch
}

// sendLocked hands a detached batch over while still holding the mutex,
// which serializes it against Run's shutdown path: the channel can only
// close once no sender is inside this method. The drain side never
// takes the mutex, so a send blocked on a full channel still drains.
func (b *Buffer) sendLocked(ctx context.Context, batch []storage.Tick) {
	select {
	case b.out <- batch:
	case <-ctx.Done():
		log.Error().Int("batch", len(batch)).Msg("batch dropped, shutdown during hand-over")
	}
}
