package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/lucambottino/ec2-price-collector/internal/storage"
)

func tick(sym string, bid float64) storage.Tick {
	return storage.Tick{
		Symbol:    sym,
		Exchange:  storage.ExchangeBinance,
		Timestamp: time.Now().UTC(),
		BestBid:   storage.Float(bid),
	}
}

func TestSizeThresholdFlush(t *testing.T) {
	ctx := context.Background()
	b := New(3, time.Hour)

	b.Add(ctx, tick("BTCUSDT", 1))
	b.Add(ctx, tick("BTCUSDT", 2))
	if b.Len() != 2 {
		t.Errorf("expected 2 buffered ticks, got %v", b.Len())
	}
	select {
	case batch := <-b.Batches():
		t.Errorf("unexpected batch of %v before threshold", len(batch))
	default:
	}

	b.Add(ctx, tick("BTCUSDT", 3))
	select {
	case batch := <-b.Batches():
		if len(batch) != 3 {
			t.Errorf("expected batch of 3, got %v", len(batch))
		}
	case <-time.After(time.Second):
		t.Errorf("no batch after size threshold")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after flush, got %v", b.Len())
	}
}

func TestFlushDetachesBatch(t *testing.T) {
	ctx := context.Background()
	b := New(100, time.Hour)

	b.Add(ctx, tick("ETHUSDT", 1))
	b.Flush(ctx)
	select {
	case batch := <-b.Batches():
		if len(batch) != 1 {
			t.Errorf("expected batch of 1, got %v", len(batch))
		}
	case <-time.After(time.Second):
		t.Errorf("no batch after flush")
	}

	// Flushing an empty buffer must not hand over an empty batch.
	b.Flush(ctx)
	select {
	case batch := <-b.Batches():
		t.Errorf("unexpected empty-buffer batch of %v", len(batch))
	default:
	}
}

func TestIntervalFlush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(100, 20*time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	b.Add(ctx, tick("BTCUSDT", 1))
	select {
	case batch := <-b.Batches():
		if len(batch) != 1 {
			t.Errorf("expected batch of 1, got %v", len(batch))
		}
	case <-time.After(time.Second):
		t.Errorf("no batch after interval")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled from Run, got %v", err)
		}
	case <-time.After(time.Second):
		t.Errorf("Run did not return after cancel")
	}
}

func TestAddAfterShutdownDropsTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(1, time.Hour)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	// A late frame crossing the size threshold must be dropped, not
	// sent on the torn down channel.
	b.Add(context.Background(), tick("BTCUSDT", 1))
	if b.Len() != 0 {
		t.Errorf("expected post-shutdown tick dropped, got %v buffered", b.Len())
	}
	if _, ok := <-b.Batches(); ok {
		t.Errorf("expected closed batch channel after shutdown")
	}
}

func TestShutdownWithUndrainedBatchKeepsChannelUsable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(1, time.Hour)

	// Fill the hand-over channel so the final flush cannot deliver.
	b.Add(ctx, tick("BTCUSDT", 1))
	b.mu.Lock()
	b.ticks = append(b.ticks, tick("BTCUSDT", 2))
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	batch, ok := <-b.Batches()
	if !ok || len(batch) != 1 {
		t.Errorf("expected the pending batch intact, got ok=%v len=%v", ok, len(batch))
	}
	if _, ok := <-b.Batches(); ok {
		t.Errorf("expected closed channel after the dropped final flush")
	}
}

func TestFinalFlushAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New(100, time.Hour)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	b.Add(ctx, tick("BTCUSDT", 1))
	b.Add(ctx, tick("BTCUSDT", 2))
	cancel()
	<-done

	batch, ok := <-b.Batches()
	if !ok {
		t.Fatalf("expected final batch before close")
	}
	if len(batch) != 2 {
		t.Errorf("expected final batch of 2, got %v", len(batch))
	}
	if _, ok := <-b.Batches(); ok {
		t.Errorf("expected closed batch channel after final flush")
	}
}
