package storage

import (
	"testing"
	"time"
)

func TestTickValid(t *testing.T) {
	ts := time.Now().UTC()
	tests := []struct {
		name string
		tick Tick
		want bool
	}{
		{
			name: "book ticker only",
			tick: Tick{Symbol: "BTCUSDT", Timestamp: ts, BestBid: Float(10), BestAsk: Float(10.5)},
			want: true,
		},
		{
			name: "mark price only",
			tick: Tick{Symbol: "BTCUSDT", Timestamp: ts, MarkPrice: Float(10.2)},
			want: true,
		},
		{
			name: "no usable price",
			tick: Tick{Symbol: "BTCUSDT", Timestamp: ts, BestAskQty: Float(1)},
			want: false,
		},
		{
			name: "empty",
			tick: Tick{},
			want: false,
		},
	}
	for _, tt := range tests {
		if got := tt.tick.Valid(); got != tt.want {
			t.Errorf("%v : expected valid=%v, got %v", tt.name, tt.want, got)
		}
	}
}
