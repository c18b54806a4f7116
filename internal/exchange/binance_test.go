package exchange

import (
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
)

func TestNormalizeBinanceBookTicker(t *testing.T) {
	frame := []byte(`{"e":"bookTicker","u":400900217,"E":1568014460893,"T":1568014460891,` +
		`"s":"BNBUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}`)
	wr := wsRespBinance{}
	if err := jsoniter.Unmarshal(frame, &wr); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}

	tick, err := normalizeBinanceBookTicker(&wr)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if tick.Symbol != "BNBUSDT" {
		t.Errorf("expected symbol BNBUSDT, got %v", tick.Symbol)
	}
	if tick.Exchange != "BINANCE" {
		t.Errorf("expected exchange BINANCE, got %v", tick.Exchange)
	}
	if !tick.Timestamp.Equal(time.UnixMilli(1568014460893).UTC()) {
		t.Errorf("expected the event time as timestamp, got %v", tick.Timestamp)
	}
	if tick.BestBid == nil || *tick.BestBid != 25.3519 {
		t.Errorf("expected best bid 25.3519, got %v", tick.BestBid)
	}
	if tick.BestAskQty == nil || *tick.BestAskQty != 40.66 {
		t.Errorf("expected best ask qty 40.66, got %v", tick.BestAskQty)
	}
	if tick.MarkPrice != nil || tick.LastPrice != nil {
		t.Errorf("expected null mark and last price on a book ticker tick")
	}
}

func TestNormalizeBinanceMarkPrice(t *testing.T) {
	frame := []byte(`{"e":"markPriceUpdate","E":1562305380000,"s":"BTCUSDT","p":"11794.15000000",` +
		`"i":"11784.62659091","P":"11784.25641265","r":"0.00038167","T":1562306400000}`)
	wr := wsRespBinance{}
	if err := jsoniter.Unmarshal(frame, &wr); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}

	tick, err := normalizeBinanceMarkPrice(&wr)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if tick.MarkPrice == nil || *tick.MarkPrice != 11794.15 {
		t.Errorf("expected mark price 11794.15, got %v", tick.MarkPrice)
	}
	if tick.LastPrice == nil || *tick.LastPrice != 11794.15 {
		t.Errorf("expected last price mirrored from mark, got %v", tick.LastPrice)
	}
	if tick.BestBid != nil || tick.BestAsk != nil {
		t.Errorf("expected null book fields on a mark price tick")
	}
}

func TestNormalizeBinanceMissingEventTime(t *testing.T) {
	wr := wsRespBinance{Event: "bookTicker", Symbol: "BTCUSDT", BestBid: "10", BestBidSize: "1", BestAsk: "10.5", BestAskSize: "1"}
	if _, err := normalizeBinanceBookTicker(&wr); err == nil {
		t.Errorf("expected error for missing event time")
	}
}

func TestNormalizeBinanceBadPrice(t *testing.T) {
	wr := wsRespBinance{Event: "bookTicker", EventTime: 1568014460893, Symbol: "BTCUSDT",
		BestBid: "not-a-number", BestBidSize: "1", BestAsk: "10.5", BestAskSize: "1"}
	if _, err := normalizeBinanceBookTicker(&wr); err == nil {
		t.Errorf("expected error for malformed price")
	}
}

func TestBinanceSubscribeFrame(t *testing.T) {
	sub := wsSubBinance{Method: "SUBSCRIBE", Params: [1]string{"btcusdt@bookTicker"}, ID: 1}
	frame, err := jsoniter.Marshal(&sub)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	want := `{"method":"SUBSCRIBE","params":["btcusdt@bookTicker"],"id":1}`
	if string(frame) != want {
		t.Errorf("expected %v, got %v", want, string(frame))
	}
}
