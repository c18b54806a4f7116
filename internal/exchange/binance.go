package exchange

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/buffer"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/lucambottino/ec2-price-collector/internal/connector"
	"github.com/lucambottino/ec2-price-collector/internal/storage"
	"github.com/lucambottino/ec2-price-collector/internal/symbols"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// StartBinance runs the binance feed adapter until the app context is
// canceled: the resilience manager drives the websocket session, the
// batch buffer collects normalized ticks and the drain goroutine
// commits detached batches to the configured storages.
func StartBinance(appCtx context.Context, src symbols.Source, exchCfg *config.Exchange, connCfg *config.Connection, stores []storage.Storage) error {
	buf := buffer.New(connCfg.Buffer.MaxSize, time.Duration(connCfg.Buffer.FlushIntervalMilli)*time.Millisecond)
	b := &binance{connCfg: connCfg, buf: buf}
	r := newResilience("binance", b, &exchCfg.Reconnect, src.Symbols())

	g, ctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		return r.run(ctx)
	})
	g.Go(func() error {
		return buf.Run(ctx)
	})
	g.Go(func() error {
		return drainBatches(ctx, "binance", stores, buf.Batches())
	})
	g.Go(func() error {
		return watchSymbols(ctx, src, r)
	})
	return g.Wait()
}

// watchSymbols forwards symbol universe changes into the resilience
// manager, which replays the subscription set on the next cycle.
func watchSymbols(ctx context.Context, src symbols.Source, r *resilience) error {
	updates := src.Updates()
	for {
		select {
		case syms, ok := <-updates:
			if !ok {
				return nil
			}
			r.update(syms)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type binance struct {
	connCfg *config.Connection
	buf     *buffer.Buffer

	mu    sync.Mutex
	ws    *connector.Websocket
	subID int
}

type wsSubBinance struct {
	Method string    `json:"method"`
	Params [1]string `json:"params"`
	ID     int       `json:"id"`
}

type wsRespBinance struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	BestBid     string `json:"b"`
	BestBidSize string `json:"B"`
	BestAsk     string `json:"a"`
	BestAskSize string `json:"A"`
	MarkPrice   string `json:"p"`
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	ID          int    `json:"id"`

	// These field values are not used but still need to be present
	// because otherwise json decoder does case-insensitive match
	// ("p" with "P", "i" with "I") and clobbers the used ones.
	SettlePrice string `json:"P"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
}

func (b *binance) connect(ctx context.Context) error {
	ws, err := connector.NewWebsocket(ctx, &b.connCfg.WS, config.BinanceFuturesWebsocketURL)
	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return err
	}
	b.mu.Lock()
	b.ws = &ws
	b.mu.Unlock()
	log.Info().Str("exchange", "binance").Msg("websocket connected")
	return nil
}

func (b *binance) close() error {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}

func (b *binance) conn() *connector.Websocket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ws
}

// subscribe sends book ticker and mark price channel subscriptions for
// every symbol in the set.
func (b *binance) subscribe(_ context.Context, syms []string) error {
	threshold := 0
	for _, sym := range syms {
		for _, channel := range [2]string{"bookTicker", "markPrice"} {
			if err := b.subWsChannel(sym, channel); err != nil {
				return err
			}

			// Maximum messages sent to a websocket connection per sec is 5.
			// So on a safer side, this will wait for 2 sec before proceeding
			// once it reaches ~90% of the limit.
			threshold++
			if threshold == 3 {
				log.Debug().Str("exchange", "binance").Int("count", threshold).Msg("subscribe threshold reached, waiting 2 sec")
				time.Sleep(2 * time.Second)
				threshold = 0
			}
		}
	}
	return nil
}

// subWsChannel sends a channel subscription request to the websocket server.
func (b *binance) subWsChannel(symbol string, channel string) error {
	b.mu.Lock()
	b.subID++
	id := b.subID
	ws := b.ws
	b.mu.Unlock()

	sub := wsSubBinance{
		Method: "SUBSCRIBE",
		Params: [1]string{strings.ToLower(symbol) + "@" + channel},
		ID:     id,
	}
	frame, err := jsoniter.Marshal(&sub)
	if err != nil {
		logErrStack(err)
		return err
	}
	if err := ws.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = errors.New("connection closed")
		} else {
			logErrStack(err)
		}
		return err
	}
	return nil
}

// pong answers the application level ping sent by the venue.
func (b *binance) pong() error {
	err := b.conn().Write([]byte("pong frame"))
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = errors.New("connection closed")
		} else {
			logErrStack(err)
		}
		return err
	}
	return nil
}

// stream reads book ticker / mark price frames, normalizes them into
// canonical ticks and feeds the batch buffer. A malformed frame is
// dropped and logged; only transport level failures end the stream.
func (b *binance) stream(ctx context.Context) error {
	ws := b.conn()
	for {
		select {
		default:
			frame, err := ws.Read()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					err = errors.New("connection closed")
				} else {
					if err == io.EOF {
						err = errors.Wrap(err, "connection close by exchange server")
					}
					logErrStack(err)
				}
				return err
			}
			if len(frame) == 0 {
				continue
			}

			if len(frame) >= 4 && string(frame[:4]) == "ping" {
				log.Info().Str("exchange", "binance").Str("func", "ping").Msg(string(frame))
				if err := b.pong(); err != nil {
					return err
				}
				continue
			}

			wr := wsRespBinance{}
			if err := jsoniter.Unmarshal(frame, &wr); err != nil {
				log.Debug().Str("exchange", "binance").Str("func", "stream").Msg(string(frame))
				logErrStack(err)
				continue
			}

			if wr.ID != 0 {
				log.Debug().Str("exchange", "binance").Str("func", "stream").Int("id", wr.ID).Msg("channel subscribed")
				continue
			}
			if wr.Msg != "" {
				log.Error().Str("exchange", "binance").Str("func", "stream").Int("code", wr.Code).Str("msg", wr.Msg).Msg("")
				return errors.New("binance websocket error")
			}

			var (
				tick storage.Tick
				nerr error
			)
			switch wr.Event {
			case "bookTicker":
				tick, nerr = normalizeBinanceBookTicker(&wr)
			case "markPriceUpdate":
				tick, nerr = normalizeBinanceMarkPrice(&wr)
			default:
				continue
			}
			if nerr != nil {
				log.Error().Err(nerr).Str("exchange", "binance").Str("symbol", wr.Symbol).Str("op", wr.Event).Msg("message dropped")
				continue
			}
			b.buf.Add(ctx, tick)

		// Return, if there is any error from another function or exchange.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// normalizeBinanceBookTicker converts a book ticker frame into a
// canonical tick: bid/ask fields populated, mark/last null. Event time
// is the venue's event timestamp, not the local receive time.
func normalizeBinanceBookTicker(wr *wsRespBinance) (storage.Tick, error) {
	bid, err := parsePrice(wr.BestBid)
	if err != nil {
		return storage.Tick{}, err
	}
	ask, err := parsePrice(wr.BestAsk)
	if err != nil {
		return storage.Tick{}, err
	}
	bidQty, err := parsePrice(wr.BestBidSize)
	if err != nil {
		return storage.Tick{}, err
	}
	askQty, err := parsePrice(wr.BestAskSize)
	if err != nil {
		return storage.Tick{}, err
	}
	if wr.EventTime == 0 {
		return storage.Tick{}, errors.New("missing event time")
	}
	tick := storage.Tick{
		Symbol:     wr.Symbol,
		Exchange:   storage.ExchangeBinance,
		Timestamp:  time.UnixMilli(wr.EventTime).UTC(),
		BestBid:    &bid,
		BestAsk:    &ask,
		BestBidQty: &bidQty,
		BestAskQty: &askQty,
	}
	if !tick.Valid() {
		return storage.Tick{}, errors.New("tick with no usable price")
	}
	return tick, nil
}

// normalizeBinanceMarkPrice converts a mark price frame into a
// canonical tick: mark and last price populated (mirrored), bid/ask null.
func normalizeBinanceMarkPrice(wr *wsRespBinance) (storage.Tick, error) {
	mark, err := parsePrice(wr.MarkPrice)
	if err != nil {
		return storage.Tick{}, err
	}
	if wr.EventTime == 0 {
		return storage.Tick{}, errors.New("missing event time")
	}
	last := mark
	tick := storage.Tick{
		Symbol:    wr.Symbol,
		Exchange:  storage.ExchangeBinance,
		Timestamp: time.UnixMilli(wr.EventTime).UTC(),
		MarkPrice: &mark,
		LastPrice: &last,
	}
	if !tick.Valid() {
		return storage.Tick{}, errors.New("tick with no usable price")
	}
	return tick, nil
}
