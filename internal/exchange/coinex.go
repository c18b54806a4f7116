package exchange

import (
	"context"
	"io"
	"net"
	"os"
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

// coinexPingInterval keeps the signed connection alive, the venue drops
// idle connections after a minute.
const coinexPingInterval = 20 * time.Second

// StartCoinex runs the coinex feed adapter until the app context is
// canceled. Credentials come from the exchange config, with
// COINEX_ACCESS_ID / COINEX_SIGNED_STR environment variables as
// fallback. Each tick carries the counterpart binance price fetched
// through a short lived REST cache.
func StartCoinex(appCtx context.Context, src symbols.Source, exchCfg *config.Exchange, connCfg *config.Connection, stores []storage.Storage) error {
	accessID := exchCfg.Auth.AccessID
	if accessID == "" {
		accessID = os.Getenv("COINEX_ACCESS_ID")
	}
	signedStr := exchCfg.Auth.SignedStr
	if signedStr == "" {
		signedStr = os.Getenv("COINEX_SIGNED_STR")
	}
	if accessID == "" || signedStr == "" {
		return errors.New("coinex credentials not configured")
	}

	rest, err := connector.GetREST()
	if err != nil {
		logErrStack(err)
		return err
	}

	buf := buffer.New(connCfg.Buffer.MaxSize, time.Duration(connCfg.Buffer.FlushIntervalMilli)*time.Millisecond)
	c := &coinex{
		connCfg:   connCfg,
		buf:       buf,
		accessID:  accessID,
		signedStr: signedStr,
		now:       func() int64 { return time.Now().UnixMilli() },
		pairPrice: newPairPriceCache(rest, 2*time.Second).lookup,
	}
	r := newResilience("coinex", c, &exchCfg.Reconnect, src.Symbols())

	g, ctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		return r.run(ctx)
	})
	g.Go(func() error {
		return buf.Run(ctx)
	})
	g.Go(func() error {
		return drainBatches(ctx, "coinex", stores, buf.Batches())
	})
	g.Go(func() error {
		return watchSymbols(ctx, src, r)
	})
	return g.Wait()
}

type coinex struct {
	connCfg   *config.Connection
	buf       *buffer.Buffer
	accessID  string
	signedStr string

	// now and pairPrice are swappable in tests.
	now       func() int64
	pairPrice pairPriceFunc

	mu    sync.Mutex
	ws    *connector.Websocket
	reqID int
}

// pairPriceFunc resolves the counterpart venue price for a symbol.
// It returns nil when no price is available, the tick is emitted anyway.
type pairPriceFunc func(ctx context.Context, symbol string) *float64

type wsReqCoinex struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
	ID     int         `json:"id"`
}

type wsAuthParamsCoinex struct {
	AccessID  string `json:"access_id"`
	SignedStr string `json:"signed_str"`
	Timestamp int64  `json:"timestamp"`
}

type wsSubParamsCoinex struct {
	MarketList []string `json:"market_list"`
}

type wsRespCoinex struct {
	Method  string          `json:"method"`
	Data    wsBBODataCoinex `json:"data"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	ID      int             `json:"id"`
}

type wsBBODataCoinex struct {
	Market       string `json:"market"`
	UpdatedAt    int64  `json:"updated_at"`
	BestBidPrice string `json:"best_bid_price"`
	BestBidSize  string `json:"best_bid_size"`
	BestAskPrice string `json:"best_ask_price"`
	BestAskSize  string `json:"best_ask_size"`
}

func (c *coinex) connect(ctx context.Context) error {
	ws, err := connector.NewWebsocket(ctx, &c.connCfg.WS, config.CoinexFuturesWebsocketURL)
	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return err
	}
	c.mu.Lock()
	c.ws = &ws
	c.mu.Unlock()
	log.Info().Str("exchange", "coinex").Msg("websocket connected")
	return nil
}

func (c *coinex) close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}

func (c *coinex) conn() *connector.Websocket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

func (c *coinex) nextID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqID++
	return c.reqID
}

// authenticate sends the server.sign request. Subscriptions are only
// accepted on a signed connection.
func (c *coinex) authenticate(_ context.Context) error {
	req := authRequestCoinex(c.accessID, c.signedStr, c.now(), c.nextID())
	if err := c.write(&req); err != nil {
		return err
	}
	log.Info().Str("exchange", "coinex").Msg("sign request sent")
	return nil
}

// authRequestCoinex builds the signed handshake frame.
func authRequestCoinex(accessID, signedStr string, timestampMilli int64, id int) wsReqCoinex {
	return wsReqCoinex{
		Method: "server.sign",
		Params: wsAuthParamsCoinex{
			AccessID:  accessID,
			SignedStr: signedStr,
			Timestamp: timestampMilli,
		},
		ID: id,
	}
}

// subscribe requests bbo updates for the whole symbol set in one frame.
func (c *coinex) subscribe(_ context.Context, syms []string) error {
	req := wsReqCoinex{
		Method: "bbo.subscribe",
		Params: wsSubParamsCoinex{MarketList: syms},
		ID:     c.nextID(),
	}
	if err := c.write(&req); err != nil {
		return err
	}
	log.Debug().Str("exchange", "coinex").Int("markets", len(syms)).Msg("bbo subscribe sent")
	return nil
}

func (c *coinex) write(req *wsReqCoinex) error {
	frame, err := jsoniter.Marshal(req)
	if err != nil {
		logErrStack(err)
		return err
	}
	if err := c.conn().Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = errors.New("connection closed")
		} else {
			logErrStack(err)
		}
		return err
	}
	return nil
}

// pingWs sends server.ping on an interval as long as the stream lives.
func (c *coinex) pingWs(ctx context.Context) error {
	tick := time.NewTicker(coinexPingInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			req := wsReqCoinex{Method: "server.ping", Params: struct{}{}, ID: c.nextID()}
			if err := c.write(&req); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stream reads bbo frames, which arrive gzip compressed in binary
// messages, normalizes them and feeds the batch buffer. A malformed
// frame is dropped and logged; only transport level failures end the
// stream.
func (c *coinex) stream(ctx context.Context) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = c.pingWs(pingCtx)
	}()

	ws := c.conn()
	for {
		select {
		default:
			frame, err := ws.ReadTextOrGzipBinary()
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

			wr := wsRespCoinex{}
			if err := jsoniter.Unmarshal(frame, &wr); err != nil {
				log.Debug().Str("exchange", "coinex").Str("func", "stream").Msg(string(frame))
				logErrStack(err)
				continue
			}

			if wr.Method == "" {
				if wr.Code != 0 {
					log.Error().Str("exchange", "coinex").Str("func", "stream").Int("code", wr.Code).Str("msg", wr.Message).Msg("")
					return errors.New("coinex websocket error")
				}
				log.Debug().Str("exchange", "coinex").Str("func", "stream").Int("id", wr.ID).Msg("request acknowledged")
				continue
			}
			if wr.Method != "bbo.update" {
				continue
			}

			pair := c.pairPrice(ctx, wr.Data.Market)
			tick, nerr := normalizeCoinexBBO(&wr.Data, pair)
			if nerr != nil {
				log.Error().Err(nerr).Str("exchange", "coinex").Str("symbol", wr.Data.Market).Str("op", wr.Method).Msg("message dropped")
				continue
			}
			c.buf.Add(ctx, tick)

		// Return, if there is any error from another function or exchange.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// normalizeCoinexBBO converts a bbo frame into a canonical tick. The
// counterpart venue price, when known, fills the mark and last price
// fields; when nil those fields stay null and the tick is still valid
// through its bid side.
func normalizeCoinexBBO(d *wsBBODataCoinex, pairPrice *float64) (storage.Tick, error) {
	bid, err := parsePrice(d.BestBidPrice)
	if err != nil {
		return storage.Tick{}, err
	}
	ask, err := parsePrice(d.BestAskPrice)
	if err != nil {
		return storage.Tick{}, err
	}
	bidQty, err := parsePrice(d.BestBidSize)
	if err != nil {
		return storage.Tick{}, err
	}
	askQty, err := parsePrice(d.BestAskSize)
	if err != nil {
		return storage.Tick{}, err
	}
	if d.UpdatedAt == 0 {
		return storage.Tick{}, errors.New("missing update time")
	}
	tick := storage.Tick{
		Symbol:     d.Market,
		Exchange:   storage.ExchangeCoinex,
		Timestamp:  time.UnixMilli(d.UpdatedAt).UTC(),
		BestBid:    &bid,
		BestAsk:    &ask,
		BestBidQty: &bidQty,
		BestAskQty: &askQty,
	}
	if pairPrice != nil {
		mark := *pairPrice
		last := *pairPrice
		tick.MarkPrice = &mark
		tick.LastPrice = &last
	}
	if !tick.Valid() {
		return storage.Tick{}, errors.New("tick with no usable price")
	}
	return tick, nil
}

// pairPriceCache caches the binance futures symbol price for a short
// interval so that a burst of bbo frames for the same market costs one
// REST call, not one per frame. Failed attempts are cached for the same
// interval, a venue outage must not turn every frame into a blocking
// fetch inside the read loop.
type pairPriceCache struct {
	rest *connector.REST
	ttl  time.Duration

	// fetch is swappable in tests.
	fetch func(ctx context.Context, symbol string) (float64, error)

	mu     sync.Mutex
	prices map[string]pairPriceEntry
}

type pairPriceEntry struct {
	price    float64
	hasPrice bool
	fetched  time.Time
}

type restPriceRespBinance struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func newPairPriceCache(rest *connector.REST, ttl time.Duration) *pairPriceCache {
	c := &pairPriceCache{
		rest:   rest,
		ttl:    ttl,
		prices: make(map[string]pairPriceEntry),
	}
	c.fetch = c.fetchREST
	return c
}

// lookup returns the cached price when the entry is fresh, otherwise
// refreshes it over REST. A failed refresh reuses the stale value if
// one exists (nil otherwise) and is itself cached, so further frames
// inside the interval skip the fetch entirely.
func (c *pairPriceCache) lookup(ctx context.Context, symbol string) *float64 {
	c.mu.Lock()
	entry, ok := c.prices[symbol]
	c.mu.Unlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		if !entry.hasPrice {
			return nil
		}
		p := entry.price
		return &p
	}

	price, err := c.fetch(ctx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("exchange", "binance").Str("symbol", symbol).Msg("pair price lookup failed")
		c.mu.Lock()
		c.prices[symbol] = pairPriceEntry{price: entry.price, hasPrice: ok && entry.hasPrice, fetched: time.Now()}
		c.mu.Unlock()
		if ok && entry.hasPrice {
			p := entry.price
			return &p
		}
		return nil
	}

	c.mu.Lock()
	c.prices[symbol] = pairPriceEntry{price: price, hasPrice: true, fetched: time.Now()}
	c.mu.Unlock()
	return &price
}

func (c *pairPriceCache) fetchREST(ctx context.Context, symbol string) (float64, error) {
	req, err := c.rest.Request(ctx, "GET", config.BinanceFuturesRESTBaseURL+"ticker/price")
	if err != nil {
		return 0, err
	}
	q := req.URL.Query()
	q.Add("symbol", symbol)
	req.URL.RawQuery = q.Encode()

	resp, err := c.rest.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	pr := restPriceRespBinance{}
	if err := jsoniter.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, err
	}
	return parsePrice(pr.Price)
}
