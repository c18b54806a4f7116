// Package symbols provides the symbol universe for the feed adapters,
// either a fixed list from config or a periodically refreshed list from
// a catalog service.
package symbols

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/lucambottino/ec2-price-collector/internal/connector"
	"github.com/rs/zerolog/log"
)

// Source is the symbol universe seen by a feed adapter. Symbols returns
// the current set, Updates delivers replacement sets when the universe
// changes. A source that never changes may return a nil channel.
type Source interface {
	Symbols() []string
	Updates() <-chan []string
}

// Static is a fixed symbol universe from config.
type Static struct {
	symbols []string
}

// NewStatic returns a source over a fixed list.
func NewStatic(syms []string) *Static {
	return &Static{symbols: normalize(syms)}
}

// Symbols returns the configured list.
func (s *Static) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Updates returns nil, a static universe never changes.
func (s *Static) Updates() <-chan []string {
	return nil
}

// Catalog polls a catalog service for the symbol universe. A failed or
// empty poll keeps the previous set, only a changed non-empty set is
// published.
type Catalog struct {
	rest     *connector.REST
	url      string
	interval time.Duration

	mu      sync.Mutex
	current []string
	subs    []chan []string
}

type catalogEntry struct {
	CoinID   int64  `json:"coin_id"`
	CoinName string `json:"coin_name"`
}

// NewCatalog returns a catalog source seeded with the static list,
// which serves until the first successful poll.
func NewCatalog(rest *connector.REST, cfg *config.Symbols) *Catalog {
	interval := time.Duration(cfg.RefreshIntSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Catalog{
		rest:     rest,
		url:      cfg.CatalogURL,
		interval: interval,
		current:  normalize(cfg.Static),
	}
}

// Symbols returns the current set.
func (c *Catalog) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.current))
	copy(out, c.current)
	return out
}

// Updates registers a new subscriber. Every feed adapter holds its own
// channel, a published set reaches all of them. A subscriber that has
// not drained the previous set only sees the latest one.
func (c *Catalog) Updates() <-chan []string {
	ch := make(chan []string, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Run polls the catalog until the context is canceled.
func (c *Catalog) Run(ctx context.Context) error {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			c.Refresh(ctx)
		case <-ctx.Done():
			c.mu.Lock()
			for _, ch := range c.subs {
				close(ch)
			}
			c.subs = nil
			c.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Refresh polls the catalog once and publishes the set if it changed.
func (c *Catalog) Refresh(ctx context.Context) {
	syms, err := c.fetch(ctx)
	if err != nil {
		log.Error().Err(err).Str("func", "Refresh").Msg("catalog poll failed, keeping previous symbol set")
		return
	}
	if len(syms) == 0 {
		log.Warn().Str("func", "Refresh").Msg("catalog returned empty symbol set, keeping previous")
		return
	}

	c.mu.Lock()
	changed := !equalSets(c.current, syms)
	if changed {
		c.current = syms
	}
	c.mu.Unlock()
	if !changed {
		return
	}

	log.Info().Int("symbols", len(syms)).Msg("symbol universe changed")
	c.publish(syms)
}

// publish fans a replacement set out to every subscriber.
func (c *Catalog) publish(syms []string) {
	c.mu.Lock()
	subs := c.subs
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- syms:
		default:
			// Drop the undelivered previous set, keep only the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- syms:
			default:
			}
		}
	}
}

func (c *Catalog) fetch(ctx context.Context) ([]string, error) {
	req, err := c.rest.Request(ctx, "GET", c.url)
	if err != nil {
		return nil, err
	}
	resp, err := c.rest.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	entries := []catalogEntry{}
	if err := jsoniter.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	syms := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.CoinName == "" {
			continue
		}
		syms = append(syms, e.CoinName)
	}
	return normalize(syms), nil
}

// normalize upper-cases and sorts a symbol list, dropping duplicates.
func normalize(syms []string) []string {
	seen := make(map[string]struct{}, len(syms))
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
