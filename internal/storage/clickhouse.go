package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lucambottino/ec2-price-collector/internal/config"
)

// ClickHouse is for connecting and archiving raw normalized ticks to
// ClickHouse. Unlike the postgres store it keeps the venue symbol as is
// and does not resolve coin ids; it is an append-only archive.
type ClickHouse struct {
	DB  *sql.DB
	Cfg *config.ClickHouse
}

var clickHouse ClickHouse

// ClickHouse timestamp format.
const clickHouseTimestamp = "2006-01-02 15:04:05.999"

// InitClickHouse initializes ClickHouse connection with configured values.
func InitClickHouse(cfg *config.ClickHouse) (*ClickHouse, error) {
	if clickHouse.DB == nil {
		var dataSourceName strings.Builder
		dataSourceName.WriteString(cfg.URL + "?")
		dataSourceName.WriteString("database=" + cfg.Schema)
		dataSourceName.WriteString("&read_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec) + "&write_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec))
		if strings.TrimSpace(cfg.User) != "" && strings.TrimSpace(cfg.Password) != "" {
			dataSourceName.WriteString("&username=" + cfg.User + "&password=" + cfg.Password)
		}
		if cfg.Compression {
			dataSourceName.WriteString("&compress=1")
		}
		prefix := false
		for i, v := range cfg.AltHosts {
			if strings.TrimSpace(v) != "" {
				if !prefix {
					dataSourceName.WriteString("&alt_hosts=")
					prefix = true
				}
				if i == len(cfg.AltHosts)-1 {
					dataSourceName.WriteString(v)
				} else {
					dataSourceName.WriteString(v + ",")
				}
			}
		}
		db, err := sql.Open("clickhouse",
			dataSourceName.String())
		if err != nil {
			return nil, err
		}

		err = db.Ping()
		if err != nil {
			return nil, err
		}
		clickHouse = ClickHouse{
			DB:  db,
			Cfg: cfg,
		}
	}
	return &clickHouse, nil
}

// GetClickHouse returns already prepared clickHouse instance.
func GetClickHouse() *ClickHouse {
	return &clickHouse
}

// CommitTicks batch inserts input tick data to clickHouse.
func (c *ClickHouse) CommitTicks(_ context.Context, data []Tick) error {
	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO tick
 (exchange, symbol, timestamp, best_bid, best_ask, best_bid_qty, best_ask_qty, mark_price, last_price)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range data {
		tick := data[i]
		_, err := stmt.Exec(tick.Exchange, tick.Symbol, tick.Timestamp.Format(clickHouseTimestamp),
			tick.BestBid, tick.BestAsk, tick.BestBidQty, tick.BestAskQty, tick.MarkPrice, tick.LastPrice)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
