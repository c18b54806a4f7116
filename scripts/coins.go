package main

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/rs/zerolog/log"
)

// This function will query both venues for their tradable futures
// markets and keep the intersection, the symbols the collector can
// capture on both sides. It stores the list in a csv file and emits a
// ready config skeleton with that list as the static symbol universe.
// Files created at ./examples/coins.csv and ./examples/config.json.
func main() {
	f, err := os.Create("./examples/coins.csv")
	if err != nil {
		log.Error().Err(err).Msg("csv file create")
		return
	}
	w := csv.NewWriter(f)
	defer f.Close()

	// Binance USD-M futures.
	resp, err := http.Get(config.BinanceFuturesRESTBaseURL + "exchangeInfo")
	if err != nil {
		log.Error().Err(err).Str("exchange", "binance").Msg("exchange request for markets")
		return
	}
	binanceMarkets := binanceResp{}
	if err = jsoniter.NewDecoder(resp.Body).Decode(&binanceMarkets); err != nil {
		log.Error().Err(err).Str("exchange", "binance").Msg("convert markets response")
		return
	}
	resp.Body.Close()
	binanceSet := make(map[string]bool, len(binanceMarkets.Symbols))
	for _, record := range binanceMarkets.Symbols {
		if record.Status == "TRADING" {
			binanceSet[record.Symbol] = true
		}
	}
	fmt.Println("got market info from Binance")

	// CoinEx futures.
	resp, err = http.Get(config.CoinexFuturesRESTBaseURL + "market")
	if err != nil {
		log.Error().Err(err).Str("exchange", "coinex").Msg("exchange request for markets")
		return
	}
	coinexMarkets := coinexResp{}
	if err = jsoniter.NewDecoder(resp.Body).Decode(&coinexMarkets); err != nil {
		log.Error().Err(err).Str("exchange", "coinex").Msg("convert markets response")
		return
	}
	resp.Body.Close()
	if coinexMarkets.Code != 0 {
		log.Error().Int("code", coinexMarkets.Code).Str("exchange", "coinex").Msg("markets request rejected")
		return
	}
	fmt.Println("got market info from CoinEx")

	var common []string
	for _, record := range coinexMarkets.Data {
		if binanceSet[record.Market] {
			common = append(common, record.Market)
		}
	}
	sort.Strings(common)
	for _, symbol := range common {
		if err = w.Write([]string{symbol}); err != nil {
			log.Error().Err(err).Msg("writing markets to csv")
			return
		}
	}
	w.Flush()
	fmt.Println("CSV file generated with common markets at ./examples/coins.csv")

	cfg := skeletonConfig(common)
	body, err := jsoniter.MarshalIndent(&cfg, "", "    ")
	if err != nil {
		log.Error().Err(err).Msg("convert config skeleton")
		return
	}
	if err = os.WriteFile("./examples/config.json", body, 0644); err != nil {
		log.Error().Err(err).Msg("config skeleton write")
		return
	}
	fmt.Println("config skeleton generated at ./examples/config.json")
}

// skeletonConfig fills a runnable config with the common symbol list
// and default connection values. Credentials are left for the user.
func skeletonConfig(symbols []string) config.Config {
	return config.Config{
		Exchanges: []config.Exchange{
			{
				Name:      "binance",
				Storages:  []string{"postgres"},
				Reconnect: config.Reconnect{DelayMilli: 500},
			},
			{
				Name:      "coinex",
				Storages:  []string{"postgres"},
				Reconnect: config.Reconnect{DelayMilli: 500},
			},
		},
		Symbols: config.Symbols{
			Static:        symbols,
			RefreshIntSec: 300,
		},
		Connection: config.Connection{
			WS:   config.WS{ConnTimeoutSec: 10, ReadTimeoutSec: 60},
			REST: config.REST{ReqTimeoutSec: 10, MaxIdleConns: 10, MaxIdleConnsPerHost: 10},
			Buffer: config.Buffer{
				FlushIntervalMilli: 200,
				MaxSize:            100,
			},
			Postgres: config.Postgres{
				Host:               "127.0.0.1",
				Port:               5432,
				User:               "postgres",
				Schema:             "prices",
				ReqTimeoutSec:      10,
				MaxConns:           8,
				ConnMaxLifetimeSec: 1800,
			},
		},
		Reconcile: config.Reconcile{Enabled: true, RunIntSec: 60},
		Log:       config.Log{Level: "info", FilePath: "./pricecollector.log"},
	}
}

type binanceResp struct {
	Symbols []binanceRespRes `json:"symbols"`
}

type binanceRespRes struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

type coinexResp struct {
	Code int             `json:"code"`
	Data []coinexRespRes `json:"data"`
}

type coinexRespRes struct {
	Market string `json:"market"`
}
