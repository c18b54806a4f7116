package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ClickHouse/clickhouse-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/lucambottino/ec2-price-collector/internal/initializer"
)

func main() {

	// Load config file values.
	// Default path for file is ./config.json.
	cfgPath := flag.String("config", "./config.json", "configuration JSON file path")
	flag.Parse()
	cfgFile, err := os.Open(*cfgPath)
	if err != nil {
		fmt.Println("Not able to find config file :", *cfgPath)
		fmt.Println("exiting the app")
		return
	}
	var cfg config.Config
	if err = jsoniter.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		fmt.Println("Not able to parse JSON from config file :", *cfgPath)
		fmt.Println("exiting the app")
		return
	}
	cfgFile.Close()

	// SIGINT / SIGTERM stop the collector cleanly, flushing open batches.
	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the app.
	err = initializer.Start(mainCtx, &cfg)
	if err != nil {
		fmt.Println(err)
		fmt.Println("exiting the app")
	}
}
