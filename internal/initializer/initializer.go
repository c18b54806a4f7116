package initializer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/lucambottino/ec2-price-collector/internal/connector"
	"github.com/lucambottino/ec2-price-collector/internal/exchange"
	"github.com/lucambottino/ec2-price-collector/internal/reconcile"
	"github.com/lucambottino/ec2-price-collector/internal/registry"
	"github.com/lucambottino/ec2-price-collector/internal/storage"
	"github.com/lucambottino/ec2-price-collector/internal/symbols"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/sync/errgroup"
)

// Start will initialize various required systems and then execute the app.
func Start(mainCtx context.Context, cfg *config.Config) error {

	// Setting up logger.
	// If the path given in the config for logging ends with .log then create a log file with the same name and
	// write log messages to it. Otherwise, create a new log file with a timestamp attached to it's name in the given path.
	var (
		logFile *os.File
		err     error
	)
	if strings.HasSuffix(cfg.Log.FilePath, ".log") {
		logFile, err = os.OpenFile(cfg.Log.FilePath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return fmt.Errorf("not able to open or create log file: %v", cfg.Log.FilePath)
		}
	} else {
		logFile, err = os.Create(cfg.Log.FilePath + "_" + strconv.Itoa(int(time.Now().Unix())) + ".log")
		if err != nil {
			return fmt.Errorf("not able to create log file: %v", cfg.Log.FilePath+"_"+strconv.Itoa(int(time.Now().Unix()))+".log")
		}
	}
	defer func() {
		log.Error().Msg("exiting the app")
		_ = logFile.Close()
	}()

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Log.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	fileLogger := zerolog.New(logFile).With().Timestamp().Logger()
	log.Logger = fileLogger
	log.Info().Msg("logger setup is done")

	if len(cfg.Exchanges) == 0 {
		err = errors.New("no exchanges configured")
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}

	// REST client serves the pair price lookup and the symbol catalog.
	rest := connector.InitREST(&cfg.Connection.REST)

	// Postgres is always required, it holds the coin registry, the tick
	// store and the aligned series. The remaining sinks connect lazily,
	// only when some exchange lists them.
	pool, err := storage.ConnectPostgres(mainCtx, &cfg.Connection.Postgres)
	if err != nil {
		err = errors.Wrap(err, "postgres connection")
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}
	defer pool.Close()
	reg := registry.New(pool)
	pg := storage.InitPostgres(pool, reg, &cfg.Connection.Postgres)
	log.Info().Msg("postgres connected")

	var (
		terStr        bool
		clickHouseStr bool
		natsStr       bool
		s3Str         bool
	)
	stores := make(map[string][]storage.Storage, len(cfg.Exchanges))
	for _, exch := range cfg.Exchanges {
		set := []storage.Storage{pg}
		for _, str := range exch.Storages {
			switch str {
			case "postgres":
				// Always present.
			case "terminal":
				if !terStr {
					_ = storage.InitTerminal(os.Stdout)
					terStr = true
					log.Info().Msg("terminal connected")
				}
				set = append(set, storage.GetTerminal())
			case "clickhouse":
				if !clickHouseStr {
					_, err = storage.InitClickHouse(&cfg.Connection.ClickHouse)
					if err != nil {
						err = errors.Wrap(err, "clickhouse connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return err
					}
					clickHouseStr = true
					log.Info().Msg("clickhouse connected")
				}
				set = append(set, storage.GetClickHouse())
			case "nats":
				if !natsStr {
					_, err = storage.InitNATS(&cfg.Connection.NATS)
					if err != nil {
						err = errors.Wrap(err, "nats connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return err
					}
					natsStr = true
					log.Info().Msg("nats connected")
				}
				set = append(set, storage.GetNATS())
			case "s3":
				if !s3Str {
					_, err = storage.InitS3(mainCtx, &cfg.Connection.S3)
					if err != nil {
						err = errors.Wrap(err, "s3 connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return err
					}
					s3Str = true
					log.Info().Msg("s3 connected")
				}
				set = append(set, storage.GetS3())
			default:
				err = errors.New("unknown storage: " + str)
				log.Error().Stack().Err(errors.WithStack(err)).Msg("")
				return err
			}
		}
		stores[exch.Name] = set
	}

	// Symbol universe, fixed or catalog backed.
	var (
		src     symbols.Source
		catalog *symbols.Catalog
	)
	if cfg.Symbols.CatalogURL != "" {
		catalog = symbols.NewCatalog(rest, &cfg.Symbols)
		catalog.Refresh(mainCtx)
		src = catalog
	} else {
		src = symbols.NewStatic(cfg.Symbols.Static)
	}

	// Start each exchange function. If any exchange fails after retry, force all the other exchanges to stop and
	// exit the app.
	appErrGroup, appCtx := errgroup.WithContext(mainCtx)

	for i := range cfg.Exchanges {
		exch := cfg.Exchanges[i]
		switch exch.Name {
		case "binance":
			appErrGroup.Go(func() error {
				return exchange.StartBinance(appCtx, src, &exch, &cfg.Connection, stores[exch.Name])
			})
		case "coinex":
			appErrGroup.Go(func() error {
				return exchange.StartCoinex(appCtx, src, &exch, &cfg.Connection, stores[exch.Name])
			})
		default:
			err = errors.New("unknown exchange: " + exch.Name)
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
			return err
		}
	}

	if catalog != nil {
		appErrGroup.Go(func() error {
			return catalog.Run(appCtx)
		})
	}
	if cfg.Reconcile.Enabled {
		engine := reconcile.New(pg, reg, src, &cfg.Reconcile)
		appErrGroup.Go(func() error {
			return engine.Run(appCtx)
		})
	}

	if err := appErrGroup.Wait(); err != nil {
		log.Error().Msg("exiting the app")
		return err
	}
	return nil
}
