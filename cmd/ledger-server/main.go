package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/STTM-NSU/virtual-trading/internal/api"
	"github.com/STTM-NSU/virtual-trading/internal/config"
	"github.com/STTM-NSU/virtual-trading/internal/leaderboard"
	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/postgres"
	"github.com/STTM-NSU/virtual-trading/internal/predictor"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/STTM-NSU/virtual-trading/internal/redis"
	"github.com/STTM-NSU/virtual-trading/internal/refresher"
	"github.com/STTM-NSU/virtual-trading/internal/server"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/joho/godotenv"
)

const (
	_serviceCfgFilePath = "./configs/ledger.yaml"
)

func main() {
	cfgPath := flag.String("config", _serviceCfgFilePath, "path to service config")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, *cfgPath)
	cancel()
	if err != nil {
		log.Fatalf("%s: ledger server failed", err)
	}
}

// run serves until ctx is done. Every resource it opens is released before
// it returns, including on startup errors.
func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.LoadServiceConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("%w: can't load service cfg", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("%w: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend, closeBackend, err := newStore(cfg, zapLogger)
	if err != nil {
		return fmt.Errorf("%w: can't init %s store", err, cfg.Store.Backend)
	}
	defer closeBackend()

	s := store.NewGuarded(string(cfg.Store.Backend), backend, cfg.Ledger.StoreTimeout, cfg.Store.Breaker)

	static := quote.NewStatic(quote.MockQuotes())
	var quoter quote.Quoter = static
	if cfg.Quotes.Provider == config.HTTPQuotes {
		httpQuoter := quote.NewHTTP(cfg.Quotes.HTTP, static.Name, zapLogger.Named("quotes"))
		defer httpQuoter.Close()
		quoter = httpQuoter
	}

	engine := ledger.NewEngine(s, ledger.WithLogger(zapLogger.Named("ledger")))
	ranker := leaderboard.NewRanker(s, cfg.Leaderboard.DefaultTop)

	handler := api.New(engine, ranker, quoter, static, predictor.NewMock(), api.RateLimit{
		PerSecond: cfg.Server.TradeRateLimit.PerSecond,
		Burst:     cfg.Server.TradeRateLimit.Burst,
	}, zapLogger.Named("api"))

	httpServer := server.NewHTTPServer(ctx, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler)

	var wg sync.WaitGroup
	if cfg.Refresh.Enabled {
		r := refresher.New(s, engine, quoter, cfg.Refresh.Schedule, cfg.Refresh.Timeout, zapLogger.Named("refresher"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				zapLogger.Errorf("%s: price refresher failed", err)
				cancel()
			}
		}()
	}

	zapLogger.Infof("ledger server listening on %s with %s store", cfg.Server.Addr, cfg.Store.Backend)
	serveErr := httpServer.Run(ctx)
	cancel()

	zapLogger.Infoln("start graceful shutdown")
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("%w: http server failed", serveErr)
	}
	return nil
}

func newStore(cfg config.ServiceConfig, l logger.Logger) (store.Store, func(), error) {
	startingCash := cfg.Ledger.StartingCash.Decimal()

	switch cfg.Store.Backend {
	case config.RedisBackend:
		client, err := redis.NewClient(&cfg.Store.Redis)
		if err != nil {
			return nil, nil, err
		}
		l.Debugf("connected to redis at %s", cfg.Store.Redis.Addr)
		return redis.NewStore(client, cfg.Store.Redis.KeyPrefix, startingCash), func() {
			if err := client.Close(); err != nil {
				l.Warnf("%s: can't close redis client", err)
			}
		}, nil
	case config.PostgresBackend:
		pgConfig := postgres.NewConfigFromEnv().Setup()
		l.Debugf("trying to connect to db %s at %s:%s", pgConfig.DBName, pgConfig.Host, pgConfig.Port)
		db, err := postgres.NewDB(pgConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.MigrateUp(pgConfig); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewStore(db, startingCash), func() {
			if err := db.Close(); err != nil {
				l.Warnf("%s: can't close db", err)
			}
		}, nil
	default:
		return store.NewMemory(startingCash), func() {}, nil
	}
}
