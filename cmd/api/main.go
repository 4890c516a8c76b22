package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/collab"
	"lv-tradecore/internal/config"
	"lv-tradecore/internal/db"
	"lv-tradecore/internal/events"
	"lv-tradecore/internal/executions"
	"lv-tradecore/internal/expiry"
	"lv-tradecore/internal/health"
	"lv-tradecore/internal/holdings"
	"lv-tradecore/internal/httpserver"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/matching"
	"lv-tradecore/internal/memstore"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/orders"
	"lv-tradecore/internal/trading"
	"lv-tradecore/internal/validation"
)

type orderStore interface {
	trading.OrderStore
	matching.OrderStore
	expiry.OrderStore
}

type executionStore interface {
	trading.ExecutionStore
	matching.ExecutionStore
}

type holdingStore interface {
	trading.HoldingStore
	matching.HoldingStore
}

type directory interface {
	collab.TierResolver
	collab.AssetLookup
}

type eventLog interface {
	collab.SecurityLog
	collab.AuditLog
}

// backend is one storage driver's set of stores.
type backend struct {
	db         db.TxBeginner
	ping       health.Pinger
	orders     orderStore
	executions executionStore
	holdings   holdingStore
	directory  directory
	events     eventLog
	close      func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	if cfg.StorageDriver == config.DriverMemory {
		mem := memstore.New()
		for id, symbol := range cfg.MemoryAssets {
			mem.PutAsset(model.Asset{ID: strings.ToLower(id), Symbol: symbol, Status: model.AssetStatusActive})
		}
		for user, tier := range cfg.MemoryTiers {
			mem.SetTier(user, tier)
		}
		logger.Warn("using in-memory storage; state is lost on restart", "assets", len(cfg.MemoryAssets))
		return backend{
			db:         mem,
			orders:     mem.Orders(),
			executions: mem.Executions(),
			holdings:   mem.Holdings(),
			directory:  mem.Directory(),
			events:     collab.NewLogSink(logger),
			close:      func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return backend{}, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return backend{}, err
	}
	return backend{
		db:         pool,
		ping:       pool,
		orders:     orders.NewStore(),
		executions: executions.NewStore(),
		holdings:   holdings.NewStore(),
		directory:  collab.NewDirectory(pool),
		events:     collab.NewEventStore(pool, logger),
		close:      pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	bus := marketdata.NewBus()
	publishers := marketdata.Fanout{bus}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error("close kafka producer", "error", err)
			}
		}()
		publishers = append(publishers, producer)
	}

	engine := matching.NewEngine(be.db, be.orders, be.executions, be.holdings, publishers, matching.Config{
		QuoteAssetID:       cfg.QuoteAssetID,
		SnapshotLimit:      cfg.MatchSnapshotLimit,
		MaxConflictRetries: cfg.MaxConflictRetries,
		AllowSelfMatch:     cfg.AllowSelfMatch,
	}, logger)
	validator := validation.New(be.directory, be.directory, be.events, validation.Config{
		MinTier:     cfg.MinOrderTier,
		MaxQuantity: cfg.MaxOrderQuantity,
		MaxPrice:    cfg.MaxOrderPrice,
	}, logger)
	svc := trading.NewService(trading.Deps{
		DB:         be.db,
		Validator:  validator,
		Orders:     be.orders,
		Executions: be.executions,
		Holdings:   be.holdings,
		Assets:     be.directory,
		Matcher:    engine,
		Audit:      be.events,
	}, trading.Config{CancelUnfilledMarket: cfg.CancelUnfilledMarket}, logger)

	sweeper := expiry.NewSweeper(be.db, be.orders, publishers, be.events, cfg.ExpiryInterval, logger)
	go sweeper.Start(ctx)

	limiter := httpserver.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(3 * time.Minute)
			}
		}
	}()

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Trading:           trading.NewHandler(svc),
		Health:            health.NewHandler(be.ping, cfg.StorageDriver, time.Now()),
		AuthService:       auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL),
		InternalTokenHash: cfg.InternalTokenHash,
		StreamHandler:     marketdata.NewTradeStream(bus, cfg.WebSocketOrigin, logger),
		RateLimiter:       limiter,
		Logger:            logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
