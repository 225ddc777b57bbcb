package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruralpay/playcard/docs"
	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/database"
	"github.com/ruralpay/playcard/internal/handlers"
	"github.com/ruralpay/playcard/internal/logging"
	"github.com/ruralpay/playcard/internal/realtime"
	"github.com/ruralpay/playcard/internal/services"
	"github.com/ruralpay/playcard/internal/store"
)

// @title PlayCard Ledger API
// @version 1.0
// @description Card balances, history and live updates for venue play cards
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	envFile := flag.String("config", ".env", "Path to the .env configuration file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}()

	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, logger)

	var mirror *realtime.AMQPObserver
	if cfg.AMQP.URL != "" {
		mirror, err = realtime.DialAMQP(cfg.AMQP, cfg.Realtime.SendQueueSize, logger)
		if err != nil {
			return err
		}
		registry.Register(mirror)
	}

	ledger := services.NewLedgerService(st, broadcaster, cfg.Ledger, logger)

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(cfg, ledger, registry, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("amqp_mirror", mirror != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		// hijacked websocket connections are not tracked by Shutdown
		registry.CloseAll()

		if mirror != nil {
			select {
			case <-mirror.Done():
			case <-shutdownCtx.Done():
				logger.Warn("AMQP mirror did not drain before shutdown deadline")
			}
		}
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store; card state is lost on restart")
		return store.NewMemoryStore(), nil

	case config.DriverPostgres, config.DriverSQLite:
		db, err := database.OpenSQL(ctx, cfg.Store.Driver, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		s := store.NewSQLStore(db, logger)
		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.EnsureSchema(schemaCtx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	case config.DriverRedis:
		client, err := database.OpenRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
