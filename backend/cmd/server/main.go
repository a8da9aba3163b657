package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/accounts"
	"github.com/user/vitrader/backend/internal/auth"
	"github.com/user/vitrader/backend/internal/conf"
	"github.com/user/vitrader/backend/internal/database"
	"github.com/user/vitrader/backend/internal/engine"
	"github.com/user/vitrader/backend/internal/events"
	"github.com/user/vitrader/backend/internal/handlers"
	"github.com/user/vitrader/backend/internal/logging"
	"github.com/user/vitrader/backend/internal/mail"
	"github.com/user/vitrader/backend/internal/oracle"
	"github.com/user/vitrader/backend/internal/registry"
	"github.com/user/vitrader/backend/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", conf.DefaultPath(), "path to the YAML configuration")
	flag.Parse()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg conf.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting vitrader", zap.String("env", cfg.Env))
	logger.Debug("configuration\n" + cfg.Pretty())

	// Initialize Database
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", store.Dialect()))

	// Trades always price through the oracle itself; only the public quote
	// endpoint reads through the redis cache.
	prices := oracle.NewClient(cfg.Oracle, logger)
	var quotes oracle.PriceSource = prices
	if cfg.Redis.Address != "" {
		rdb, err := oracle.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		quotes = oracle.NewCache(prices, rdb, cfg.Oracle.CacheTTL, logger)
	}

	// Trade events: websocket hub always, kafka when brokers are set
	hub := events.NewHub(logger)
	go hub.Run(ctx)
	publishers := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}()
		publishers = append(publishers, kafka)
	}

	depositMin, err := decimal.NewFromString(cfg.Deposit.Min)
	if err != nil {
		return fmt.Errorf("deposit.min: %w", err)
	}
	depositMax, err := decimal.NewFromString(cfg.Deposit.Max)
	if err != nil {
		return fmt.Errorf("deposit.max: %w", err)
	}

	accts := accounts.NewService(store, mail.New(cfg.Mail), accounts.Options{
		PublicURL:       cfg.HTTP.PublicURL,
		RequireDelivery: cfg.Mail.RequireDelivery,
	}, logger)
	trader := engine.New(store, prices, publishers, engine.Options{
		QuoteAsset: cfg.QuoteAsset,
		DepositMin: depositMin,
		DepositMax: depositMax,
	}, logger)
	if err := trader.CheckQuoteAsset(ctx); err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// --- HTTP API ---
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handlers.New(accts, trader, store, quotes, tokens, hub, logger).SetupRoutes(app)

	// --- Session listener ---
	sessions, err := session.NewServer(cfg.Session, accts, logger)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Session.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Session.Address, err)
	}

	if cfg.Registry.Address != "" {
		reg, err := registry.New(cfg.Registry.Address)
		if err != nil {
			_ = ln.Close()
			return err
		}
		if err := reg.Register(cfg.Registry.Service, cfg.Registry.NodeID, ln.Addr().String()); err != nil {
			logger.Warn("consul registration failed", zap.Error(err))
		} else {
			defer func() {
				if err := reg.Deregister(); err != nil {
					logger.Warn("consul deregistration failed", zap.Error(err))
				}
			}()
		}
	}

	errs := make(chan error, 2)
	go func() { errs <- sessions.Serve(ctx, ln) }()
	go func() {
		logger.Info("http listener started", zap.String("addr", cfg.HTTP.Address))
		errs <- app.Listen(cfg.HTTP.Address)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		stop()
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("session shutdown", zap.Error(err))
	}
	logger.Info("vitrader stopped")
	return runErr
}
