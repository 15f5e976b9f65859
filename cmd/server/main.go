package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sequencer/internal/api"
	"github.com/eldtechnologies/sequencer/internal/backoff"
	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/clock"
	"github.com/eldtechnologies/sequencer/internal/config"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/flows"
	"github.com/eldtechnologies/sequencer/internal/gateway"
	"github.com/eldtechnologies/sequencer/internal/handlers"
	"github.com/eldtechnologies/sequencer/internal/ledger"
	"github.com/eldtechnologies/sequencer/internal/store"
	"github.com/eldtechnologies/sequencer/internal/uploader"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	wallet := loadWallet(cfg, logger)

	// Initialize Redis store. It backs the rate limiter and the receipt cache,
	// and the message index when STORE_DRIVER=redis.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Initialize the durable index
	var ds store.DataStore
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		ds = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	case config.DriverRedis:
		ds = redisStore
	default:
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		ds = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	}

	// Ledger collaborators
	var (
		gw      gateway.Gateway
		up      uploader.Uploader
		fetcher flows.Fetcher
	)
	policy := backoff.Policy{
		MaxRetries: cfg.UploadMaxRetries,
		Delay:      cfg.UploadRetryDelay,
		MaxDelay:   cfg.NetworkTimeout,
	}
	if cfg.LedgerDir != "" {
		local, err := ledger.Open(cfg.LedgerDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("ledger open failed")
		}
		gw, up, fetcher = local, local, local
		logger.Info().Str("dir", cfg.LedgerDir).Msg("using local ledger")
	} else {
		httpGateway := gateway.NewHTTPGateway(cfg.GatewayURL, cfg.NetworkTimeout, policy)
		gw, fetcher = httpGateway, httpGateway
		up = uploader.NewHTTPUploader(cfg.UploadURL, cfg.NetworkTimeout, policy)
	}

	// A shared receipt cache lets replicas answer re-uploads of a bundle
	// another replica already stored.
	if redisStore != nil {
		up = uploader.WithCache(up, redisStore, logger)
	}

	oracle := clock.NewOracle(gw, nil)
	builder, err := bundle.NewBuilder(wallet, nil, oracle, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("builder setup failed")
	}
	owner, err := builder.Owner()
	if err != nil {
		logger.Fatal().Err(err).Msg("wallet has no usable key")
	}

	pipeline, err := flows.New(flows.Deps{
		Store:    ds,
		Logger:   logger,
		Builder:  builder,
		Uploader: up,
		Oracle:   oracle,
		Fetcher:  fetcher,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline setup failed")
	}

	// Create router
	h := handlers.NewHandler(pipeline, ds, gw, redisStore, owner)
	router := api.NewRouter(logger, h, redisStore, api.Options{
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitWhitelist: cfg.RateLimitWhitelist,
		AutoBlockEnabled:   cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + 2*cfg.NetworkTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("owner", owner).
			Str("store", cfg.StoreDriver).
			Msg("starting sequencer")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// loadWallet reads the configured wallet. Development without a wallet gets an
// ephemeral key that is lost on restart.
func loadWallet(cfg *config.Config, logger zerolog.Logger) crypto.Wallet {
	if cfg.WalletPath != "" {
		w, err := crypto.LoadFileWallet(cfg.WalletPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.WalletPath).Msg("wallet load failed")
		}
		return w
	}
	if !cfg.IsDevelopment() {
		logger.Fatal().Msg("SU_WALLET_PATH is required outside development")
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		logger.Fatal().Err(err).Msg("key generation failed")
	}
	logger.Warn().Msg("no wallet configured, using an ephemeral key")
	return crypto.NewWallet(priv)
}
