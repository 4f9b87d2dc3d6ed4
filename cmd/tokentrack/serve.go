package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alecgard/tokentrack/internal/api"
	"github.com/alecgard/tokentrack/internal/auth"
	"github.com/alecgard/tokentrack/internal/config"
	"github.com/alecgard/tokentrack/internal/inference"
	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/alecgard/tokentrack/internal/metrics"
	"github.com/alecgard/tokentrack/internal/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TokenTrack API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads and validates the configuration and installs the JSON
// logger at the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	slog.Info("connected to database")
	return pool, nil
}

// newProcessor wires the model catalog, price table and inference clients.
func newProcessor(cfg *config.Config) (*metering.Processor, *inference.Router, *inference.HuggingFace, error) {
	prices, err := cfg.PricingTable()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building price table: %w", err)
	}

	sim := inference.NewSimulator(cfg.Inference.SimulatedDelay, nil)
	hf := inference.NewHuggingFace(cfg.HuggingFace())
	router, err := inference.NewRouter(cfg.Catalog(), sim, hf, cfg.Inference.FallbackModel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building model router: %w", err)
	}

	return metering.NewProcessor(router, prices), router, hf, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.DBPoolStats {
		s := pool.Stat()
		return metrics.DBPoolStats{
			Total:        s.TotalConns(),
			Idle:         s.IdleConns(),
			Acquired:     s.AcquiredConns(),
			Max:          s.MaxConns(),
			AcquireCount: s.AcquireCount(),
			EmptyAcquire: s.EmptyAcquireCount(),
		}
	})

	processor, catalog, hf, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	processor.SetObserver(m)
	if !hf.Configured() {
		slog.Warn("HUGGING_FACE_API_KEY is not set; hugging face models will fail")
	}

	userStore := user.NewStore(pool)
	logStore := metering.NewStore(pool)

	router := api.NewRouter(api.RouterDeps{
		Users:          userStore,
		UserLookup:     user.NewAuthAdapter(userStore),
		Tokens:         auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Logs:           logStore,
		Processor:      processor,
		Catalog:        catalog,
		HFConfigured:   hf.Configured(),
		DB:             pool,
		Metrics:        m,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Environment:    cfg.Server.Environment,
		Version:        version,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "environment", cfg.Server.Environment, "models", len(cfg.Models))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
