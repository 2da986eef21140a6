// Command server runs the dive-shop REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/addfeaturesnow/prodesk/internal/config"
	"github.com/addfeaturesnow/prodesk/internal/database"
	"github.com/addfeaturesnow/prodesk/internal/httpapi"
	"github.com/addfeaturesnow/prodesk/internal/logging"
	"github.com/addfeaturesnow/prodesk/internal/metrics"
	"github.com/addfeaturesnow/prodesk/internal/middleware"
	"github.com/addfeaturesnow/prodesk/supabase/client"
	"github.com/addfeaturesnow/prodesk/supabase/deferred"
)

const serviceName = "prodesk-api"

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, db, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open repository")
	}
	defer repo.Close()
	instrumented := database.Instrument(repo, cfg.Store, m, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
	api := httpapi.New(instrumented, logger, m, httpapi.Options{
		ServiceName: serviceName,
		CORSOrigins: cfg.Origins(),
		RateLimiter: limiter,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if n := limiter.Cleanup(10 * time.Minute); n > 0 {
			logger.WithField("removed", n).Debug("rate limiter cleanup")
		}
	}); err != nil {
		logger.WithError(err).Fatal("schedule rate limiter cleanup")
	}
	if db != nil {
		if _, err := scheduler.AddFunc("@every 15s", func() {
			m.SetBackendLoaded(db.Loader().Loaded())
		}); err != nil {
			logger.WithError(err).Fatal("schedule backend gauge")
		}
		go warmUp(ctx, instrumented, db, m, logger)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).WithField("store", cfg.Store).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	<-scheduler.Stop().Done()
	logger.Info("server stopped")
}

// openRepository returns the configured store. The deferred client is
// returned as well when STORE=supabase.
func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (database.Repository, *deferred.Client, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return database.NewMockRepository(), nil, nil
	case config.StorePostgres:
		repo, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	}

	if cfg.SupabaseURL == "" {
		logger.Warn("Supabase URL not set; every request will fail until it is configured")
	}
	sessions, err := sessionStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	resilience := client.DefaultResilienceConfig()
	resilience.Retry.MaxRetries = cfg.HTTPRetries

	db := deferred.NewSupabase(cfg.Supabase(), deferred.ConstructorOptions{
		Sessions:   sessions,
		Resilience: &resilience,
	}, deferred.WithFailurePolicy(cfg.FailurePolicy()))
	return database.NewSupabaseRepository(db), db, nil
}

func sessionStore(cfg *config.Config) (client.SessionStore, error) {
	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return client.NewRedisSessionStore(redis.NewClient(opts), "prodesk:supabase:session", 0), nil
	case cfg.SessionFile != "":
		return client.NewFileSessionStore(cfg.SessionFile), nil
	default:
		return client.NewMemorySessionStore(), nil
	}
}

// warmUp pings Supabase once so the first request does not pay for the
// client construction.
func warmUp(ctx context.Context, repo database.Repository, db *deferred.Client, m *metrics.Metrics, logger *logging.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("supabase not reachable yet")
	}
	m.SetBackendLoaded(db.Loader().Loaded())
}
