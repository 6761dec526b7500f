/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the progress ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize logger and tracing
  3. Open the configured store
  4. Build the orchestrator and start the event log retrier
  5. Load the award table
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LEDGER_PORT)
  -store   Store backend: sqlite, memory, postgres, redis (overrides LEDGER_STORE)
  -db      SQLite database path (overrides LEDGER_SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Flush queued event log entries one last time
  4. Flush spans and close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against Redis
  LEDGER_REDIS_ADDR=localhost:6379 ./server -store=redis

  # Local development without tokens
  LEDGER_AUTH_DISABLED=true LEDGER_DEMO_SCENARIOS=true ./server -store=memory

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - rewards/orchestrator.go: Ledger operations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/progress-ledger/api"
	"github.com/warp/progress-ledger/config"
	"github.com/warp/progress-ledger/eventlog"
	"github.com/warp/progress-ledger/factory"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/logging"
	"github.com/warp/progress-ledger/rewards"
	"github.com/warp/progress-ledger/store/postgres"
	"github.com/warp/progress-ledger/store/redis"
	"github.com/warp/progress-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	backend := flag.String("store", cfg.Store, "Store backend (sqlite, memory, postgres, redis)")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.Store, cfg.SQLitePath = *port, *backend, *dbPath

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	shutdownTracing, err := logging.InitTracing(log, logging.TracingConfig{
		Environment: cfg.Env,
		Stdout:      cfg.TraceStdout,
	})
	if err != nil {
		log.Warn("tracing init failed (continuing)", "error", err)
	}

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("failed to initialize store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}

	// Ledger
	ledger := rewards.New(st, generic.SystemClock{}, log)
	retrier := eventlog.NewRetrier(st, log, cfg.RetryInterval, cfg.RetryQueue)
	ledger.Events.Retrier = retrier
	if err := retrier.Start(); err != nil {
		log.Error("failed to start event log retrier", "error", err)
		os.Exit(1)
	}

	awards, err := factory.LoadAwardTable(cfg.AwardsFile)
	if err != nil {
		log.Error("failed to load award table", "path", cfg.AwardsFile, "error", err)
		os.Exit(1)
	}

	// Initialize handler
	handler := api.NewHandler(ledger, awards, log)
	handler.WeeklyGoal = cfg.WeeklyGoal
	handler.DemoScenarios = cfg.DemoScenarios

	auth := api.Authenticator{Secret: []byte(cfg.AuthSecret), Disabled: cfg.AuthDisabled}
	if cfg.AuthDisabled {
		log.Warn("auth disabled: X-User-ID header is trusted")
	}

	// Create router
	router := api.NewRouter(handler, auth, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "port", cfg.Port, "store", cfg.Store, "awards", awards.Len())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	retrier.Stop()
	if n := retrier.Flush(ctx); n > 0 {
		log.Info("delivered queued events on shutdown", "count", n)
	}
	if left := retrier.Pending(); left > 0 {
		log.Warn("event log entries lost on shutdown", "count", left)
	}

	if err := shutdownTracing(ctx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
	if err := closeStore.Close(); err != nil {
		log.Warn("store close failed", "error", err)
	}

	log.Info("server stopped")
}

// openStore opens the configured backend. The closer is a no-op for memory.
func openStore(cfg config.Config) (generic.ReadableStore, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), io.NopCloser(nil), nil
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StorePostgres:
		s, err := postgres.New(cfg.PostgresDSN, postgres.Options{MaxOpen: cfg.PostgresMaxOpen})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StoreRedis:
		s, err := redis.New(redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store)
	}
}
