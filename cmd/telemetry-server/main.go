/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command telemetry-server runs the HTTP API: ingestion, inference
// triggering, reporting, recommendations, and experiment assignment over a
// shared Postgres-backed event store.
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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/internal/config"
	"github.com/cliinsights/telemetry/internal/httpapi"
	"github.com/cliinsights/telemetry/pkg/telemetry/experiments"
	"github.com/cliinsights/telemetry/pkg/telemetry/ingest"
	"github.com/cliinsights/telemetry/pkg/telemetry/inference"
	"github.com/cliinsights/telemetry/pkg/telemetry/metrics"
	"github.com/cliinsights/telemetry/pkg/telemetry/privacy"
	"github.com/cliinsights/telemetry/pkg/telemetry/recommend"
	"github.com/cliinsights/telemetry/pkg/telemetry/reports"
	"github.com/cliinsights/telemetry/pkg/telemetry/repository"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
	"github.com/cliinsights/telemetry/pkg/telemetry/tenant"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	flag.Parse()

	watcher, err := config.NewWatcher(*configPath, newBootstrapLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	defer watcher.Close()
	cfg := watcher.Get()

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	if cfg.UsingInsecureSalt() {
		logger.Warn("hash_salt is using the insecure shipped default; set HASH_SALT before handling real traffic")
	}

	shutdownTracing := setupTracing(logger)
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("pgx", cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	redisClient := newRedisClient(cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	breaker := resilience.NewManager(resilience.DefaultSettings(), logger)

	eventsRepo := repository.NewEventsRepository(db, logger, breaker)
	sessionsRepo := repository.NewSessionsRepository(db, logger, breaker)
	workflowRepo := repository.NewWorkflowRepository(db, logger, breaker)
	cursorRepo := repository.NewCursorRepository(db, logger, breaker)
	credentialsRepo := repository.NewCredentialsRepository(db, logger, breaker)
	experimentsRepo := repository.NewExperimentsRepository(db, logger, breaker)

	normalizer := privacy.NewNormalizer(cfg.HashSalt)
	ingestor := ingest.NewIngestor(db, eventsRepo, normalizer, logger, cfg.Ingest.MaxBatchSize)

	lockTTL := time.Duration(cfg.Redis.LockTTLSeconds) * time.Second
	lock := inference.NewDistributedLock(redisClient, lockTTL, logger)
	// The config source reads the watcher on every /infer, so a hot-reloaded
	// vocabulary or timeout applies to the next run without a restart.
	engine := inference.NewEngineWithConfigSource(db, eventsRepo, sessionsRepo, workflowRepo, cursorRepo, lock, logger, func() inference.Config {
		c := watcher.Get()
		return inference.Config{
			SessionTimeout:   time.Duration(c.Inference.SessionTimeoutMinutes) * time.Minute,
			EntryCommands:    c.Inference.EntryCommands,
			TerminalCommands: c.Inference.TerminalCommands,
			FetchBatchSize:   c.Inference.FetchBatchSize,
		}
	})

	aggregator := reports.NewAggregator(workflowRepo, logger)
	recommender := recommend.NewRecommender(eventsRepo, logger)
	experimentService := experiments.NewService(experimentsRepo, logger)
	tenantResolver := tenant.NewResolver(credentialsRepo, logger)

	server := httpapi.NewServer(httpapi.Config{
		DB:             db,
		Ingestor:       ingestor,
		Engine:         engine,
		Reports:        aggregator,
		Recommender:    recommender,
		Experiments:    experimentService,
		TenantResolver: tenantResolver,
		Metrics:        m,
		Registry:       registry,
		Logger:         logger,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		InferTimeout:   time.Duration(cfg.Server.InferTimeoutSeconds) * time.Second,
	})

	// WriteTimeout must cover the longest-deadline route (/infer), or the
	// connection is torn down before the handler's own deadline fires.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(server),
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.InferTimeoutSeconds+5) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("telemetry server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newBootstrapLogger is used only while loading config, before the
// configured log level is known.
func newBootstrapLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newLogger(level string) *zap.Logger {
	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zapLevel
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newRedisClient returns nil when no URL is configured, which the
// inference distributed lock treats as an always-succeed short-circuit.
func newRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil
	}
	return redis.NewClient(opts)
}

// setupTracing installs a stdout span exporter as the global tracer
// provider, matching the domain stack's default (no external collector
// required to exercise the span instrumentation in internal/httpapi and
// the repository layer).
func setupTracing(logger *zap.Logger) func(context.Context) error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", zap.Error(err))
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
