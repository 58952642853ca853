// Package main provides the bomflow pipeline worker service.
//
// The worker consumes data-update events from the stream log, maintains the
// per-client processing watermarks, runs BOM explosions and publishes
// completion events. Multiple instances share one consumer group; scale out
// by running more of them.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bomflow-io/bomflow/internal/config"
	"github.com/bomflow-io/bomflow/internal/explosion"
	"github.com/bomflow-io/bomflow/internal/metric"
	"github.com/bomflow-io/bomflow/internal/pipeline"
	"github.com/bomflow-io/bomflow/internal/storage"
	"github.com/bomflow-io/bomflow/internal/stream"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "bomflow"
)

const opsReadHeaderTimeout = 5 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	pipelineConfig := pipeline.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: pipelineConfig.LogLevel,
	}))

	logger.Info("Starting bomflow worker",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("log_level", pipelineConfig.LogLevel.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("Database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	watermarks, err := storage.NewPersistentWatermarkStore(dbConn, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create watermark store", err)
	}

	deadLetters, err := storage.NewPersistentDeadLetterStore(dbConn, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create dead letter store", err)
	}

	clients, err := storage.NewPersistentClientStore(dbConn, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create client store", err)
	}

	recipes, err := storage.NewPersistentRecipeStore(dbConn, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create recipe store", err)
	}

	scanner, err := storage.NewSourceScanner(dbConn, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create source scanner", err)
	}

	builder, err := explosion.NewBuilder(recipes, pipelineConfig.MaxGraphEdges, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create graph builder", err)
	}

	routing := pipeline.LoadRouting(pipeline.RoutingPath(), logger)

	streamConfig := stream.LoadConfig()
	if len(streamConfig.Streams) == 0 {
		streamConfig.Streams = routing.InputStreams()
	}

	redisLog, err := stream.NewRedisLog(ctx, streamConfig, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to connect to stream log", err)
	}

	defer func() {
		_ = redisLog.Close()
	}()

	metrics := metric.NewMetrics()

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Deps{
		Subscriber:  redisLog,
		Publisher:   redisLog,
		Watermarks:  watermarks,
		DeadLetters: deadLetters,
		Clients:     clients,
		Builder:     builder,
		Engine:      explosion.NewEngine(logger),
		Output:      recipes,
		Features:    scanner,
	}, routing, metrics, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to create orchestrator", err)
	}

	opsServer := startOpsServer(dbConn, metrics, logger)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opsReadHeaderTimeout)
		defer cancel()

		_ = opsServer.Shutdown(shutdownCtx)
	}()

	runner := pipeline.NewRunner(redisLog, orchestrator, pipelineConfig, metrics, logger)

	if err := runner.Run(ctx); err != nil {
		logger.Error("Worker loop failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("bomflow worker stopped")
}

// startOpsServer exposes /metrics and /healthz on the ops port. The ops
// surface is internal-only; the pipeline itself has no request/response API.
func startOpsServer(dbConn *storage.Connection, metrics *metric.Metrics, logger *slog.Logger) *http.Server {
	addr := config.GetEnvStr("OPS_ADDR", ":9090")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbConn.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: opsReadHeaderTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ops server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Ops server listening", slog.String("addr", addr))

	return server
}

// fatal logs, closes the database connection and exits. Defers do not run
// across os.Exit, so cleanup is explicit here.
func fatal(logger *slog.Logger, dbConn *storage.Connection, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))

	_ = dbConn.Close()

	//nolint:gocritic // explicit cleanup before os.Exit is intentional
	os.Exit(1)
}
