package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"go.pilab.hu/docflow"
	echoapi "go.pilab.hu/docflow/api/echo"
	"go.pilab.hu/docflow/config"
	"go.pilab.hu/docflow/internal/metrics"
	"go.pilab.hu/docflow/internal/server"
	"go.pilab.hu/docflow/log"
	"go.pilab.hu/docflow/mongodb"
	"go.pilab.hu/docflow/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Str("fallback_log_level", logLevel.String()).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting docflow...", map[string]interface{}{
		"http_port":          cfg.HTTPPort,
		"mongo_db_name":      cfg.MongoDBName,
		"docs_collection":    cfg.DocsCollection,
		"credential_backend": cfg.CredentialBackend,
		"namespace_backend":  cfg.NamespaceBackend,
		"otel_service":       cfg.OtelServiceName,
	})

	traceOpts := tracing.Options{ServiceName: cfg.OtelServiceName, Pretty: cfg.LogPretty}
	if cfg.TraceStdout {
		traceOpts.Writer = os.Stdout
	}
	tp, err := tracing.InitTracerProvider(traceOpts)
	if err != nil {
		appLogger.Fatal(context.Background(), "Failed to initialize TracerProvider", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", err)
	}

	engine, err := docflow.FromConfig(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to assemble workflows", err)
	}

	api := echoapi.NewDocumentAPI(engine.Docs, appLogger, mongodb.Ping, reg)
	httpServer := server.NewHTTPServer(cfg, appLogger, api)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	drained, runFailure := awaitStop(ctx, runErr)
	if drained {
		stop()
	} else {
		appLogger.Info(context.Background(), "Received shutdown signal")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	if !drained {
		select {
		case <-runErr:
		case <-shutdownCtx.Done():
			appLogger.Warn(shutdownCtx, "Dispatcher did not drain before the shutdown deadline")
		}
	}

	engine.Close(shutdownCtx)
	tracing.Shutdown(shutdownCtx, tp)
	mongodb.CloseMongoDB(shutdownCtx)

	if runFailure != nil {
		// The dispatcher only returns an error when the change feed could not be opened.
		appLogger.Fatal(shutdownCtx, "Server stopped: change feed unavailable", runFailure)
	}
	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

// awaitStop blocks until ctx is cancelled or the dispatcher returns. drained
// reports whether the dispatcher result was received from runErr.
func awaitStop(ctx context.Context, runErr <-chan error) (drained bool, err error) {
	select {
	case <-ctx.Done():
		return false, nil
	case err := <-runErr:
		return true, err
	}
}
