package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"air-shapelets/internal/config"
	"air-shapelets/internal/handlers"
	"air-shapelets/internal/repository"
	"air-shapelets/internal/services"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	configPath := flags.String("config", "", "config file (default: ./.config when present)")
	flags.String("db", "", "SQLite database path or postgres:// URL (default: air.db)")
	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 8080, "listen port")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("shapelet-api", "1.0.0", logLevel)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting shapelet API server", logging.Fields{
		"version":     "1.0.0",
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"dialect":     string(database.DetectDialect(cfg.Database.URL)),
	})

	metricsCollector := metrics.NewCollector("air_shapelets")
	metricsCollector.RegisterRuntimeCollectors()

	db, err := database.Open(&database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open database", logging.Fields{}, err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, database.Up); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to prepare schema", logging.Fields{}, err)
	}

	repo := repository.NewShapeletRepository(db, logger, metricsCollector)
	lookupService := services.NewLookupService(repo, logger, metricsCollector)
	shapeletHandler := handlers.NewShapeletHandler(lookupService, logger, metricsCollector)

	router := mux.NewRouter()
	shapeletHandler.RegisterRoutes(router)
	router.Handle("/metrics", metricsCollector.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
