package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"air-shapelets/internal/config"
	"air-shapelets/internal/repository"
	"air-shapelets/internal/services"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ingester",
		Short: "Load air-quality shapelet exports into the database",
		Long: `
Reads pickled or JSON shapelet exports (optionally gzipped or zipped) from an
input directory, validates every window and stores the result. Re-running over
the same files is safe: rows already present are skipped.
`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath, c.Flags())
			if err != nil {
				return err
			}
			return run(c.Context(), cfg, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.String("input-dir", "", "directory containing shapelet files (default: data_path from .config)")
	flags.String("db", "", "SQLite database path or postgres:// URL (default: air.db)")
	flags.Bool("dry-run", false, "load and validate only, never touch the database")
	flags.Int("limit", 0, "process at most N files, 0 for all")
	flags.BoolP("verbose", "v", false, "print per-file detail and log at debug level")
	flags.Bool("recursive", true, "descend into subdirectories of the input directory")
	flags.Int("batch-size", config.DefaultBatchSize, "shapelet rows per database transaction")
	flags.String("metrics-file", "", "write prometheus metrics to this textfile when done")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&configPath, "config", "", "config file (default: ./.config when present)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.InputDir == "" {
		return errors.New("an input directory is required (--input-dir or data_path in .config)")
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.NewStructuredLogger("shapelet-ingester", version, level)
	logger.SetOutput(stderr)

	ctx, runID := logging.WithRunID(ctx)
	logger.Info(ctx, "[INGESTER_START] Starting shapelet ingestion", logging.Fields{
		"version":   version,
		"input_dir": cfg.InputDir,
		"dry_run":   cfg.DryRun,
		"run_id":    runID,
	})

	metricsCollector := metrics.NewCollector("air_shapelets")
	defer writeMetrics(ctx, logger, metricsCollector, cfg.MetricsFile)

	// dry runs never open the database
	var repo repository.ShapeletRepository
	if !cfg.DryRun {
		db, err := database.Open(&database.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger, metricsCollector)
		if err != nil {
			logger.Error(ctx, "[INGESTER_ERROR] Failed to open database", logging.Fields{}, err)
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx, database.Up); err != nil {
			logger.Error(ctx, "[INGESTER_ERROR] Failed to prepare schema", logging.Fields{}, err)
			return err
		}
		repo = repository.NewShapeletRepository(db, logger, metricsCollector)
	}

	service := services.NewIngestionService(repo, logger, metricsCollector, clockwork.NewRealClock())
	result, err := service.Run(ctx, services.IngestionOptions{
		InputDir:  cfg.InputDir,
		Recursive: cfg.Recursive,
		DryRun:    cfg.DryRun,
		Limit:     cfg.Limit,
		BatchSize: cfg.BatchSize,
	})
	if result != nil {
		printReport(stdout, result, cfg.Verbose)
	}
	if err != nil {
		logger.Error(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{}, err)
		return err
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"total_rows":       result.TotalRows(),
		"error_count":      result.ErrorCount(),
		"duration_seconds": result.Duration.Seconds(),
	})
	return nil
}

func writeMetrics(ctx context.Context, logger logging.Logger, collector *metrics.Collector, path string) {
	if path == "" {
		return
	}
	if err := collector.WriteTextfile(path); err != nil {
		logger.Error(ctx, "[METRICS_ERROR] Failed to write metrics textfile", logging.Fields{
			"path": path,
		}, err)
	}
}
