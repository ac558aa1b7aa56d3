package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"air-shapelets/internal/config"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		direction  string
	)

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Create or drop the shapelet schema",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			dir, err := database.ParseDirection(direction)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(configPath, c.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return migrate(c.Context(), cfg, dir, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&direction, "direction", "up", "migration direction: up or down")
	flags.String("db", "", "SQLite database path or postgres:// URL (default: air.db)")
	flags.StringVar(&configPath, "config", "", "config file (default: ./.config when present)")
	return cmd
}

func migrate(ctx context.Context, cfg *config.Config, dir database.Direction, stdout, stderr io.Writer) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.NewStructuredLogger("shapelet-migrate", "1.0.0", level)
	logger.SetOutput(stderr)

	db, err := database.Open(&database.Config{
		URL:          cfg.Database.URL,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger, metrics.NewCollector("air_shapelets_migrate"))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(stdout, "Connected to %s database\n", db.Dialect())

	if err := db.Migrate(ctx, dir); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Migration %s completed successfully\n", dir)
	return nil
}
