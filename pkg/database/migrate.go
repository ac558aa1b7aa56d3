package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"air-shapelets/pkg/logging"
)

//go:embed migrations
var migrationFS embed.FS

// Direction selects which half of each migration runs
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection validates a --direction flag value
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("migration direction must be up or down, got %q", s)
}

// migrationFiles lists the embedded scripts for a dialect in execution order
func migrationFiles(dialect Dialect, dir Direction) ([]string, error) {
	root := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %s: %w", dialect, err)
	}

	suffix := "." + string(dir) + ".sql"
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, path.Join(root, e.Name()))
		}
	}
	sort.Strings(files)
	if dir == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// Migrate applies the embedded schema scripts. Up scripts are idempotent.
func (d *DB) Migrate(ctx context.Context, dir Direction) error {
	files, err := migrationFiles(d.dialect, dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		script, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		d.logger.Info(ctx, "[MIGRATION] Running migration", logging.Fields{
			"file":      path.Base(file),
			"direction": string(dir),
		})

		if _, err := d.db.ExecContext(ctx, string(script)); err != nil {
			d.metrics.RecordDBError("migration_error")
			return fmt.Errorf("failed to execute migration %s: %w", path.Base(file), err)
		}
	}
	return nil
}
