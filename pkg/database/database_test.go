package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&Config{URL: filepath.Join(t.TempDir(), "air.db")}, logging.NewNopLogger(), metrics.NewCollector("test"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableNames(t *testing.T, db *DB) []string {
	t.Helper()
	var names []string
	require.NoError(t, db.SelectContext(context.Background(), "tables", &names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"))
	return names
}

func TestMigrate_UpIsIdempotentAndDownDrops(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	assert.Equal(t, DialectSQLite, db.Dialect())

	require.NoError(t, db.Migrate(ctx, Up))
	require.NoError(t, db.Migrate(ctx, Up))
	assert.Equal(t, []string{"ingestion_runs", "pollutants", "shapelets", "sites"}, tableNames(t, db))

	require.NoError(t, db.Migrate(ctx, Down))
	assert.Empty(t, tableNames(t, db))
}

func TestIsConstraintViolation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.Migrate(ctx, Up))

	_, err := db.ExecContext(ctx, "insert_pollutant", "INSERT INTO pollutants (parameter_code) VALUES (?)", "42401")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "insert_pollutant", "INSERT INTO pollutants (parameter_code) VALUES (?)", "42401")
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))

	// foreign keys are enforced on every connection
	_, err = db.ExecContext(ctx, "insert_shapelet", `INSERT INTO shapelets
		(dataset_key, shapelet_id, site_key, year, start_date, end_date, length_days, shapelet_values, source_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"k", 0, "NC_Nowhere_1", 2004, "2004-01-01", "2004-01-07", 7, "[]", "a.pkl")
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))

	assert.False(t, IsConstraintViolation(errors.New("connection reset")))
}

func TestDetectDialect(t *testing.T) {
	assert.Equal(t, DialectPostgres, DetectDialect("postgres://u:p@localhost/air"))
	assert.Equal(t, DialectPostgres, DetectDialect("postgresql://localhost/air"))
	assert.Equal(t, DialectSQLite, DetectDialect("data/air.db"))
	assert.Equal(t, DialectSQLite, DetectDialect("file:air.db"))
}

func TestOpen_CreatesSQLiteDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "air.db")
	db, err := Open(&Config{URL: path}, logging.NewNopLogger(), metrics.NewCollector("test"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background(), Up))
	assert.FileExists(t, path)
}

func TestSQLiteDir(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"data/air.db", "data"},
		{"file:data/air.db?mode=rwc", "data"},
		{"air.db", ""},
		{":memory:", ""},
		{"file::memory:?cache=shared", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDir(tt.url))
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://user:***@db:5432/air", redact("postgres://user:secret@db:5432/air"))
	assert.Equal(t, "postgres://db/air", redact("postgres://db/air"))
	assert.Equal(t, "air.db", redact("air.db"))
}

func TestParseDirection(t *testing.T) {
	dir, err := ParseDirection("UP")
	require.NoError(t, err)
	assert.Equal(t, Up, dir)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestMigrationFiles_Order(t *testing.T) {
	up, err := migrationFiles(DialectPostgres, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/postgres/001_create_schema.up.sql"}, up)

	down, err := migrationFiles(DialectSQLite, Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/sqlite/001_create_schema.down.sql"}, down)
}
