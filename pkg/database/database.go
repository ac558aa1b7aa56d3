package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

// Dialect identifies the SQL backend behind a DB
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// sqlitePragmas are applied to every new SQLite connection
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

const poolMonitorInterval = 10 * time.Second

// DetectDialect picks postgres for postgres:// URLs and SQLite for anything else
func DetectDialect(url string) Dialect {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Config holds database connection configuration
type Config struct {
	// URL is a SQLite file path or a postgres:// DSN
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	dialect Dialect
	logger  logging.Logger
	metrics *metrics.Collector
	config  *Config

	stop     chan struct{}
	stopOnce sync.Once
}

// Open connects to the database named by cfg.URL.
// SQLite files are created on demand and limited to one open connection.
func Open(cfg *Config, logger logging.Logger, metricsCollector *metrics.Collector) (*DB, error) {
	dialect := DetectDialect(cfg.URL)

	var (
		db  *sqlx.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	default:
		if dir := sqliteDir(cfg.URL); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = sqlx.Open("sqlite", sqliteDSN(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "[DB_INIT] Database connection established", logging.Fields{
		"dialect":           string(dialect),
		"target":            redact(cfg.URL),
		"max_open_conns":    db.Stats().MaxOpenConnections,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		dialect: dialect,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		stop:    make(chan struct{}),
	}

	go d.monitorConnectionPool()

	return d, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + sqlitePragmas
	}
	return "file:" + path + "?" + sqlitePragmas
}

// sqliteDir returns the directory holding a SQLite file, or "" when there is
// nothing to create
func sqliteDir(url string) string {
	path := strings.TrimPrefix(url, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// redact hides the password of a postgres URL
func redact(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 {
		return url
	}
	userinfo := url[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return url[:scheme+3] + userinfo[:colon] + ":***" + url[at:]
	}
	return url
}

// Close stops the pool monitor and closes the database connection
func (d *DB) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	d.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"dialect": string(d.dialect),
	})
	return d.db.Close()
}

// Dialect reports the backend in use
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind converts ? placeholders to the dialect's bindvar style
func (d *DB) Rebind(query string) string {
	return d.db.Rebind(query)
}

func (d *DB) timer(queryType string) *metrics.Timer {
	return d.metrics.NewTimer(d.metrics.DBQueryDuration.WithLabelValues(queryType))
}

// ExecContext executes a command with context and metrics
func (d *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := d.timer(queryType)
	defer func() {
		duration := timer.ObserveDuration()
		d.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := d.db.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		d.metrics.RecordDBError("exec_error")
		d.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}
	return result, nil
}

// GetContext executes a query that returns a single row
func (d *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer d.timer(queryType).ObserveDuration()

	err := d.db.GetContext(ctx, dest, d.Rebind(query), args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		d.metrics.RecordDBError("get_error")
		d.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}
	return err
}

// SelectContext executes a query that returns multiple rows
func (d *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	defer d.timer(queryType).ObserveDuration()

	if err := d.db.SelectContext(ctx, dest, d.Rebind(query), args...); err != nil {
		d.metrics.RecordDBError("select_error")
		d.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}
	return nil
}

// BeginTx begins a new transaction. Postgres transactions are serializable;
// SQLite already serializes writers.
func (d *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	var opts *sql.TxOptions
	if d.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		d.metrics.RecordDBError("transaction_begin_error")
		d.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}
	return tx, nil
}

// monitorConnectionPool periodically updates connection pool metrics until Close
func (d *DB) monitorConnectionPool() {
	ticker := time.NewTicker(poolMonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		stats := d.db.Stats()
		d.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

		// the single SQLite connection is always fully utilized while writing
		if d.dialect == DialectSQLite || stats.MaxOpenConnections <= 0 {
			continue
		}
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if utilization > 0.8 {
			d.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    stats.MaxOpenConnections,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
