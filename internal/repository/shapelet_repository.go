package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"air-shapelets/internal/models"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

// DefaultBatchSize is used when PersistShapelets is given a non-positive batch size
const DefaultBatchSize = 500

// ShapeletRepository provides data access for shapelets and ingestion runs
type ShapeletRepository interface {
	// Write operations
	PersistShapelets(ctx context.Context, records []models.ShapeletRecord, batchSize int) (PersistResult, error)

	// Ingestion run operations
	StartRun(ctx context.Context, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, summary RunSummary) error
	GetRun(ctx context.Context, id int64) (*models.IngestionRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*models.IngestionRun, error)

	// Lookup operations
	ListSites(ctx context.Context, limit, offset int) ([]*models.Site, error)
	ListPollutants(ctx context.Context) ([]*models.Pollutant, error)
	GetShapelets(ctx context.Context, filter ShapeletFilter) ([]*models.Shapelet, int, error)
	CountShapelets(ctx context.Context) (int, error)
	Summary(ctx context.Context) (*models.DatasetSummary, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// PersistResult counts the shapelet rows written by PersistShapelets
type PersistResult struct {
	Inserted int
	// Duplicates already present from an earlier run
	Skipped int
}

// RunSummary holds the final values of an ingestion run
type RunSummary struct {
	Status     models.RunStatus
	FinishedAt time.Time
	TotalFiles int
	TotalRows  int
	ErrorCount int
}

// ShapeletFilter defines filters for querying shapelets
type ShapeletFilter struct {
	SiteKey       *string
	ParameterCode *string
	Year          *int
	Limit         int
	Offset        int
}

const (
	upsertPollutantSQL = `
		INSERT INTO pollutants (parameter_code, name, unit)
		VALUES (?, ?, ?)
		ON CONFLICT (parameter_code) DO UPDATE SET
			name = COALESCE(excluded.name, pollutants.name),
			unit = COALESCE(excluded.unit, pollutants.unit)
	`

	upsertSiteSQL = `
		INSERT INTO sites (site_key, state, county, site_num, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_key) DO UPDATE SET
			latitude = COALESCE(excluded.latitude, sites.latitude),
			longitude = COALESCE(excluded.longitude, sites.longitude)
	`

	insertShapeletSQL = `
		INSERT INTO shapelets (
			dataset_key, shapelet_id, site_key, parameter_code,
			year, start_date, end_date, length_days,
			pattern_type, data_type, quality, shapelet_values,
			source_file
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset_key, shapelet_id, source_file) DO NOTHING
	`
)

// shapeletRepository implements ShapeletRepository
type shapeletRepository struct {
	db      *database.DB
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewShapeletRepository creates a new shapelet repository
func NewShapeletRepository(db *database.DB, logger logging.Logger, metricsCollector *metrics.Collector) ShapeletRepository {
	return &shapeletRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// PersistShapelets writes validated records in chunks of batchSize, one
// transaction per chunk. Reference rows are upserted before the shapelets
// that point at them. A failing row rolls back its whole chunk; chunks
// committed earlier stay committed.
func (r *shapeletRepository) PersistShapelets(ctx context.Context, records []models.ShapeletRecord, batchSize int) (PersistResult, error) {
	var result PersistResult
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		chunk, err := r.persistChunk(ctx, records[start:end])
		if err != nil {
			return result, err
		}
		result.Inserted += chunk.Inserted
		result.Skipped += chunk.Skipped
	}
	return result, nil
}

func (r *shapeletRepository) persistChunk(ctx context.Context, chunk []models.ShapeletRecord) (PersistResult, error) {
	var result PersistResult

	timer := r.metrics.NewTimer(r.metrics.DBQueryDuration.WithLabelValues("persist_batch"))
	defer func() {
		duration := timer.ObserveDuration()
		r.metrics.IngestionBatchSize.Observe(float64(len(chunk)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(chunk),
			"inserted":    result.Inserted,
			"skipped":     result.Skipped,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return result, r.persistenceError(err, chunk[0])
	}
	defer tx.Rollback()

	if err := r.upsertReferences(ctx, tx, chunk); err != nil {
		return result, err
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertShapeletSQL))
	if err != nil {
		return result, r.persistenceError(err, chunk[0])
	}
	defer stmt.Close()

	for i := range chunk {
		rec := &chunk[i]
		values, err := json.Marshal(rec.Values)
		if err != nil {
			return result, r.persistenceError(err, *rec)
		}

		res, err := stmt.ExecContext(ctx,
			rec.DatasetKey,
			rec.ShapeletID,
			rec.SiteKey,
			rec.ParameterCode,
			rec.Year,
			rec.StartDate.Format(models.DateLayout),
			rec.EndDate.Format(models.DateLayout),
			*rec.LengthDays,
			rec.PatternType,
			rec.DataType,
			rec.Quality,
			string(values),
			rec.SourceFile,
		)
		if err != nil {
			return PersistResult{}, r.persistenceError(err, *rec)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return PersistResult{}, r.persistenceError(err, *rec)
		}
		if affected > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return PersistResult{}, r.persistenceError(err, chunk[len(chunk)-1])
	}
	return result, nil
}

// upsertReferences inserts the chunk's pollutants and sites, once each
func (r *shapeletRepository) upsertReferences(ctx context.Context, tx *sqlx.Tx, chunk []models.ShapeletRecord) error {
	seenPollutants := make(map[string]bool)
	siteOrder := make([]string, 0, 1)
	sites := make(map[string]models.Site)
	firstRecord := make(map[string]int)

	for i := range chunk {
		rec := &chunk[i]
		if rec.ParameterCode != "" && !seenPollutants[rec.ParameterCode] {
			seenPollutants[rec.ParameterCode] = true
			p := models.LookupPollutant(rec.ParameterCode)
			if _, err := tx.ExecContext(ctx, tx.Rebind(upsertPollutantSQL), p.ParameterCode, p.Name, p.Unit); err != nil {
				return r.persistenceError(err, *rec)
			}
		}

		site, ok := sites[rec.SiteKey]
		if !ok {
			siteOrder = append(siteOrder, rec.SiteKey)
			firstRecord[rec.SiteKey] = i
			site = rec.Site()
		}
		// later windows may carry coordinates the first one lacked
		if rec.Latitude != nil {
			site.Latitude = rec.Latitude
		}
		if rec.Longitude != nil {
			site.Longitude = rec.Longitude
		}
		sites[rec.SiteKey] = site
	}

	for _, key := range siteOrder {
		s := sites[key]
		if _, err := tx.ExecContext(ctx, tx.Rebind(upsertSiteSQL),
			s.SiteKey, s.State, s.County, s.SiteNum, s.Latitude, s.Longitude); err != nil {
			return r.persistenceError(err, chunk[firstRecord[key]])
		}
	}
	return nil
}

func (r *shapeletRepository) persistenceError(err error, rec models.ShapeletRecord) *models.PersistenceError {
	kind := models.KindConnectionLost
	if database.IsConstraintViolation(err) {
		kind = models.KindConstraintViolation
	}
	r.metrics.RecordDBError(string(kind))
	return &models.PersistenceError{
		Kind:       kind,
		SourceFile: rec.SourceFile,
		ShapeletID: rec.ShapeletID,
		Err:        err,
	}
}

// StartRun creates a RUNNING ingestion run and returns its id
func (r *shapeletRepository) StartRun(ctx context.Context, startedAt time.Time) (int64, error) {
	query := `
		INSERT INTO ingestion_runs (started_at, status)
		VALUES (?, ?)
		RETURNING id
	`

	var id int64
	err := r.db.GetContext(ctx, "start_run", &id, query, startedAt.UTC().Format(time.RFC3339), string(models.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to start ingestion run: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_START_RUN] Ingestion run created", logging.Fields{
		"run_id": id,
	})
	return id, nil
}

// FinishRun finalizes a RUNNING ingestion run. A run is finalized once;
// finishing it again returns an error.
func (r *shapeletRepository) FinishRun(ctx context.Context, id int64, summary RunSummary) error {
	query := `
		UPDATE ingestion_runs
		SET finished_at = ?, status = ?, total_files = ?, total_rows = ?, error_count = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, "finish_run", query,
		summary.FinishedAt.UTC().Format(time.RFC3339),
		string(summary.Status),
		summary.TotalFiles,
		summary.TotalRows,
		summary.ErrorCount,
		id,
		string(models.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingestion run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish ingestion run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("ingestion run %d is not running", id)
	}
	return nil
}

// GetRun retrieves an ingestion run by id
func (r *shapeletRepository) GetRun(ctx context.Context, id int64) (*models.IngestionRun, error) {
	query := `
		SELECT id, started_at, finished_at, status, total_files, total_rows, error_count
		FROM ingestion_runs
		WHERE id = ?
	`

	var run models.IngestionRun
	err := r.db.GetContext(ctx, "get_run", &run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "ingestion_run",
			ID:       fmt.Sprint(id),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves ingestion runs, newest first
func (r *shapeletRepository) ListRuns(ctx context.Context, limit, offset int) ([]*models.IngestionRun, error) {
	query := `
		SELECT id, started_at, finished_at, status, total_files, total_rows, error_count
		FROM ingestion_runs
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	var runs []*models.IngestionRun
	if err := r.db.SelectContext(ctx, "list_runs", &runs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	return runs, nil
}

// ListSites retrieves monitoring sites with pagination
func (r *shapeletRepository) ListSites(ctx context.Context, limit, offset int) ([]*models.Site, error) {
	query := `
		SELECT site_key, state, county, site_num, latitude, longitude
		FROM sites
		ORDER BY site_key
		LIMIT ? OFFSET ?
	`

	var sites []*models.Site
	if err := r.db.SelectContext(ctx, "list_sites", &sites, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

// ListPollutants retrieves all pollutant rows
func (r *shapeletRepository) ListPollutants(ctx context.Context) ([]*models.Pollutant, error) {
	query := `
		SELECT parameter_code, name, unit
		FROM pollutants
		ORDER BY parameter_code
	`

	var pollutants []*models.Pollutant
	if err := r.db.SelectContext(ctx, "list_pollutants", &pollutants, query); err != nil {
		return nil, fmt.Errorf("failed to list pollutants: %w", err)
	}
	return pollutants, nil
}

// GetShapelets retrieves shapelets with filtering and pagination
func (r *shapeletRepository) GetShapelets(ctx context.Context, filter ShapeletFilter) ([]*models.Shapelet, int, error) {
	query := `
		SELECT id, dataset_key, shapelet_id, site_key, parameter_code, year,
		       start_date, end_date, length_days, pattern_type, data_type,
		       quality, shapelet_values, source_file
		FROM shapelets
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SiteKey != nil {
		query += " AND site_key = ?"
		args = append(args, *filter.SiteKey)
	}
	if filter.ParameterCode != nil {
		query += " AND parameter_code = ?"
		args = append(args, *filter.ParameterCode)
	}
	if filter.Year != nil {
		query += " AND year = ?"
		args = append(args, *filter.Year)
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_shapelets_filtered", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count shapelets: %w", err)
	}

	query += " ORDER BY start_date, dataset_key, source_file, shapelet_id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	var shapelets []*models.Shapelet
	if err := r.db.SelectContext(ctx, "get_shapelets", &shapelets, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get shapelets: %w", err)
	}
	return shapelets, totalCount, nil
}

// CountShapelets returns the number of stored shapelet rows
func (r *shapeletRepository) CountShapelets(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, "count_shapelets", &count, "SELECT COUNT(*) FROM shapelets"); err != nil {
		return 0, fmt.Errorf("failed to count shapelets: %w", err)
	}
	return count, nil
}

// Summary reports row counts, covered dates, years and pattern types
func (r *shapeletRepository) Summary(ctx context.Context) (*models.DatasetSummary, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM shapelets) AS shapelet_count,
			(SELECT COUNT(*) FROM sites) AS site_count,
			(SELECT MIN(start_date) FROM shapelets) AS first_date,
			(SELECT MAX(end_date) FROM shapelets) AS last_date
	`

	var summary models.DatasetSummary
	if err := r.db.GetContext(ctx, "summary", &summary, query); err != nil {
		return nil, fmt.Errorf("failed to summarize shapelets: %w", err)
	}

	summary.Years = []int{}
	if err := r.db.SelectContext(ctx, "list_years", &summary.Years,
		"SELECT DISTINCT year FROM shapelets ORDER BY year"); err != nil {
		return nil, fmt.Errorf("failed to list years: %w", err)
	}

	summary.PatternTypes = []string{}
	if err := r.db.SelectContext(ctx, "list_pattern_types", &summary.PatternTypes,
		"SELECT DISTINCT pattern_type FROM shapelets WHERE pattern_type IS NOT NULL ORDER BY pattern_type"); err != nil {
		return nil, fmt.Errorf("failed to list pattern types: %w", err)
	}
	return &summary, nil
}

// HealthCheck performs a repository health check
func (r *shapeletRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
