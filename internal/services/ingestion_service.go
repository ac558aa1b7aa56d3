package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"air-shapelets/internal/flatten"
	"air-shapelets/internal/loader"
	"air-shapelets/internal/models"
	"air-shapelets/internal/parser"
	"air-shapelets/internal/repository"
	"air-shapelets/internal/validator"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

// ErrNoInputFiles is returned when discovery finds nothing to ingest
var ErrNoInputFiles = errors.New("no input files found")

// IngestionOptions control one ingestion run
type IngestionOptions struct {
	InputDir  string
	Recursive bool
	DryRun    bool
	// Limit caps the number of files processed, 0 means no limit
	Limit     int
	BatchSize int
}

// IngestionService runs the shapelet ETL pipeline
type IngestionService struct {
	repo    repository.ShapeletRepository
	logger  logging.Logger
	metrics *metrics.Collector
	clock   clockwork.Clock
}

// Rejection is a record that failed validation
type Rejection struct {
	DatasetKey string
	ShapeletID int
	Err        *models.ValidationError
}

// FileResult holds the outcome of one input file
type FileResult struct {
	Path       string
	SourceFile string
	Datasets   int
	Records    int
	Valid      int
	Rejected   int
	Inserted   int
	Skipped    int
	FirstDate  *time.Time
	LastDate   *time.Time
	Rejections []Rejection
	// Err is set when LOAD or PARSE aborted the file
	Err error
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	RunID         int64
	CorrelationID string
	DryRun        bool
	Status        models.RunStatus
	TotalFiles    int
	FilesFailed   int
	TotalRecords  int
	ValidRecords  int
	Rejected      int
	Inserted      int
	Skipped       int
	Duration      time.Duration
	Files         []*FileResult
}

// TotalRows is the run's total_rows: valid rows handed to persistence
func (r *IngestionResult) TotalRows() int {
	return r.Inserted + r.Skipped
}

// ErrorCount is the run's error_count: failed files plus rejected records
func (r *IngestionResult) ErrorCount() int {
	return r.FilesFailed + r.Rejected
}

// NewIngestionService creates a new ingestion service. repo may be nil when
// the service is only used for dry runs.
func NewIngestionService(repo repository.ShapeletRepository, logger logging.Logger, metricsCollector *metrics.Collector, clock clockwork.Clock) *IngestionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		clock:   clock,
	}
}

// Run ingests every supported file below opts.InputDir.
// A returned error means the run failed as a whole; per-file errors are
// reported in the result.
func (s *IngestionService) Run(ctx context.Context, opts IngestionOptions) (*IngestionResult, error) {
	startTime := s.clock.Now()

	correlationID := logging.RunIDFromContext(ctx)
	if correlationID == "" {
		ctx, correlationID = logging.WithRunID(ctx)
	}

	if !opts.DryRun && s.repo == nil {
		return nil, errors.New("ingestion service has no repository")
	}

	s.logger.Info(ctx, "[INGEST_START] Starting shapelet ingestion", logging.Fields{
		"input_dir":  opts.InputDir,
		"recursive":  opts.Recursive,
		"dry_run":    opts.DryRun,
		"limit":      opts.Limit,
		"batch_size": opts.BatchSize,
		"stage":      "INITIALIZATION",
	})

	files, err := loader.Discover(opts.InputDir, opts.Recursive)
	if err != nil {
		s.metrics.RecordRun(string(models.RunStatusFailed))
		return nil, err
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	if len(files) == 0 {
		s.metrics.RecordRun(string(models.RunStatusFailed))
		return nil, fmt.Errorf("%w in %s", ErrNoInputFiles, opts.InputDir)
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found input files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	result := &IngestionResult{
		CorrelationID: correlationID,
		DryRun:        opts.DryRun,
		Status:        models.RunStatusRunning,
		TotalFiles:    len(files),
		Files:         make([]*FileResult, 0, len(files)),
	}

	if !opts.DryRun {
		result.RunID, err = s.repo.StartRun(ctx, startTime)
		if err != nil {
			s.metrics.RecordRun(string(models.RunStatusFailed))
			return nil, fmt.Errorf("failed to start ingestion run: %w", err)
		}
	}

	for _, path := range files {
		fileResult, valid := s.processFile(ctx, path)
		result.Files = append(result.Files, fileResult)
		result.TotalRecords += fileResult.Records
		result.ValidRecords += fileResult.Valid
		result.Rejected += fileResult.Rejected

		if fileResult.Err != nil {
			result.FilesFailed++
			s.metrics.RecordFile("failed")
			continue
		}

		if !opts.DryRun && len(valid) > 0 {
			persisted, err := s.repo.PersistShapelets(ctx, valid, opts.BatchSize)
			fileResult.Inserted = persisted.Inserted
			fileResult.Skipped = persisted.Skipped
			result.Inserted += persisted.Inserted
			result.Skipped += persisted.Skipped
			s.metrics.RecordRecords("inserted", persisted.Inserted)
			s.metrics.RecordRecords("duplicate", persisted.Skipped)

			if err != nil {
				s.metrics.RecordFile("failed")
				s.recordError(err)
				s.logger.Error(ctx, "[INGEST_PERSIST_ERROR] Failed to persist shapelets, aborting run", logging.Fields{
					"file":     fileResult.SourceFile,
					"inserted": persisted.Inserted,
					"stage":    "PERSIST",
				}, err)
				return result, s.finish(ctx, result, startTime, err)
			}
		}
		s.metrics.RecordFile("processed")
	}

	if err := s.finish(ctx, result, startTime, nil); err != nil {
		return result, err
	}
	return result, nil
}

// finish finalizes the run row and emits the completion log. runErr is the
// error that aborted the run, if any, and is returned joined with any
// finalization failure.
func (s *IngestionService) finish(ctx context.Context, result *IngestionResult, startTime time.Time, runErr error) error {
	result.Status = models.RunStatusCompleted
	if runErr != nil {
		result.Status = models.RunStatusFailed
	}
	finishedAt := s.clock.Now()
	result.Duration = finishedAt.Sub(startTime)

	if !result.DryRun {
		err := s.repo.FinishRun(ctx, result.RunID, repository.RunSummary{
			Status:     result.Status,
			FinishedAt: finishedAt,
			TotalFiles: result.TotalFiles,
			TotalRows:  result.TotalRows(),
			ErrorCount: result.ErrorCount(),
		})
		if err != nil {
			s.logger.Error(ctx, "[INGEST_FINALIZE_ERROR] Failed to finalize ingestion run", logging.Fields{
				"run_db_id": result.RunID,
				"status":    string(result.Status),
			}, err)
			if runErr == nil {
				result.Status = models.RunStatusFailed
			}
			runErr = errors.Join(runErr, fmt.Errorf("failed to finalize ingestion run: %w", err))
		}
	}

	s.metrics.RecordRun(string(result.Status))
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Ingestion finished", logging.Fields{
		"run_db_id":        result.RunID,
		"status":           string(result.Status),
		"dry_run":          result.DryRun,
		"total_files":      result.TotalFiles,
		"files_failed":     result.FilesFailed,
		"total_records":    result.TotalRecords,
		"valid_records":    result.ValidRecords,
		"rejected_records": result.Rejected,
		"inserted":         result.Inserted,
		"skipped":          result.Skipped,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})
	return runErr
}

// processFile runs LOAD, PARSE, FLATTEN and VALIDATE for one file and
// returns the records that passed validation
func (s *IngestionService) processFile(ctx context.Context, path string) (*FileResult, []models.ShapeletRecord) {
	fileResult := &FileResult{
		Path:       path,
		SourceFile: filepath.Base(path),
	}
	log := s.logger.WithFields(logging.Fields{"file": fileResult.SourceFile})

	log.Debug(ctx, "[INGEST_FILE_START] Processing file", logging.Fields{
		"path":  path,
		"stage": "LOAD",
	})

	payload, err := loader.Load(path)
	if err != nil {
		s.fileError(ctx, log, fileResult, "LOAD", err)
		return fileResult, nil
	}
	fileResult.SourceFile = payload.SourceFile()

	datasets, err := payload.Datasets()
	if err != nil {
		s.fileError(ctx, log, fileResult, "LOAD", err)
		return fileResult, nil
	}
	fileResult.Datasets = len(datasets)

	// every key must parse before any record of the file is accepted
	keys := make([]models.DatasetKey, len(datasets))
	for i, ds := range datasets {
		key, err := parser.ParseDatasetKey(ds.Key)
		if err != nil {
			s.fileError(ctx, log, fileResult, "PARSE", err)
			return fileResult, nil
		}
		keys[i] = key
		checkFilename(ctx, log, path, ds.Key, key)
	}

	var valid []models.ShapeletRecord
	for i, ds := range datasets {
		for rec := range flatten.Records(ds, keys[i], fileResult.SourceFile) {
			fileResult.Records++

			res := validator.Validate(&rec)
			if !res.Valid {
				fileResult.Rejected++
				fileResult.Rejections = append(fileResult.Rejections, Rejection{
					DatasetKey: rec.DatasetKey,
					ShapeletID: rec.ShapeletID,
					Err:        res.Err,
				})
				s.metrics.RecordIngestionError(string(res.Err.Kind))
				log.Warn(ctx, "[INGEST_RECORD_REJECTED] Record failed validation", logging.Fields{
					"dataset_key": rec.DatasetKey,
					"shapelet_id": rec.ShapeletID,
					"kind":        string(res.Err.Kind),
					"field":       res.Err.Field,
					"reason":      res.Err.Error(),
					"stage":       "VALIDATE",
				})
				continue
			}

			if dropped := validator.DroppedFields(&rec); len(dropped) > 0 {
				log.Warn(ctx, "[INGEST_FIELD_DROPPED] Uncoercible optional fields stored as NULL", logging.Fields{
					"dataset_key": rec.DatasetKey,
					"shapelet_id": rec.ShapeletID,
					"fields":      dropped,
					"stage":       "VALIDATE",
				})
			}

			fileResult.Valid++
			trackDates(fileResult, &rec)
			valid = append(valid, rec)
		}
	}

	s.metrics.RecordRecords("valid", fileResult.Valid)
	s.metrics.RecordRecords("rejected", fileResult.Rejected)

	log.Debug(ctx, "[INGEST_FILE_COMPLETE] File processed", logging.Fields{
		"datasets": fileResult.Datasets,
		"records":  fileResult.Records,
		"valid":    fileResult.Valid,
		"rejected": fileResult.Rejected,
		"stage":    "VALIDATE",
	})
	return fileResult, valid
}

// checkFilename warns when an exported filename disagrees with its dataset key.
// The key always wins.
func checkFilename(ctx context.Context, log *logging.ContextLogger, path, datasetKey string, key models.DatasetKey) {
	meta, ok := parser.ParseFilename(path)
	if !ok {
		return
	}
	if meta.State != key.State || meta.County != key.County || meta.SiteNum != key.SiteNum || meta.Year != key.Year {
		log.Warn(ctx, "[INGEST_FILENAME_MISMATCH] Filename metadata disagrees with dataset key", logging.Fields{
			"dataset_key": datasetKey,
			"stage":       "PARSE",
		})
	}
}

func (s *IngestionService) fileError(ctx context.Context, log *logging.ContextLogger, fileResult *FileResult, stage string, err error) {
	fileResult.Err = err
	s.recordError(err)
	log.Error(ctx, "[INGEST_FILE_ERROR] Failed to process file", logging.Fields{
		"stage": stage,
	}, err)
}

// recordError counts err under its kind
func (s *IngestionService) recordError(err error) {
	s.metrics.RecordIngestionError(errorKind(err))
}

func errorKind(err error) string {
	var (
		loadErr    *models.LoadError
		parseErr   *models.ParseError
		persistErr *models.PersistenceError
	)
	switch {
	case errors.As(err, &loadErr):
		return string(loadErr.Kind)
	case errors.As(err, &parseErr):
		return string(parseErr.Kind)
	case errors.As(err, &persistErr):
		return string(persistErr.Kind)
	}
	return "unknown"
}

func trackDates(fileResult *FileResult, rec *models.ShapeletRecord) {
	if rec.StartDate != nil && (fileResult.FirstDate == nil || rec.StartDate.Before(*fileResult.FirstDate)) {
		start := *rec.StartDate
		fileResult.FirstDate = &start
	}
	if rec.EndDate != nil && (fileResult.LastDate == nil || rec.EndDate.After(*fileResult.LastDate)) {
		end := *rec.EndDate
		fileResult.LastDate = &end
	}
}
