package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-shapelets/internal/models"
	"air-shapelets/internal/repository"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

const beaufortKey = "North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore"

var runStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo    repository.ShapeletRepository
	service *IngestionService
	metrics *metrics.Collector
	clock   *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("test")

	db, err := database.Open(&database.Config{URL: filepath.Join(t.TempDir(), "air.db")}, logger, collector)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), database.Up))

	repo := repository.NewShapeletRepository(db, logger, collector)
	clock := clockwork.NewFakeClockAt(runStart)
	return &testEnv{
		repo:    repo,
		service: NewIngestionService(repo, logger, collector, clock),
		metrics: collector,
		clock:   clock,
	}
}

func windows(n int) []map[string]interface{} {
	out := make([]map[string]interface{}, n)
	base := time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		start := base.AddDate(0, 0, i)
		out[i] = map[string]interface{}{
			"start_date":   start.Format(models.DateLayout),
			"end_date":     start.AddDate(0, 0, 6).Format(models.DateLayout),
			"length_days":  7,
			"quality":      0.9,
			"shapelet":     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7},
			"pattern_type": "daily_42401",
			"data_type":    "zscore",
			"latitude":     35.5,
			"longitude":    -76.6,
		}
	}
	return out
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "beaufort.json"), map[string]interface{}{beaufortKey: windows(50)})

	result, err := env.service.Run(ctx, IngestionOptions{InputDir: dir, BatchSize: 20})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.TotalFiles)
	assert.Equal(t, 50, result.Inserted)
	assert.Equal(t, 50, result.TotalRows())
	assert.Zero(t, result.ErrorCount())
	assert.NotEmpty(t, result.CorrelationID)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "beaufort.json", result.Files[0].SourceFile)
	assert.Equal(t, "2004-01-01", result.Files[0].FirstDate.Format(models.DateLayout))
	assert.Equal(t, "2004-02-25", result.Files[0].LastDate.Format(models.DateLayout))

	count, err := env.repo.CountShapelets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, count)

	sites, err := env.repo.ListSites(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "NC_Beaufort_6", sites[0].SiteKey)

	pollutants, err := env.repo.ListPollutants(ctx)
	require.NoError(t, err)
	require.Len(t, pollutants, 1)
	assert.Equal(t, "42401", pollutants[0].ParameterCode)

	run, err := env.repo.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.TotalFiles)
	assert.Equal(t, 50, run.TotalRows)
	assert.Equal(t, 0, run.ErrorCount)
	assert.Equal(t, "2026-03-01T12:00:00Z", run.StartedAt)
}

func TestRun_RejectedRecordIsCounted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()

	ws := windows(50)
	ws[29]["shapelet"] = []float64{1, 2, 3, 4, 5}
	writeJSON(t, filepath.Join(dir, "beaufort.json"), map[string]interface{}{beaufortKey: ws})

	result, err := env.service.Run(ctx, IngestionOptions{InputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 49, result.Inserted)
	assert.Equal(t, 1, result.ErrorCount())

	require.Len(t, result.Files[0].Rejections, 1)
	rejection := result.Files[0].Rejections[0]
	assert.Equal(t, 29, rejection.ShapeletID)
	assert.Equal(t, models.KindLengthMismatch, rejection.Err.Kind)

	run, err := env.repo.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 49, run.TotalRows)
	assert.Equal(t, 1, run.ErrorCount)

	count, err := env.repo.CountShapelets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 49, count)
}

func TestRun_UncoercibleOptionalFieldsAreStoredAsNull(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	var buf bytes.Buffer
	logger := logging.NewStructuredLogger("ingester", "test", logging.DebugLevel)
	logger.SetOutput(&buf)
	service := NewIngestionService(env.repo, logger, env.metrics, env.clock)
	dir := t.TempDir()

	ws := windows(5)
	ws[3]["quality"] = "n/a"
	ws[3]["pattern_type"] = []string{"daily"}
	ws[3]["latitude"] = map[string]interface{}{"deg": 35}
	writeJSON(t, filepath.Join(dir, "beaufort.json"), map[string]interface{}{beaufortKey: ws})

	result, err := service.Run(ctx, IngestionOptions{InputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Inserted)
	assert.Zero(t, result.ErrorCount())
	assert.Empty(t, result.Files[0].Rejections)

	shapelets, _, err := env.repo.GetShapelets(ctx, repository.ShapeletFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, shapelets, 5)
	for _, sh := range shapelets {
		if sh.ShapeletID == 3 {
			assert.Nil(t, sh.Quality)
			assert.Nil(t, sh.PatternType)
			continue
		}
		require.NotNil(t, sh.Quality)
		assert.Equal(t, 0.9, *sh.Quality)
	}

	out := buf.String()
	assert.Contains(t, out, "[INGEST_FIELD_DROPPED]")
	assert.Contains(t, out, `"fields":["latitude","pattern_type","quality"]`)
	assert.Contains(t, out, `"file":"beaufort.json"`)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "beaufort.json"), map[string]interface{}{beaufortKey: windows(10)})

	_, err := env.service.Run(ctx, IngestionOptions{InputDir: dir})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	result, err := env.service.Run(ctx, IngestionOptions{InputDir: dir})
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, 10, result.Skipped)

	count, err := env.repo.CountShapelets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	runs, err := env.repo.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_DryRunLeavesDatabaseUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "beaufort.json"), map[string]interface{}{beaufortKey: windows(5)})

	// a dry-run service never needs a repository
	dryRun := NewIngestionService(nil, logging.NewNopLogger(), env.metrics, env.clock)
	result, err := dryRun.Run(ctx, IngestionOptions{InputDir: dir, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Zero(t, result.RunID)
	assert.Equal(t, 5, result.ValidRecords)
	assert.Zero(t, result.Inserted)

	// the same through a service that holds a repository
	result, err = env.service.Run(ctx, IngestionOptions{InputDir: dir, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, result.Status)

	count, err := env.repo.CountShapelets(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	runs, err := env.repo.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_FileErrorsDoNotAbortRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()

	// an archive with two candidates and no member named
	f, err := os.Create(filepath.Join(dir, "a_bundle.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{"one.json", "two.json"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		data, err := json.Marshal(map[string]interface{}{beaufortKey: windows(3)})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	writeJSON(t, filepath.Join(dir, "b_malformed.json"), map[string]interface{}{"Beaufort_6": windows(3)})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c_corrupt.json"), []byte("{not json"), 0o644))

	result, err := env.service.Run(ctx, IngestionOptions{InputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 3, result.TotalFiles)
	assert.Equal(t, 3, result.FilesFailed)
	assert.Equal(t, 3, result.ErrorCount())
	assert.Zero(t, result.TotalRows())

	var loadErr *models.LoadError
	require.True(t, errors.As(result.Files[0].Err, &loadErr))
	assert.Equal(t, models.KindAmbiguousMember, loadErr.Kind)

	var parseErr *models.ParseError
	require.True(t, errors.As(result.Files[1].Err, &parseErr))
	assert.Equal(t, models.KindMalformedKey, parseErr.Kind)

	require.True(t, errors.As(result.Files[2].Err, &loadErr))
	assert.Equal(t, models.KindCorrupt, loadErr.Kind)

	count, err := env.repo.CountShapelets(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	run, err := env.repo.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.ErrorCount)
}

func TestRun_Limit(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		writeJSON(t, filepath.Join(dir, name), map[string]interface{}{beaufortKey: windows(2)})
	}

	result, err := env.service.Run(context.Background(), IngestionOptions{InputDir: dir, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFiles)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "b.json", result.Files[1].SourceFile)
	assert.Equal(t, 4, result.Inserted)
}

func TestRun_NoInputFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	_, err := env.service.Run(context.Background(), IngestionOptions{InputDir: dir})
	assert.True(t, errors.Is(err, ErrNoInputFiles))

	runs, err := env.repo.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// failingRepository fails every persist call and records how the run was finalized
type failingRepository struct {
	repository.ShapeletRepository
	finished *repository.RunSummary
}

func (r *failingRepository) StartRun(context.Context, time.Time) (int64, error) {
	return 7, nil
}

func (r *failingRepository) PersistShapelets(_ context.Context, records []models.ShapeletRecord, _ int) (repository.PersistResult, error) {
	return repository.PersistResult{}, &models.PersistenceError{
		Kind:       models.KindConnectionLost,
		SourceFile: records[0].SourceFile,
		ShapeletID: records[0].ShapeletID,
		Err:        errors.New("connection reset by peer"),
	}
}

func (r *failingRepository) FinishRun(_ context.Context, _ int64, summary repository.RunSummary) error {
	r.finished = &summary
	return nil
}

func TestRun_PersistenceFailureAbortsRun(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "a.json"), map[string]interface{}{beaufortKey: windows(3)})
	writeJSON(t, filepath.Join(dir, "b.json"), map[string]interface{}{beaufortKey: windows(3)})

	repo := &failingRepository{}
	clock := clockwork.NewFakeClockAt(runStart)
	service := NewIngestionService(repo, logging.NewNopLogger(), metrics.NewCollector("test"), clock)

	result, err := service.Run(context.Background(), IngestionOptions{InputDir: dir})
	require.Error(t, err)

	var persistErr *models.PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.True(t, persistErr.IsTransient())

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Len(t, result.Files, 1, "the run stops at the failing file")
	require.NotNil(t, repo.finished)
	assert.Equal(t, models.RunStatusFailed, repo.finished.Status)
	assert.Equal(t, int64(7), result.RunID)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&models.LoadError{Kind: models.KindNotFound}, "not-found"},
		{&models.ParseError{Kind: models.KindMalformedKey}, "malformed-key"},
		{&models.PersistenceError{Kind: models.KindConstraintViolation}, "constraint-violation"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}
