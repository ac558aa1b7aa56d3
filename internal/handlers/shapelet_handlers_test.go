package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-shapelets/internal/models"
	"air-shapelets/internal/repository"
	"air-shapelets/internal/services"
	"air-shapelets/pkg/database"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

func ptr[T any](v T) *T { return &v }

// newTestRouter serves a database holding 4 shapelets for one site, two of them in 2005
func newTestRouter(t *testing.T) (*mux.Router, int64) {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("test")

	db, err := database.Open(&database.Config{URL: filepath.Join(t.TempDir(), "air.db")}, logger, collector)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, database.Up))

	repo := repository.NewShapeletRepository(db, logger, collector)
	base := time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)
	records := make([]models.ShapeletRecord, 4)
	for i := range records {
		start := base.AddDate(0, 0, i)
		end := start.AddDate(0, 0, 6)
		records[i] = models.ShapeletRecord{
			DatasetKey:    "North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore",
			ShapeletID:    i,
			SiteKey:       "NC_Beaufort_6",
			ParameterCode: "42401",
			Year:          2004 + i/2,
			StartDate:     &start,
			EndDate:       &end,
			LengthDays:    ptr(7),
			Values:        []float64{1, 2, 3, 4, 5, 6, 7},
			SourceFile:    "beaufort.pkl",
			State:         "North Carolina",
			County:        "Beaufort",
			SiteNum:       6,
		}
	}
	_, err = repo.PersistShapelets(ctx, records, 0)
	require.NoError(t, err)

	runID, err := repo.StartRun(ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	handler := NewShapeletHandler(services.NewLookupService(repo, logger, collector), logger, collector)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router, runID
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestGetShapelets(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantTotal  int
		wantLen    int
	}{
		{"all", "/api/shapelets", http.StatusOK, 4, 4},
		{"by year", "/api/shapelets?year=2005", http.StatusOK, 2, 2},
		{"by site and code", "/api/shapelets?site_key=NC_Beaufort_6&parameter_code=42401", http.StatusOK, 4, 4},
		{"unknown site", "/api/shapelets?site_key=NC_Nowhere_1", http.StatusOK, 0, 0},
		{"paged", "/api/shapelets?page=2&limit=3", http.StatusOK, 4, 1},
		{"bad year", "/api/shapelets?year=twenty", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, tt.target)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				var errResp ErrorResponse
				decode(t, rec, &errResp)
				assert.Equal(t, tt.wantStatus, errResp.Code)
				return
			}

			var resp struct {
				Data  []models.Shapelet `json:"data"`
				Total int               `json:"total"`
			}
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantTotal, resp.Total)
			assert.Len(t, resp.Data, tt.wantLen)
		})
	}
}

func TestLookups(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/api/sites")
	require.Equal(t, http.StatusOK, rec.Code)
	var sites struct {
		Data  []models.Site `json:"data"`
		Count int           `json:"count"`
	}
	decode(t, rec, &sites)
	require.Equal(t, 1, sites.Count)
	assert.Equal(t, "NC_Beaufort_6", sites.Data[0].SiteKey)

	rec = get(t, router, "/api/pollutants")
	require.Equal(t, http.StatusOK, rec.Code)
	var pollutants struct {
		Data []models.Pollutant `json:"data"`
	}
	decode(t, rec, &pollutants)
	require.Len(t, pollutants.Data, 1)
	assert.Equal(t, "Sulfur dioxide", *pollutants.Data[0].Name)

	rec = get(t, router, "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.DatasetSummary
	decode(t, rec, &summary)
	assert.Equal(t, 4, summary.ShapeletCount)
	assert.Equal(t, []int{2004, 2005}, summary.Years)
}

func TestRuns(t *testing.T) {
	router, runID := newTestRouter(t)

	rec := get(t, router, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Data []models.IngestionRun `json:"data"`
	}
	decode(t, rec, &runs)
	require.Len(t, runs.Data, 1)
	assert.Equal(t, models.RunStatusRunning, runs.Data[0].Status)

	rec = get(t, router, "/api/runs/"+strconv.FormatInt(runID, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	var run models.IngestionRun
	decode(t, rec, &run)
	assert.Equal(t, runID, run.ID)

	rec = get(t, router, "/api/runs/9999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/api/runs/abc")
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-numeric ids do not match the route")
}

func TestHealthAndDocs(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = get(t, router, "/api/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decode(t, rec, &spec)
	assert.Equal(t, "3.0.0", spec.OpenAPI)
	for _, path := range []string{"/api/shapelets", "/api/sites", "/api/pollutants", "/api/runs", "/api/runs/{id}", "/api/summary", "/health"} {
		assert.Contains(t, spec.Paths, path)
	}

	rec = get(t, router, "/api/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Air Shapelets API Documentation")
}

func TestRequestIDIsPropagated(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}
