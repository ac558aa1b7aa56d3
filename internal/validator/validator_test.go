package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-shapelets/internal/models"
)

func ptr[T any](v T) *T { return &v }

func day(s string) *time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func validRecord() models.ShapeletRecord {
	return models.ShapeletRecord{
		DatasetKey:    "North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore",
		ShapeletID:    0,
		SiteKey:       "NC_Beaufort_6",
		ParameterCode: "42401",
		Year:          2004,
		StartDate:     day("2004-01-01"),
		EndDate:       day("2004-01-07"),
		LengthDays:    ptr(7),
		Quality:       ptr(0.8),
		Values:        []float64{1, 2, 3, 4, 5, 6, 7},
		Latitude:      ptr(35.5),
		Longitude:     ptr(-76.6),
		SourceFile:    "a.pkl",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *models.ShapeletRecord)
		wantKind  models.ErrorKind
		wantField string
	}{
		{name: "valid record", mutate: func(r *models.ShapeletRecord) {}},
		{name: "optional fields absent", mutate: func(r *models.ShapeletRecord) {
			r.Latitude, r.Longitude, r.Quality, r.PatternType = nil, nil, nil, nil
		}},

		{name: "missing dataset_key", mutate: func(r *models.ShapeletRecord) { r.DatasetKey = "" },
			wantKind: models.KindMissingField, wantField: "dataset_key"},
		{name: "missing site_key", mutate: func(r *models.ShapeletRecord) { r.SiteKey = "" },
			wantKind: models.KindMissingField, wantField: "site_key"},
		{name: "missing start_date", mutate: func(r *models.ShapeletRecord) { r.StartDate = nil },
			wantKind: models.KindMissingField, wantField: "start_date"},
		{name: "missing end_date", mutate: func(r *models.ShapeletRecord) { r.EndDate = nil },
			wantKind: models.KindMissingField, wantField: "end_date"},
		{name: "missing length_days", mutate: func(r *models.ShapeletRecord) { r.LengthDays = nil },
			wantKind: models.KindMissingField, wantField: "length_days"},
		{name: "missing values", mutate: func(r *models.ShapeletRecord) { r.Values = nil },
			wantKind: models.KindMissingField, wantField: "values"},

		{name: "unparseable start_date", mutate: func(r *models.ShapeletRecord) {
			r.StartDate = nil
			r.Invalid = map[string]string{"start_date": "first of january"}
		}, wantKind: models.KindTypeError, wantField: "start_date"},
		{name: "non-numeric values", mutate: func(r *models.ShapeletRecord) {
			r.Values = nil
			r.Invalid = map[string]string{"values": "[1 two]"}
		}, wantKind: models.KindTypeError, wantField: "values"},
		{name: "invalid optional fields are dropped", mutate: func(r *models.ShapeletRecord) {
			r.Latitude, r.Quality, r.Year = nil, nil, 0
			r.Invalid = map[string]string{"latitude": "north", "quality": "n/a", "year": "FY2004"}
		}},
		{name: "core field reported before optional", mutate: func(r *models.ShapeletRecord) {
			r.EndDate = nil
			r.Invalid = map[string]string{"end_date": "soon", "data_type": "[z]"}
		}, wantKind: models.KindTypeError, wantField: "end_date"},
		{name: "zero length_days", mutate: func(r *models.ShapeletRecord) {
			r.LengthDays = ptr(0)
			r.Values = []float64{}
		}, wantKind: models.KindTypeError, wantField: "length_days"},
		{name: "negative length_days", mutate: func(r *models.ShapeletRecord) { r.LengthDays = ptr(-3) },
			wantKind: models.KindTypeError, wantField: "length_days"},

		{name: "values shorter than length_days", mutate: func(r *models.ShapeletRecord) { r.Values = []float64{1, 2, 3} },
			wantKind: models.KindLengthMismatch, wantField: "values"},
		{name: "end before start", mutate: func(r *models.ShapeletRecord) {
			r.StartDate = day("2004-01-07")
			r.EndDate = day("2004-01-01")
		}, wantKind: models.KindDateMismatch, wantField: "end_date"},
		{name: "range one day short", mutate: func(r *models.ShapeletRecord) { r.EndDate = day("2004-01-06") },
			wantKind: models.KindDateMismatch, wantField: "end_date"},

		{name: "length_days above a year", mutate: func(r *models.ShapeletRecord) {
			r.LengthDays = ptr(400)
			r.Values = make([]float64, 400)
			r.EndDate = ptr(r.StartDate.AddDate(0, 0, 399))
		}, wantKind: models.KindOutOfRange, wantField: "length_days"},
		{name: "latitude out of range", mutate: func(r *models.ShapeletRecord) { r.Latitude = ptr(91.0) },
			wantKind: models.KindOutOfRange, wantField: "latitude"},
		{name: "longitude out of range", mutate: func(r *models.ShapeletRecord) { r.Longitude = ptr(-180.5) },
			wantKind: models.KindOutOfRange, wantField: "longitude"},
		{name: "boundary coordinates", mutate: func(r *models.ShapeletRecord) {
			r.Latitude = ptr(-90.0)
			r.Longitude = ptr(180.0)
		}},
		{name: "leap year window", mutate: func(r *models.ShapeletRecord) {
			r.StartDate = day("2004-01-01")
			r.EndDate = day("2004-12-31")
			r.LengthDays = ptr(366)
			r.Values = make([]float64, 366)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			result := Validate(&rec)
			if tt.wantKind == "" {
				assert.True(t, result.Valid)
				assert.Nil(t, result.Err)
				return
			}
			assert.False(t, result.Valid)
			require.NotNil(t, result.Err)
			assert.Equal(t, tt.wantKind, result.Err.Kind)
			assert.Equal(t, tt.wantField, result.Err.Field)
		})
	}
}

func TestValidate_ShortCircuits(t *testing.T) {
	// missing end_date and inconsistent values: presence is reported first
	rec := validRecord()
	rec.EndDate = nil
	rec.Values = []float64{1}
	result := Validate(&rec)
	require.NotNil(t, result.Err)
	assert.Equal(t, models.KindMissingField, result.Err.Kind)

	// length mismatch wins over the date check
	rec = validRecord()
	rec.Values = []float64{1, 2, 3}
	rec.EndDate = day("2004-01-02")
	result = Validate(&rec)
	require.NotNil(t, result.Err)
	assert.Equal(t, models.KindLengthMismatch, result.Err.Kind)
	assert.Equal(t, "3", result.Err.Value)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	rec := validRecord()
	rec.Values = []float64{1, 2, 3}
	before := validRecord()
	before.Values = []float64{1, 2, 3}

	Validate(&rec)
	assert.Equal(t, before, rec)
}

func TestValidate_ErrorMessage(t *testing.T) {
	rec := validRecord()
	rec.StartDate = day("2004-01-07")
	rec.EndDate = day("2004-01-01")

	result := Validate(&rec)
	require.NotNil(t, result.Err)
	assert.Equal(t, "date-mismatch: date range covers -5 days, length_days is 7 (value=2004-01-07..2004-01-01)", result.Err.Error())
}

func TestDroppedFields(t *testing.T) {
	rec := validRecord()
	assert.Empty(t, DroppedFields(&rec))

	rec.Invalid = map[string]string{"quality": "n/a", "values": "[x]", "location": "{}"}
	assert.Equal(t, []string{"location", "quality"}, DroppedFields(&rec))
}
