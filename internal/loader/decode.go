package loader

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"air-shapelets/internal/models"
)

// Accepted textual date layouts, tried in order
var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102",
}

// maxInvalidValueLen bounds the offending value kept for error reports
const maxInvalidValueLen = 64

// Decode converts a deserialized payload into typed datasets.
// The top level must map dataset keys to sequences of per-window mappings.
func Decode(raw interface{}) ([]models.Dataset, error) {
	top, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top-level object is %T, expected a mapping of dataset key to windows", raw)
	}
	if len(top) == 0 {
		return nil, errors.New("top-level mapping is empty")
	}

	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	datasets := make([]models.Dataset, 0, len(keys))
	for _, key := range keys {
		items, ok := asSlice(top[key])
		if !ok {
			return nil, fmt.Errorf("dataset %q holds %T, expected a sequence of windows", key, top[key])
		}

		windows := make([]models.Window, 0, len(items))
		for _, item := range items {
			windows = append(windows, DecodeWindow(item))
		}
		datasets = append(datasets, models.Dataset{Key: key, Windows: windows})
	}
	return datasets, nil
}

// DecodeWindow extracts the typed fields of one per-window mapping.
//
//	start_date, end_date  date, datetime or ISO string, truncated to the UTC day
//	length_days, year     integral number
//	quality               number; NaN is treated as absent
//	shapelet | values     sequence of finite numbers
//	latitude, longitude   number; NaN is treated as absent
//	pattern_type, data_type, location  string; numbers and booleans are formatted
//
// Absent or None fields stay nil. Present values that fail coercion stay nil
// and are recorded in Window.Invalid. Only the core fields (dates, length_days,
// values) reject a record; the optional ones are simply dropped.
func DecodeWindow(item interface{}) models.Window {
	w := models.Window{}
	m, ok := item.(map[string]interface{})
	if !ok {
		w.Invalid = map[string]string{"window": describe(item)}
		return w
	}

	w.StartDate = dateField(&w, m, "start_date")
	w.EndDate = dateField(&w, m, "end_date")
	w.LengthDays = intField(&w, m, "length_days")
	w.Year = intField(&w, m, "year")
	w.Quality = floatField(&w, m, "quality")
	w.Latitude = floatField(&w, m, "latitude")
	w.Longitude = floatField(&w, m, "longitude")
	w.PatternType = stringField(&w, m, "pattern_type")
	w.DataType = stringField(&w, m, "data_type")
	w.Location = stringField(&w, m, "location")

	valuesKey := "shapelet"
	if _, ok := m[valuesKey]; !ok {
		valuesKey = "values"
	}
	if raw, ok := present(m, valuesKey); ok {
		values, ok := coerceValues(raw)
		if ok {
			w.Values = values
		} else {
			markInvalid(&w, "values", raw)
		}
	}
	return w
}

func present(m map[string]interface{}, field string) (interface{}, bool) {
	v, ok := m[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func dateField(w *models.Window, m map[string]interface{}, field string) *time.Time {
	raw, ok := present(m, field)
	if !ok {
		return nil
	}
	t, ok := coerceDate(raw)
	if !ok {
		markInvalid(w, field, raw)
		return nil
	}
	return &t
}

func intField(w *models.Window, m map[string]interface{}, field string) *int {
	raw, ok := present(m, field)
	if !ok {
		return nil
	}
	n, ok := asInt(raw)
	if !ok {
		if s, isString := raw.(string); isString {
			parsed, err := strconv.Atoi(strings.TrimSpace(s))
			if err == nil {
				v := parsed
				return &v
			}
		}
		markInvalid(w, field, raw)
		return nil
	}
	v := int(n)
	return &v
}

func floatField(w *models.Window, m map[string]interface{}, field string) *float64 {
	raw, ok := present(m, field)
	if !ok {
		return nil
	}
	f, ok := asFloat(raw)
	if !ok {
		s, isString := raw.(string)
		if !isString {
			markInvalid(w, field, raw)
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			markInvalid(w, field, raw)
			return nil
		}
		f = parsed
	}
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func stringField(w *models.Window, m map[string]interface{}, field string) *string {
	raw, ok := present(m, field)
	if !ok {
		return nil
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case bool:
		s = strconv.FormatBool(v)
	case float64:
		if math.IsNaN(v) {
			return nil
		}
		s = strconv.FormatFloat(v, 'g', -1, 64)
	default:
		n, ok := asInt(raw)
		if !ok {
			markInvalid(w, field, raw)
			return nil
		}
		s = strconv.FormatInt(n, 10)
	}
	return &s
}

func coerceDate(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return truncateDay(v), true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return truncateDay(t), true
			}
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func coerceValues(raw interface{}) ([]float64, bool) {
	if values, ok := raw.([]float64); ok {
		for _, f := range values {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, false
			}
		}
		return values, true
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil, false
	}
	values := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat(item)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		values = append(values, f)
	}
	return values, true
}

func markInvalid(w *models.Window, field string, raw interface{}) {
	if w.Invalid == nil {
		w.Invalid = make(map[string]string)
	}
	w.Invalid[field] = describe(raw)
}

func describe(raw interface{}) string {
	s := fmt.Sprintf("%v", raw)
	if len(s) <= maxInvalidValueLen {
		return s
	}
	cut := maxInvalidValueLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
