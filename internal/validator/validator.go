// Package validator checks flattened shapelet records before persistence.
package validator

import (
	"fmt"
	"slices"
	"strconv"

	"air-shapelets/internal/models"
)

const (
	MinLengthDays = 1
	MaxLengthDays = 366

	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
)

// coreFields are the decoded fields whose coercion failure rejects a record
var coreFields = []string{"end_date", "length_days", "start_date", "values"}

// DroppedFields lists, sorted, the optional fields the decoder could not
// coerce. They are stored as NULL and never fail validation.
func DroppedFields(rec *models.ShapeletRecord) []string {
	var fields []string
	for f := range rec.Invalid {
		if !slices.Contains(coreFields, f) {
			fields = append(fields, f)
		}
	}
	slices.Sort(fields)
	return fields
}

// Result is the outcome of validating one record
type Result struct {
	Valid bool
	Err   *models.ValidationError
}

func pass() Result {
	return Result{Valid: true}
}

func fail(kind models.ErrorKind, field, value, format string, args ...interface{}) Result {
	return Result{Err: &models.ValidationError{
		Kind:    kind,
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	}}
}

// Validate runs presence, coercibility, consistency and range checks in that
// order and stops at the first failure. The record is not modified.
func Validate(rec *models.ShapeletRecord) Result {
	if r := checkPresence(rec); !r.Valid {
		return r
	}
	if r := checkTypes(rec); !r.Valid {
		return r
	}
	if r := checkConsistency(rec); !r.Valid {
		return r
	}
	return checkRanges(rec)
}

func checkPresence(rec *models.ShapeletRecord) Result {
	// fields the decoder rejected are type errors, not missing ones
	missing := func(field string, isNil bool) bool {
		_, invalid := rec.Invalid[field]
		return isNil && !invalid
	}

	switch {
	case rec.DatasetKey == "":
		return fail(models.KindMissingField, "dataset_key", "", "dataset_key is required")
	case rec.SiteKey == "":
		return fail(models.KindMissingField, "site_key", "", "site_key is required")
	case missing("start_date", rec.StartDate == nil):
		return fail(models.KindMissingField, "start_date", "", "start_date is required")
	case missing("end_date", rec.EndDate == nil):
		return fail(models.KindMissingField, "end_date", "", "end_date is required")
	case missing("length_days", rec.LengthDays == nil):
		return fail(models.KindMissingField, "length_days", "", "length_days is required")
	case missing("values", rec.Values == nil):
		return fail(models.KindMissingField, "values", "", "values is required")
	}
	return pass()
}

func checkTypes(rec *models.ShapeletRecord) Result {
	for _, field := range coreFields {
		if raw, ok := rec.Invalid[field]; ok {
			return fail(models.KindTypeError, field, raw, "%s could not be coerced", field)
		}
	}
	if *rec.LengthDays < MinLengthDays {
		return fail(models.KindTypeError, "length_days", strconv.Itoa(*rec.LengthDays), "length_days must be a positive integer")
	}
	return pass()
}

func checkConsistency(rec *models.ShapeletRecord) Result {
	lengthDays := *rec.LengthDays
	if len(rec.Values) != lengthDays {
		return fail(models.KindLengthMismatch, "values", strconv.Itoa(len(rec.Values)),
			"values has %d elements, length_days is %d", len(rec.Values), lengthDays)
	}

	span := int(rec.EndDate.Sub(*rec.StartDate).Hours()/24) + 1
	if span != lengthDays {
		return fail(models.KindDateMismatch, "end_date",
			rec.StartDate.Format(models.DateLayout)+".."+rec.EndDate.Format(models.DateLayout),
			"date range covers %d days, length_days is %d", span, lengthDays)
	}
	return pass()
}

func checkRanges(rec *models.ShapeletRecord) Result {
	if n := *rec.LengthDays; n < MinLengthDays || n > MaxLengthDays {
		return fail(models.KindOutOfRange, "length_days", strconv.Itoa(n),
			"length_days must be within [%d, %d]", MinLengthDays, MaxLengthDays)
	}
	if rec.Latitude != nil && (*rec.Latitude < minLatitude || *rec.Latitude > maxLatitude) {
		return fail(models.KindOutOfRange, "latitude", formatFloat(*rec.Latitude),
			"latitude must be within [%g, %g]", minLatitude, maxLatitude)
	}
	if rec.Longitude != nil && (*rec.Longitude < minLongitude || *rec.Longitude > maxLongitude) {
		return fail(models.KindOutOfRange, "longitude", formatFloat(*rec.Longitude),
			"longitude must be within [%g, %g]", minLongitude, maxLongitude)
	}
	return pass()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
