// Package flatten turns decoded datasets into one shapelet record per window.
package flatten

import (
	"iter"
	"maps"
	"slices"

	"air-shapelets/internal/models"
)

// Records yields one record per window of ds, in window order, with ShapeletID set
// to the window's position. The sequence is lazy and can be ranged over again;
// ds is never modified.
func Records(ds models.Dataset, key models.DatasetKey, sourceFile string) iter.Seq[models.ShapeletRecord] {
	return func(yield func(models.ShapeletRecord) bool) {
		for i, w := range ds.Windows {
			if !yield(Record(ds.Key, key, i, w, sourceFile)) {
				return
			}
		}
	}
}

// Record builds the record for the window at position id.
// Key-derived fields always come from key; window fields stay nil when absent.
func Record(datasetKey string, key models.DatasetKey, id int, w models.Window, sourceFile string) models.ShapeletRecord {
	rec := models.ShapeletRecord{
		DatasetKey:    datasetKey,
		ShapeletID:    id,
		SiteKey:       key.SiteKey(),
		ParameterCode: key.ParameterCode,
		Year:          key.Year,
		StartDate:     w.StartDate,
		EndDate:       w.EndDate,
		LengthDays:    w.LengthDays,
		Quality:       w.Quality,
		Values:        slices.Clone(w.Values),
		PatternType:   w.PatternType,
		DataType:      w.DataType,
		Latitude:      w.Latitude,
		Longitude:     w.Longitude,
		Location:      w.Location,
		SourceFile:    sourceFile,
		State:         key.State,
		County:        key.County,
		SiteNum:       key.SiteNum,
	}
	if w.Year != nil && *w.Year > 0 {
		rec.Year = *w.Year
	}
	if len(w.Invalid) > 0 {
		rec.Invalid = maps.Clone(w.Invalid)
	}
	return rec
}
