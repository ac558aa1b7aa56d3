package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 date format used for persisted dates
const DateLayout = "2006-01-02"

// DatasetKey holds the metadata encoded in a dataset key string
// e.g. "North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore"
type DatasetKey struct {
	State             string `json:"state"`
	County            string `json:"county"`
	SiteNum           int    `json:"site_num"`
	Frequency         string `json:"frequency"`
	ParameterCode     string `json:"parameter_code"`
	WindowDays        int    `json:"window_days"`
	Year              int    `json:"year"`
	AggregationMethod string `json:"aggregation_method"`
}

// String formats the key back into its underscore-delimited form
func (k DatasetKey) String() string {
	return fmt.Sprintf("%s_%s_%d_%s_%s_%dd_%d_%s",
		k.State, k.County, k.SiteNum, k.Frequency, k.ParameterCode, k.WindowDays, k.Year, k.AggregationMethod)
}

// SiteKey derives the site identifier, using the USPS state abbreviation when known
func (k DatasetKey) SiteKey() string {
	return fmt.Sprintf("%s_%s_%d", StateAbbreviation(k.State), k.County, k.SiteNum)
}

// Window is the typed form of one per-window dictionary.
// Missing fields stay nil; fields present but not coercible are nil and listed in Invalid.
type Window struct {
	StartDate   *time.Time
	EndDate     *time.Time
	LengthDays  *int
	Quality     *float64
	Values      []float64
	PatternType *string
	DataType    *string
	Latitude    *float64
	Longitude   *float64
	Location    *string
	Year        *int

	// Invalid maps field name to the offending raw value
	Invalid map[string]string
}

// Dataset is one top-level entry of a decoded file: a key and its ordered windows
type Dataset struct {
	Key     string
	Windows []Window
}

// ShapeletRecord is one flattened window, ready for validation and persistence
type ShapeletRecord struct {
	DatasetKey    string
	ShapeletID    int
	SiteKey       string
	ParameterCode string
	Year          int
	StartDate     *time.Time
	EndDate       *time.Time
	LengthDays    *int
	Quality       *float64
	Values        []float64
	PatternType   *string
	DataType      *string
	Latitude      *float64
	Longitude     *float64
	Location      *string
	SourceFile    string

	// Site columns carried from the dataset key
	State   string
	County  string
	SiteNum int

	Invalid map[string]string
}

// Site returns the site reference row described by the record
func (r *ShapeletRecord) Site() Site {
	return Site{
		SiteKey:   r.SiteKey,
		State:     r.State,
		County:    r.County,
		SiteNum:   r.SiteNum,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}
}

// Site represents an EPA monitoring site
type Site struct {
	SiteKey   string   `json:"site_key" db:"site_key"`
	State     string   `json:"state" db:"state"`
	County    string   `json:"county" db:"county"`
	SiteNum   int      `json:"site_num" db:"site_num"`
	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
}

// Pollutant represents an AQS parameter code lookup row
type Pollutant struct {
	ParameterCode string  `json:"parameter_code" db:"parameter_code"`
	Name          *string `json:"name,omitempty" db:"name"`
	Unit          *string `json:"unit,omitempty" db:"unit"`
}

// Shapelet is a persisted shapelet row as read back by lookups
type Shapelet struct {
	ID             int64    `json:"id" db:"id"`
	DatasetKey     string   `json:"dataset_key" db:"dataset_key"`
	ShapeletID     int      `json:"shapelet_id" db:"shapelet_id"`
	SiteKey        string   `json:"site_key" db:"site_key"`
	ParameterCode  string   `json:"parameter_code" db:"parameter_code"`
	Year           int      `json:"year" db:"year"`
	StartDate      string   `json:"start_date" db:"start_date"`
	EndDate        string   `json:"end_date" db:"end_date"`
	LengthDays     int      `json:"length_days" db:"length_days"`
	PatternType    *string  `json:"pattern_type,omitempty" db:"pattern_type"`
	DataType       *string  `json:"data_type,omitempty" db:"data_type"`
	Quality        *float64 `json:"quality,omitempty" db:"quality"`
	ShapeletValues string   `json:"shapelet_values" db:"shapelet_values"`
	SourceFile     string   `json:"source_file" db:"source_file"`
}

// RunStatus is the lifecycle state of an ingestion run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IngestionRun is the audit row for one pipeline execution
type IngestionRun struct {
	ID         int64     `json:"id" db:"id"`
	StartedAt  string    `json:"started_at" db:"started_at"`
	FinishedAt *string   `json:"finished_at,omitempty" db:"finished_at"`
	Status     RunStatus `json:"status" db:"status"`
	TotalFiles int       `json:"total_files" db:"total_files"`
	TotalRows  int       `json:"total_rows" db:"total_rows"`
	ErrorCount int       `json:"error_count" db:"error_count"`
}

// DatasetSummary describes what has been ingested so far
type DatasetSummary struct {
	ShapeletCount int      `json:"shapelet_count" db:"shapelet_count"`
	SiteCount     int      `json:"site_count" db:"site_count"`
	FirstDate     *string  `json:"first_date,omitempty" db:"first_date"`
	LastDate      *string  `json:"last_date,omitempty" db:"last_date"`
	Years         []int    `json:"years" db:"-"`
	PatternTypes  []string `json:"pattern_types" db:"-"`
}
