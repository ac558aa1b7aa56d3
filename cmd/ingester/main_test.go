package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir string, n int) {
	t.Helper()
	windows := make([]map[string]interface{}, n)
	for i := range windows {
		windows[i] = map[string]interface{}{
			"start_date":  "2004-01-01",
			"end_date":    "2004-01-07",
			"length_days": 7,
			"shapelet":    []float64{1, 2, 3, 4, 5, 6, 7},
		}
	}
	windows[n-1]["shapelet"] = []float64{1, 2, 3}

	data, err := json.Marshal(map[string]interface{}{
		"North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore": windows,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beaufort.json"), data, 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestIngester(t *testing.T) {
	input := t.TempDir()
	writeFixture(t, input, 5)
	dbPath := filepath.Join(t.TempDir(), "air.db")
	metricsPath := filepath.Join(t.TempDir(), "ingester.prom")

	out, err := execute(t, "--input-dir", input, "--db", dbPath, "--metrics-file", metricsPath, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "INGESTION COMPLETE")
	assert.Contains(t, out, "beaufort.json")
	assert.Contains(t, out, "Errors (1):")
	assert.Contains(t, out, "length-mismatch")

	metricsText, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `air_shapelets_ingestion_runs_total{status="COMPLETED"} 1`)

	// second run skips every row
	out, err = execute(t, "--input-dir", input, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped (duplicate)")
	// without --verbose only the error count is printed
	assert.Contains(t, out, "Errors: 1 (run with --verbose for detail)")
	assert.NotContains(t, out, "length-mismatch")
}

func TestIngester_DryRunNeverCreatesDatabase(t *testing.T) {
	input := t.TempDir()
	writeFixture(t, input, 3)
	dbPath := filepath.Join(t.TempDir(), "air.db")

	out, err := execute(t, "--input-dir", input, "--db", dbPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "DRY RUN COMPLETE")
	assert.NotContains(t, out, "Inserted")

	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))
}

func TestIngester_RunLevelFailures(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "air.db")

	_, err := execute(t, "--input-dir", t.TempDir(), "--db", dbPath)
	assert.ErrorContains(t, err, "no input files found")

	_, err = execute(t, "--db", dbPath)
	assert.ErrorContains(t, err, "input directory is required")

	_, err = execute(t, "--input-dir", t.TempDir(), "--batch-size", "-1")
	assert.ErrorContains(t, err, "invalid configuration")
}
