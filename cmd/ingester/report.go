package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"air-shapelets/internal/models"
	"air-shapelets/internal/services"
)

// maxListedErrors caps the error lines printed in the summary
const maxListedErrors = 10

func printReport(w io.Writer, result *services.IngestionResult, verbose bool) {
	title := "INGESTION COMPLETE"
	switch {
	case result.DryRun:
		title = "DRY RUN COMPLETE"
	case result.Status == models.RunStatusFailed:
		title = "INGESTION FAILED"
	}

	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	if !result.DryRun {
		table.Append([]string{"Run ID", strconv.FormatInt(result.RunID, 10)})
	}
	table.Append([]string{"Status", string(result.Status)})
	table.Append([]string{"Files", strconv.Itoa(result.TotalFiles)})
	table.Append([]string{"Files failed", strconv.Itoa(result.FilesFailed)})
	table.Append([]string{"Records", strconv.Itoa(result.TotalRecords)})
	table.Append([]string{"Valid", strconv.Itoa(result.ValidRecords)})
	table.Append([]string{"Rejected", strconv.Itoa(result.Rejected)})
	if !result.DryRun {
		table.Append([]string{"Inserted", strconv.Itoa(result.Inserted)})
		table.Append([]string{"Skipped (duplicate)", strconv.Itoa(result.Skipped)})
	}
	table.Append([]string{"Duration", result.Duration.String()})
	table.Render()

	if verbose {
		printFiles(w, result.Files)
	}
	printErrors(w, result.Files, verbose)
}

func printFiles(w io.Writer, files []*services.FileResult) {
	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"File", "Datasets", "Records", "Valid", "Rejected", "Inserted", "Skipped", "Dates", "Error"})

	for _, f := range files {
		dates := ""
		if f.FirstDate != nil && f.LastDate != nil {
			dates = f.FirstDate.Format(models.DateLayout) + " .. " + f.LastDate.Format(models.DateLayout)
		}
		errText := ""
		if f.Err != nil {
			errText = f.Err.Error()
		}
		table.Append([]string{
			f.SourceFile,
			strconv.Itoa(f.Datasets),
			strconv.Itoa(f.Records),
			strconv.Itoa(f.Valid),
			strconv.Itoa(f.Rejected),
			strconv.Itoa(f.Inserted),
			strconv.Itoa(f.Skipped),
			dates,
			errText,
		})
	}
	table.Render()
}

// printErrors lists failed files and rejected records, or only their count
// unless verbose
func printErrors(w io.Writer, files []*services.FileResult, verbose bool) {
	var lines []string
	for _, f := range files {
		if f.Err != nil {
			lines = append(lines, fmt.Sprintf("%s: %v", f.SourceFile, f.Err))
		}
		for _, r := range f.Rejections {
			lines = append(lines, fmt.Sprintf("%s: %s #%d: %v", f.SourceFile, r.DatasetKey, r.ShapeletID, r.Err))
		}
	}
	if len(lines) == 0 {
		return
	}
	if !verbose {
		fmt.Fprintf(w, "\nErrors: %d (run with --verbose for detail)\n", len(lines))
		return
	}

	fmt.Fprintf(w, "\nErrors (%d):\n", len(lines))
	for i, line := range lines {
		if i == maxListedErrors {
			fmt.Fprintf(w, "  ... and %d more errors\n", len(lines)-maxListedErrors)
			break
		}
		fmt.Fprintf(w, "  - %s\n", line)
	}
}
