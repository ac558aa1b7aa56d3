// Package parser extracts structured metadata from dataset keys and shapelet filenames.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"air-shapelets/internal/models"
)

// minKeyTokens is the number of positional fields in a dataset key.
// The aggregation method takes the remaining tokens.
const minKeyTokens = 8

// ParseDatasetKey parses a key such as
// "North Carolina_Beaufort_6_daily_42401_7d_2004_daily_zscore".
// Format: {State}_{County}_{SiteNum}_{Frequency}_{ParameterCode}_{WindowDays}d_{Year}_{AggMethod}
func ParseDatasetKey(key string) (models.DatasetKey, error) {
	tokens := strings.Split(key, "_")
	if len(tokens) < minKeyTokens {
		return models.DatasetKey{}, malformed(key, "expected at least 8 underscore-separated fields, got %d", len(tokens))
	}

	for i, tok := range tokens {
		if tok == "" {
			return models.DatasetKey{}, malformed(key, "empty field at position %d", i)
		}
	}

	siteNum, err := strconv.Atoi(tokens[2])
	if err != nil || siteNum < 0 {
		return models.DatasetKey{}, malformed(key, "site number %q is not a non-negative integer", tokens[2])
	}

	if _, err := strconv.Atoi(tokens[4]); err != nil {
		return models.DatasetKey{}, malformed(key, "parameter code %q is not numeric", tokens[4])
	}

	window := tokens[5]
	if !strings.HasSuffix(window, "d") {
		return models.DatasetKey{}, malformed(key, "window %q lacks the trailing 'd'", window)
	}
	windowDays, err := strconv.Atoi(strings.TrimSuffix(window, "d"))
	if err != nil || windowDays <= 0 {
		return models.DatasetKey{}, malformed(key, "window %q is not a positive day count", window)
	}

	year, err := strconv.Atoi(tokens[6])
	if err != nil || len(tokens[6]) != 4 {
		return models.DatasetKey{}, malformed(key, "year %q is not a four-digit integer", tokens[6])
	}

	return models.DatasetKey{
		State:             tokens[0],
		County:            tokens[1],
		SiteNum:           siteNum,
		Frequency:         tokens[3],
		ParameterCode:     tokens[4],
		WindowDays:        windowDays,
		Year:              year,
		AggregationMethod: strings.Join(tokens[7:], "_"),
	}, nil
}

func malformed(key, format string, args ...interface{}) *models.ParseError {
	return &models.ParseError{
		Kind:    models.KindMalformedKey,
		Input:   key,
		Message: fmt.Sprintf(format, args...),
	}
}
