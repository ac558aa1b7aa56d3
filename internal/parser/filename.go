package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
)

// Filename example: North Carolina_Beaufort_6_shapelets.pkl_2004_000.pkl
var filenamePattern = regexp.MustCompile(
	`^(?P<state>.+?)_(?P<county>[A-Za-z .'-]+?)_(?P<site>\d+)_shapelets\.pkl_(?P<year>\d{4})_(?P<chunk>\d{3})\.pkl$`,
)

// FileMetadata holds the fields encoded in an exported shapelet filename
type FileMetadata struct {
	State   string
	County  string
	SiteNum int
	Year    int
	Chunk   int
}

// ParseFilename extracts metadata from a shapelet export filename.
// Only the base name of the path is considered.
func ParseFilename(path string) (FileMetadata, bool) {
	m := filenamePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return FileMetadata{}, false
	}

	// The regexp guarantees the numeric groups are digits
	site, _ := strconv.Atoi(m[3])
	year, _ := strconv.Atoi(m[4])
	chunk, _ := strconv.Atoi(m[5])

	return FileMetadata{
		State:   m[1],
		County:  m[2],
		SiteNum: site,
		Year:    year,
		Chunk:   chunk,
	}, true
}
