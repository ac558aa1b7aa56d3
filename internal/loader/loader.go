// Package loader opens shapelet payload files and archives and deserializes them.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"air-shapelets/internal/models"
)

// Format is the serialization of a payload file
type Format int

const (
	FormatUnknown Format = iota
	FormatPickle
	FormatJSON
)

const (
	extZip  = ".zip"
	extGzip = ".gz"
)

// Payload is a deserialized input file
type Payload struct {
	Path   string
	Member string
	Data   interface{}
}

// SourceFile identifies the payload in persisted rows: the file's base name,
// with the archive member appended for archived payloads.
func (p *Payload) SourceFile() string {
	if p.Member == "" {
		return filepath.Base(p.Path)
	}
	return filepath.Base(p.Path) + ":" + p.Member
}

// Datasets decodes the payload into typed datasets
func (p *Payload) Datasets() ([]models.Dataset, error) {
	datasets, err := Decode(p.Data)
	if err != nil {
		return nil, &models.LoadError{Kind: models.KindUnsupportedFormat, Path: p.Path, Member: p.Member, Err: err}
	}
	return datasets, nil
}

// DetectFormat resolves a payload format from a file name, reporting gzip wrapping
func DetectFormat(name string) (Format, bool) {
	lower := strings.ToLower(name)
	gzipped := strings.HasSuffix(lower, extGzip)
	lower = strings.TrimSuffix(lower, extGzip)

	switch filepath.Ext(lower) {
	case ".pkl", ".pickle":
		return FormatPickle, gzipped
	case ".json":
		return FormatJSON, gzipped
	}
	return FormatUnknown, gzipped
}

// IsArchive reports whether name is a supported archive
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), extZip)
}

// IsSupported reports whether name is a payload file or an archive
func IsSupported(name string) bool {
	if IsArchive(name) {
		return true
	}
	format, _ := DetectFormat(name)
	return format != FormatUnknown
}

// Load dispatches to LoadArchived or LoadSingle based on the file extension
func Load(path string) (*Payload, error) {
	if IsArchive(path) {
		return LoadArchived(path, "")
	}
	return LoadSingle(path)
}

// LoadSingle deserializes one payload file
func LoadSingle(path string) (*Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.LoadError{Kind: models.KindNotFound, Path: path, Err: err}
		}
		return nil, &models.LoadError{Kind: models.KindCorrupt, Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &models.LoadError{Kind: models.KindUnsupportedFormat, Path: path, Err: errors.New("path is a directory")}
	}

	format, gzipped := DetectFormat(path)
	if format == FormatUnknown {
		return nil, &models.LoadError{
			Kind: models.KindUnsupportedFormat,
			Path: path,
			Err:  fmt.Errorf("unsupported file type %q", filepath.Ext(path)),
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &models.LoadError{Kind: models.KindCorrupt, Path: path, Err: err}
	}
	defer f.Close()

	data, err := deserialize(f, format, gzipped)
	if err != nil {
		return nil, loadError(path, "", err)
	}
	return &Payload{Path: path, Data: data}, nil
}

// LoadArchived deserializes one payload from a zip archive.
// With an empty member the archive must hold exactly one payload candidate.
func LoadArchived(path, member string) (*Payload, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.LoadError{Kind: models.KindNotFound, Path: path, Err: err}
		}
		return nil, &models.LoadError{Kind: models.KindCorrupt, Path: path, Err: err}
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, &models.LoadError{Kind: models.KindCorrupt, Path: path, Err: err}
	}
	defer archive.Close()

	var target *zip.File
	if member == "" {
		candidates := archiveCandidates(archive.File)
		switch len(candidates) {
		case 0:
			return nil, &models.LoadError{Kind: models.KindMemberNotFound, Path: path, Err: errors.New("archive contains no payload members")}
		case 1:
			target = candidates[0]
		default:
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			return nil, &models.LoadError{
				Kind: models.KindAmbiguousMember,
				Path: path,
				Err:  fmt.Errorf("%d candidate members, specify one of: %s", len(names), strings.Join(names, ", ")),
			}
		}
	} else {
		for _, f := range archive.File {
			if f.Name == member {
				target = f
				break
			}
		}
		if target == nil {
			return nil, &models.LoadError{Kind: models.KindMemberNotFound, Path: path, Member: member}
		}
	}

	format, gzipped := DetectFormat(target.Name)
	if format == FormatUnknown {
		return nil, &models.LoadError{
			Kind:   models.KindUnsupportedFormat,
			Path:   path,
			Member: target.Name,
			Err:    fmt.Errorf("unsupported member type %q", filepath.Ext(target.Name)),
		}
	}

	rc, err := target.Open()
	if err != nil {
		return nil, &models.LoadError{Kind: models.KindCorrupt, Path: path, Member: target.Name, Err: err}
	}
	defer rc.Close()

	data, err := deserialize(rc, format, gzipped)
	if err != nil {
		return nil, loadError(path, target.Name, err)
	}
	return &Payload{Path: path, Member: target.Name, Data: data}, nil
}

// archiveCandidates lists payload members, skipping directories and macOS metadata
func archiveCandidates(files []*zip.File) []*zip.File {
	var out []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(f.Name)
		if strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(base, "._") {
			continue
		}
		if format, _ := DetectFormat(f.Name); format != FormatUnknown {
			out = append(out, f)
		}
	}
	return out
}

func deserialize(r io.Reader, format Format, gzipped bool) (interface{}, error) {
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	switch format {
	case FormatPickle:
		return decodePickle(r)
	case FormatJSON:
		var data interface{}
		if err := json.NewDecoder(r).Decode(&data); err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported format %d", format)
}

func loadError(path, member string, err error) *models.LoadError {
	kind := models.KindCorrupt
	var classErr *unsupportedClassError
	if errors.As(err, &classErr) {
		kind = models.KindUnsupportedFormat
	}
	return &models.LoadError{Kind: kind, Path: path, Member: member, Err: err}
}

// Discover returns the sorted payload and archive files below dir
func Discover(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSupported(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk input directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
