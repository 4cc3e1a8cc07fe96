// Package coverage discovers coverage reports in a workspace and uploads
// them to a coverage service.
package coverage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zacharyburnett/matrixci/internal/event"
)

// Format identifies the kind of coverage report.
type Format string

const (
	FormatCobertura Format = "cobertura"
	FormatGoCover   Format = "gocover"
	FormatLCOV      Format = "lcov"
	FormatJSON      Format = "json"
	FormatUnknown   Format = "unknown"
)

// DefaultPatterns are the report globs tried when a step names none.
var DefaultPatterns = []string{"coverage.xml", "coverage.out", "lcov.info", "coverage.json"}

// Report is one discovered coverage file.
type Report struct {
	// Path is the absolute location of the report file.
	Path string `json:"path"`
	// Name is the workspace-relative, slash-separated path used as the
	// upload filename.
	Name   string `json:"name"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
}

// sniffLen bounds how much of a file DetectFormat reads.
const sniffLen = 512

// Discover walks the workspace and returns every regular file matching one
// of the patterns, sorted by name. Patterns understand the same glob syntax
// as workflow paths filters, including **. With no patterns the defaults
// are tried. Matching nothing is an error.
func Discover(workspace string, patterns []string) ([]Report, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	var reports []Report
	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if event.PathMatch(pattern, name) {
				info, err := d.Info()
				if err != nil {
					return err
				}
				reports = append(reports, Report{
					Path:   path,
					Name:   name,
					Format: detectFileFormat(path),
					Size:   info.Size(),
				})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan for coverage reports: %w", err)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no coverage reports matched %v", patterns)
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	return reports, nil
}

func detectFileFormat(path string) Format {
	head := make([]byte, sniffLen)
	f, err := os.Open(path)
	if err != nil {
		return DetectFormat(path, nil)
	}
	n, err := f.Read(head)
	f.Close()
	if err != nil && err != io.EOF {
		return DetectFormat(path, nil)
	}
	return DetectFormat(path, head[:n])
}

// DetectFormat classifies a report by its content, falling back to the file
// extension when the content is inconclusive.
func DetectFormat(path string, head []byte) Format {
	s := strings.TrimSpace(string(head))
	switch {
	case strings.HasPrefix(s, "<?xml"), strings.HasPrefix(s, "<coverage"):
		return FormatCobertura
	case strings.HasPrefix(s, "mode:"):
		return FormatGoCover
	case strings.HasPrefix(s, "TN:"), strings.HasPrefix(s, "SF:"):
		return FormatLCOV
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatCobertura
	case ".out":
		return FormatGoCover
	case ".info":
		return FormatLCOV
	case ".json":
		return FormatJSON
	}

	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return FormatJSON
	}
	return FormatUnknown
}
