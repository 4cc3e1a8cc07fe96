package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zacharyburnett/matrixci/internal/event"
)

// HashFiles computes a single hash over every file under root matching any
// of the glob patterns (the ref pattern language, `**` included). File
// content hashes are combined in sorted path order, so the result is stable
// across hosts. No matching files yields the empty string, mirroring the
// expression function it backs.
func HashFiles(root string, patterns ...string) (string, error) {
	if len(patterns) == 0 {
		return "", fmt.Errorf("hashFiles requires at least one pattern")
	}

	matched, err := matchFiles(root, patterns)
	if err != nil {
		return "", err
	}
	if len(matched) == 0 {
		return "", nil
	}

	combined := sha256.New()
	for _, rel := range matched {
		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return "", fmt.Errorf("hashFiles: %w", err)
		}
		fileHash := sha256.New()
		_, err = io.Copy(fileHash, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hashFiles: %w", err)
		}
		combined.Write(fileHash.Sum(nil))
	}
	return hex.EncodeToString(combined.Sum(nil)), nil
}

// matchFiles walks root and returns the sorted relative paths of regular
// files matching any pattern.
func matchFiles(root string, patterns []string) ([]string, error) {
	var matched []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if event.PathMatch(pattern, rel) {
				matched = append(matched, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}
