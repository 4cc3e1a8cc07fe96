// Package cache implements the dependency cache behind the cache action:
// keyed tar.gz archives with restore-key prefix fallback and an on-disk
// index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/logger"
)

// HitKind classifies the outcome of a cache restore.
type HitKind string

const (
	HitExact   HitKind = "exact"   // the primary key matched
	HitPartial HitKind = "partial" // a restore-key prefix matched
	HitMiss    HitKind = "miss"    // nothing matched
)

const indexFile = "index.json"

// Entry describes one stored archive.
type Entry struct {
	Key       string    `json:"key"`
	File      string    `json:"file"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Store is a disk-backed cache of keyed archives.
type Store struct {
	dir string

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore opens (or creates) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	s := &Store{dir: dir, entries: make(map[string]*Entry)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}
	var entries []*Entry
	if err := jsonutil.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse cache index: %w", err)
	}
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	return nil
}

// saveIndex rewrites the index atomically. Callers hold the write lock.
func (s *Store) saveIndex() error {
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	data, err := jsonutil.MarshalIndent(entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	tmp := filepath.Join(s.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, indexFile))
}

// Restore looks up key, falling back to the newest entry matching any
// restore-key prefix, and extracts the archive into the workspace. The
// returned key is the matched entry's key on a hit.
func (s *Store) Restore(ctx context.Context, key string, restoreKeys []string, workspace string) (HitKind, string, error) {
	kind, entry := s.lookup(key, restoreKeys)
	if kind == HitMiss {
		return HitMiss, "", nil
	}

	f, err := os.Open(filepath.Join(s.dir, entry.File))
	if os.IsNotExist(err) {
		// The archive vanished under the index; drop the entry.
		logger.Warn("cache archive missing, dropping index entry", zap.String("key", entry.Key))
		s.drop(entry.Key)
		return HitMiss, "", nil
	}
	if err != nil {
		return HitMiss, "", fmt.Errorf("failed to open cache archive: %w", err)
	}
	defer f.Close()

	if err := unpack(ctx, f, workspace); err != nil {
		return HitMiss, "", fmt.Errorf("failed to restore cache %s: %w", entry.Key, err)
	}
	s.touch(entry.Key)

	logger.Debug("cache restored",
		zap.String("key", key), zap.String("matched", entry.Key), zap.String("kind", string(kind)))
	return kind, entry.Key, nil
}

// lookup finds the best entry under the read lock.
func (s *Store) lookup(key string, restoreKeys []string) (HitKind, *Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[key]; ok {
		return HitExact, e
	}
	for _, rk := range restoreKeys {
		var best *Entry
		for _, e := range s.entries {
			if !strings.HasPrefix(e.Key, rk) {
				continue
			}
			if best == nil || e.CreatedAt.After(best.CreatedAt) {
				best = e
			}
		}
		if best != nil {
			return HitPartial, best
		}
	}
	return HitMiss, nil
}

func (s *Store) touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.LastUsed = time.Now()
		if err := s.saveIndex(); err != nil {
			logger.Warn("failed to update cache index", zap.Error(err))
		}
	}
}

func (s *Store) drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	if err := s.saveIndex(); err != nil {
		logger.Warn("failed to update cache index", zap.Error(err))
	}
}

// Save packs the listed paths under key. An existing exact entry wins:
// nothing is written and saved is false.
func (s *Store) Save(ctx context.Context, key string, paths []string, workspace string) (saved bool, err error) {
	s.mu.RLock()
	_, exists := s.entries[key]
	s.mu.RUnlock()
	if exists {
		logger.Debug("cache entry already exists, skipping save", zap.String("key", key))
		return false, nil
	}

	file := archiveName(key)
	tmp := filepath.Join(s.dir, file+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("failed to create cache archive: %w", err)
	}

	packed, err := pack(ctx, f, paths, workspace)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to pack cache %s: %w", key, err)
	}
	if packed == 0 {
		os.Remove(tmp)
		return false, fmt.Errorf("no files matched the cache paths %v", paths)
	}

	if err := os.Rename(tmp, filepath.Join(s.dir, file)); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to store cache archive: %w", err)
	}
	info, err := os.Stat(filepath.Join(s.dir, file))
	if err != nil {
		return false, err
	}

	now := time.Now()
	s.mu.Lock()
	s.entries[key] = &Entry{Key: key, File: file, Size: info.Size(), CreatedAt: now, LastUsed: now}
	err = s.saveIndex()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	logger.Debug("cache saved",
		zap.String("key", key), zap.Int("files", packed), zap.Int64("bytes", info.Size()))
	return true, nil
}

// Entries returns a snapshot of the index, newest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

// Prune removes entries unused for longer than maxAge, then the least
// recently used entries until the store fits maxBytes. A zero limit disables
// that check.
func (s *Store) Prune(maxAge time.Duration, maxBytes int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []string
	now := time.Now()
	if maxAge > 0 {
		for key, e := range s.entries {
			if now.Sub(e.LastUsed) > maxAge {
				victims = append(victims, key)
			}
		}
	}
	for _, key := range victims {
		s.removeLocked(key)
	}
	removed := len(victims)

	if maxBytes > 0 {
		var total int64
		remaining := make([]*Entry, 0, len(s.entries))
		for _, e := range s.entries {
			total += e.Size
			remaining = append(remaining, e)
		}
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].LastUsed.Before(remaining[j].LastUsed)
		})
		for _, e := range remaining {
			if total <= maxBytes {
				break
			}
			total -= e.Size
			s.removeLocked(e.Key)
			removed++
		}
	}

	if removed > 0 {
		if err := s.saveIndex(); err != nil {
			return removed, err
		}
		logger.Info("cache pruned", zap.Int("removed", removed))
	}
	return removed, nil
}

// Remove deletes one entry by key.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	s.removeLocked(key)
	if err := s.saveIndex(); err != nil {
		logger.Warn("failed to update cache index", zap.Error(err))
	}
	return true
}

func (s *Store) removeLocked(key string) {
	if e, ok := s.entries[key]; ok {
		os.Remove(filepath.Join(s.dir, e.File))
		delete(s.entries, key)
	}
}

// archiveName derives the archive file name from a cache key.
func archiveName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".tar.gz"
}
