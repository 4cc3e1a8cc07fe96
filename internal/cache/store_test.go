package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSaveAndRestoreExact(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, ".cache", "pip", "wheel.whl"), "wheel bytes")
	writeFile(t, filepath.Join(workspace, ".cache", "pip", "sub", "other.whl"), "more bytes")

	saved, err := store.Save(context.Background(), "pip-linux-abc", []string{".cache/pip"}, workspace)
	require.NoError(t, err)
	assert.True(t, saved)

	restored := t.TempDir()
	kind, matched, err := store.Restore(context.Background(), "pip-linux-abc", nil, restored)
	require.NoError(t, err)
	assert.Equal(t, HitExact, kind)
	assert.Equal(t, "pip-linux-abc", matched)

	data, err := os.ReadFile(filepath.Join(restored, ".cache", "pip", "wheel.whl"))
	require.NoError(t, err)
	assert.Equal(t, "wheel bytes", string(data))
	data, err = os.ReadFile(filepath.Join(restored, ".cache", "pip", "sub", "other.whl"))
	require.NoError(t, err)
	assert.Equal(t, "more bytes", string(data))
}

func TestRestoreKeyFallback(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "dep.txt"), "old deps")

	saved, err := store.Save(context.Background(), "pip-linux-py38-old", []string{"dep.txt"}, workspace)
	require.NoError(t, err)
	require.True(t, saved)

	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(workspace, "dep.txt"), "new deps")
	saved, err = store.Save(context.Background(), "pip-linux-py38-new", []string{"dep.txt"}, workspace)
	require.NoError(t, err)
	require.True(t, saved)

	restored := t.TempDir()
	kind, matched, err := store.Restore(context.Background(), "pip-linux-py38-zzz",
		[]string{"pip-linux-py38-", "pip-linux-"}, restored)
	require.NoError(t, err)
	assert.Equal(t, HitPartial, kind)
	// The newest entry under the first matching restore key wins.
	assert.Equal(t, "pip-linux-py38-new", matched)

	data, err := os.ReadFile(filepath.Join(restored, "dep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new deps", string(data))
}

func TestRestoreMiss(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	kind, matched, err := store.Restore(context.Background(), "absent", []string{"absent-"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, HitMiss, kind)
	assert.Empty(t, matched)
}

func TestSaveSkipsExistingKey(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "a.txt"), "a")

	saved, err := store.Save(context.Background(), "key", []string{"a.txt"}, workspace)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = store.Save(context.Background(), "key", []string{"a.txt"}, workspace)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestSaveNothingMatched(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "key", []string{"missing-dir"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files matched")
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "a.txt"), "persisted")

	store, err := NewStore(dir)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "key", []string{"a.txt"}, workspace)
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	entries := reopened.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "key", entries[0].Key)

	restored := t.TempDir()
	kind, _, err := reopened.Restore(context.Background(), "key", nil, restored)
	require.NoError(t, err)
	assert.Equal(t, HitExact, kind)
}

func TestPruneByAge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "a.txt"), "a")
	_, err = store.Save(context.Background(), "stale", []string{"a.txt"}, workspace)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	removed, err := store.Prune(time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, store.Entries())
}

func TestPruneBySize(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "a.txt"), "aaaaaaaaaa")
	_, err = store.Save(context.Background(), "older", []string{"a.txt"}, workspace)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(workspace, "b.txt"), "bbbbbbbbbb")
	_, err = store.Save(context.Background(), "newer", []string{"b.txt"}, workspace)
	require.NoError(t, err)

	entries := store.Entries()
	require.Len(t, entries, 2)

	// Allow only the newer entry's bytes; the least recently used one goes.
	removed, err := store.Prune(0, entries[0].Size)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining := store.Entries()
	require.Len(t, remaining, 1)
	assert.Equal(t, "newer", remaining[0].Key)
}

func TestRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "a.txt"), "a")
	_, err = store.Save(context.Background(), "key", []string{"a.txt"}, workspace)
	require.NoError(t, err)

	assert.True(t, store.Remove("key"))
	assert.False(t, store.Remove("key"))
	assert.Empty(t, store.Entries())
}

func TestArchivePreservesSymlinks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "deps", "real.txt"), "target")
	require.NoError(t, os.Symlink("real.txt", filepath.Join(workspace, "deps", "link.txt")))

	_, err = store.Save(context.Background(), "key", []string{"deps"}, workspace)
	require.NoError(t, err)

	restored := t.TempDir()
	kind, _, err := store.Restore(context.Background(), "key", nil, restored)
	require.NoError(t, err)
	require.Equal(t, HitExact, kind)

	link, err := os.Readlink(filepath.Join(restored, "deps", "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "real.txt", link)
}

func TestExtractTargetRejectsEscape(t *testing.T) {
	workspace := t.TempDir()

	_, err := extractTarget("../evil.txt", workspace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the workspace")

	target, err := extractTarget("safe/file.txt", workspace)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace, "safe", "file.txt"), target)
}

func TestExpandPath(t *testing.T) {
	workspace := t.TempDir()
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		spec string
		want string
	}{
		{"relative/dir", filepath.Join(workspace, "relative", "dir")},
		{"/absolute/dir", "/absolute/dir"},
		{"~/cached", filepath.Join(home, "cached")},
		{"~", home},
	}
	for _, tt := range tests {
		got, err := expandPath(tt.spec, workspace)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "spec %q", tt.spec)
	}
}
