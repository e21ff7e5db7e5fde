package copier

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"folder-backup/filter"
)

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return logger.WithContext(context.Background())
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		got[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestCopyTreeReproducesSource(t *testing.T) {
	ctx := testContext(t)
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "Backup-01")

	files := map[string]string{
		"a.txt":             "alpha",
		"nested/b.txt":      "bravo",
		"nested/deep/c.bin": strings.Repeat("x", 100_000),
		"nested/app.lock":   "locked",
		"empty.txt":         "",
	}
	writeTree(t, src, files)
	require.NoError(t, os.MkdirAll(filepath.Join(src, "emptydir"), 0o755))

	stats, err := CopyTree(ctx, src, dst, filter.New(), nil)
	require.NoError(t, err)

	delete(files, "nested/app.lock")
	assert.Equal(t, files, readTree(t, dst))
	assert.DirExists(t, filepath.Join(dst, "emptydir"))
	assert.Equal(t, 4, stats.Files)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, int64(100_010), stats.Bytes)
}

func TestCopyTreePreservesModeAndTime(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	path := filepath.Join(src, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o750))
	info, err := os.Stat(path)
	require.NoError(t, err)

	_, err = CopyTree(ctx, src, dst, nil, nil)
	require.NoError(t, err)

	copied, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, info.Mode().Perm(), copied.Mode().Perm())
	assert.True(t, info.ModTime().Equal(copied.ModTime()))
}

func TestCopyTreeProgress(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  []int
	}{
		{
			name:  "three_files_of_hundred_bytes",
			files: map[string]string{"1.txt": strings.Repeat("a", 100), "2.txt": strings.Repeat("b", 100), "3.txt": strings.Repeat("c", 100)},
			want:  []int{33, 66, 100},
		},
		{
			name:  "zero_byte_tree",
			files: map[string]string{"empty.txt": ""},
			want:  []int{100},
		},
		{
			name:  "no_files_at_all",
			files: map[string]string{},
			want:  []int{100},
		},
		{
			name:  "filtered_bytes_not_counted",
			files: map[string]string{"keep.txt": strings.Repeat("k", 50), "big.lock": strings.Repeat("l", 5000)},
			want:  []int{100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			src := t.TempDir()
			writeTree(t, src, tt.files)

			var got []int
			_, err := CopyTree(ctx, src, filepath.Join(t.TempDir(), "dst"), filter.New(), func(p int) {
				got = append(got, p)
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCopyTreeErrors(t *testing.T) {
	ctx := testContext(t)

	t.Run("missing_source", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "gone")
		_, err := CopyTree(ctx, src, filepath.Join(t.TempDir(), "dst"), nil, nil)

		var copyErr *CopyError
		require.True(t, errors.As(err, &copyErr))
		assert.Equal(t, src, copyErr.Path)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("source_is_file", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		_, err := CopyTree(ctx, src, filepath.Join(t.TempDir(), "dst"), nil, nil)
		assert.ErrorContains(t, err, "not a directory")
	})

	t.Run("destination_exists", func(t *testing.T) {
		src := t.TempDir()
		dst := t.TempDir()
		_, err := CopyTree(ctx, src, dst, nil, nil)

		var copyErr *CopyError
		require.True(t, errors.As(err, &copyErr))
		assert.Equal(t, dst, copyErr.Path)
		assert.ErrorIs(t, err, fs.ErrExist)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		src := t.TempDir()
		writeTree(t, src, map[string]string{"a.txt": "a"})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := CopyTree(cancelled, src, filepath.Join(t.TempDir(), "dst"), nil, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 100, Percent(0, 0))
	assert.Equal(t, 0, Percent(0, 300))
	assert.Equal(t, 33, Percent(100, 300))
	assert.Equal(t, 100, Percent(300, 300))
	assert.Equal(t, 100, Percent(400, 300), "growing files never exceed 100")
}

func TestDetachDeliversLastValue(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	block := make(chan struct{})

	report, stop := Detach(func(p int) {
		<-block
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	for p := 0; p <= 100; p++ {
		report(p) // must never block even though the sink is stuck
	}
	close(block)
	stop()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.True(t, sort.IntsAreSorted(seen))
}
