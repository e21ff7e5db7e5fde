// Package copier duplicates a source directory tree under a new destination,
// reporting byte level progress as it goes.
package copier

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"folder-backup/filter"
)

const chunkSize = 32 * 1024

// ProgressFunc receives the integer percentage of bytes copied, 0..100.
type ProgressFunc func(percent int)

// Stats summarises a finished copy.
type Stats struct {
	Files    int
	Dirs     int
	Symlinks int
	Skipped  int
	Bytes    int64
	Elapsed  time.Duration
}

// CopyError is returned for any I/O failure during a copy. Content already written
// under the destination is left in place.
type CopyError struct {
	Op   string
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *CopyError) Unwrap() error { return e.Err }

type entry struct {
	rel  string
	mode fs.FileMode
	size int64
	mod  time.Time
}

// CopyTree copies src to dst, which must not exist yet. Entries rejected by f are
// neither copied nor counted toward the total. onProgress may be nil.
func CopyTree(ctx context.Context, src, dst string, f filter.Filter, onProgress ProgressFunc) (Stats, error) {
	start := time.Now()
	logger := zerolog.Ctx(ctx)

	if f == nil {
		f = filter.All
	}
	if onProgress == nil {
		onProgress = func(int) {}
	}

	info, err := os.Stat(src)
	if err != nil {
		return Stats{}, &CopyError{Op: "stat", Path: src, Err: err}
	}
	if !info.IsDir() {
		return Stats{}, &CopyError{Op: "stat", Path: src, Err: errors.New("source is not a directory")}
	}
	if _, err := os.Lstat(dst); err == nil {
		return Stats{}, &CopyError{Op: "create", Path: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Stats{}, &CopyError{Op: "stat", Path: dst, Err: err}
	}

	entries, total, skipped, err := plan(src, f)
	if err != nil {
		return Stats{}, err
	}

	logger.Debug().
		Str("source", src).
		Str("destination", dst).
		Int("entries", len(entries)).
		Int64("total_bytes", total).
		Msg("copy planned")

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return Stats{}, &CopyError{Op: "mkdir", Path: dst, Err: err}
	}

	stats := Stats{Skipped: skipped}
	tracker := newTracker(total, onProgress)
	var dirs []entry

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, &CopyError{Op: "copy", Path: filepath.Join(src, e.rel), Err: err}
		}

		from := filepath.Join(src, e.rel)
		to := filepath.Join(dst, e.rel)

		switch {
		case e.mode.IsDir():
			if err := os.MkdirAll(to, 0o755); err != nil {
				return stats, &CopyError{Op: "mkdir", Path: to, Err: err}
			}
			dirs = append(dirs, e)
			stats.Dirs++
		case e.mode&fs.ModeSymlink != 0:
			if err := copySymlink(from, to); err != nil {
				return stats, err
			}
			stats.Symlinks++
		default:
			n, err := copyFile(from, to, e, tracker)
			stats.Bytes += n
			if err != nil {
				return stats, err
			}
			stats.Files++
		}
	}

	// permissions of directories go on last so read-only sources can still be filled
	for i := len(dirs) - 1; i >= 0; i-- {
		to := filepath.Join(dst, dirs[i].rel)
		if err := os.Chmod(to, dirs[i].mode.Perm()); err != nil {
			return stats, &CopyError{Op: "chmod", Path: to, Err: err}
		}
		_ = os.Chtimes(to, dirs[i].mod, dirs[i].mod)
	}

	tracker.finish()
	stats.Elapsed = time.Since(start)

	logger.Debug().
		Str("destination", dst).
		Int("files", stats.Files).
		Int64("bytes", stats.Bytes).
		Dur("elapsed", stats.Elapsed).
		Msg("copy finished")

	return stats, nil
}

// plan walks src once, applying the filter and summing file sizes.
func plan(src string, f filter.Filter) ([]entry, int64, int, error) {
	var (
		entries []entry
		total   int64
		skipped int
	)
	dirFilter, _ := f.(filter.DirFilter)

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &CopyError{Op: "walk", Path: path, Err: err}
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &CopyError{Op: "walk", Path: path, Err: err}
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if dirFilter != nil && !dirFilter.ShouldDescend(rel) {
				skipped++
				return filepath.SkipDir
			}
		} else if !f.ShouldInclude(rel) {
			skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return &CopyError{Op: "stat", Path: path, Err: err}
		}
		// pipes, sockets and devices would block or fail on open
		if info.Mode().Type()&(fs.ModeNamedPipe|fs.ModeSocket|fs.ModeDevice|fs.ModeCharDevice|fs.ModeIrregular) != 0 {
			skipped++
			return nil
		}

		e := entry{rel: rel, mode: info.Mode(), mod: info.ModTime()}
		if info.Mode().IsRegular() {
			e.size = info.Size()
			total += e.size
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	return entries, total, skipped, nil
}

func copyFile(from, to string, e entry, tracker *tracker) (int64, error) {
	in, err := os.Open(from)
	if err != nil {
		return 0, &CopyError{Op: "open", Path: from, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return 0, &CopyError{Op: "mkdir", Path: filepath.Dir(to), Err: err}
	}

	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, &CopyError{Op: "create", Path: to, Err: err}
	}

	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(io.MultiWriter(out, tracker), in, buf)
	if err != nil {
		out.Close()
		return n, &CopyError{Op: "write", Path: to, Err: err}
	}
	if err := out.Close(); err != nil {
		return n, &CopyError{Op: "close", Path: to, Err: err}
	}

	if err := os.Chmod(to, e.mode.Perm()); err != nil {
		return n, &CopyError{Op: "chmod", Path: to, Err: err}
	}
	if err := os.Chtimes(to, e.mod, e.mod); err != nil {
		return n, &CopyError{Op: "chtimes", Path: to, Err: err}
	}

	return n, nil
}

func copySymlink(from, to string) error {
	target, err := os.Readlink(from)
	if err != nil {
		return &CopyError{Op: "readlink", Path: from, Err: err}
	}
	if err := os.Symlink(target, to); err != nil {
		return &CopyError{Op: "symlink", Path: to, Err: err}
	}
	return nil
}
