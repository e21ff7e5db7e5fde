// Package retention keeps the number of backup folders under a parent directory bounded.
//
// Backups are folders named "<prefix><MM-DD-YYYY HH-mm-ss>". That timestamp does not
// sort as a string across years, so ordering always uses the parsed time. Folders that
// carry the prefix but no parsable timestamp fall back to their modification time.
package retention

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

const (
	DefaultPrefix   = "Backup-"
	TimestampLayout = "01-02-2006 15-04-05"
)

// Record is one backup folder found on disk.
type Record struct {
	Name    string
	Path    string
	Created time.Time
}

// Error is a retention I/O failure on a specific path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return "retention " + e.Path + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// FolderName builds the backup folder name for t.
func FolderName(prefix string, t time.Time) string {
	return prefix + t.Format(TimestampLayout)
}

// ParseFolderName extracts the creation time embedded in name.
func ParseFolderName(prefix, name string) (time.Time, bool) {
	stamp, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// List returns the backup folders under parent, oldest first. A missing parent has no backups.
func List(parent, prefix string) ([]Record, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Path: parent, Err: err}
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		created, ok := ParseFolderName(prefix, entry.Name())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue // vanished between ReadDir and Info
			}
			created = info.ModTime()
		}

		records = append(records, Record{
			Name:    entry.Name(),
			Path:    filepath.Join(parent, entry.Name()),
			Created: created,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Created.Equal(records[j].Created) {
			return records[i].Name < records[j].Name
		}
		return records[i].Created.Before(records[j].Created)
	})

	return records, nil
}

// Result describes one EnforceLimit call.
type Result struct {
	Proceed  bool
	Existing int
	Removed  []Record
	Failures []error
}

// Manager trims backup folders. The zero value removes folders with os.RemoveAll.
type Manager struct {
	RemoveAll func(path string) error
}

// EnforceLimit makes room for one more backup under parent. When count >= maxCount the
// session is asked (at most once per session) and, on acceptance, the oldest folders are
// deleted until count < maxCount. Deletion is best-effort: a folder that cannot be removed
// is recorded in Result.Failures and the next-oldest one is tried instead.
func (m *Manager) EnforceLimit(ctx context.Context, parent string, maxCount int, prefix string, session *Session) (Result, error) {
	logger := zerolog.Ctx(ctx)

	if maxCount < 1 {
		return Result{}, errors.Errorf("max backup count must be 1 or greater, got %d", maxCount)
	}

	records, err := List(parent, prefix)
	if err != nil {
		return Result{}, err
	}

	res := Result{Existing: len(records), Proceed: true}
	if len(records) < maxCount {
		return res, nil
	}

	excess := len(records) - maxCount + 1
	if !session.Decide(ctx, excess) {
		logger.Info().
			Str("parent", parent).
			Int("existing", len(records)).
			Int("max", maxCount).
			Msg("deletion of extra backups declined")
		res.Proceed = false
		return res, nil
	}

	remove := m.RemoveAll
	if remove == nil {
		remove = os.RemoveAll
	}

	remaining := len(records)
	for _, rec := range records {
		if remaining < maxCount {
			break
		}
		if err := remove(rec.Path); err != nil {
			logger.Warn().Err(err).Str("path", rec.Path).Msg("failed to remove old backup")
			res.Failures = append(res.Failures, &Error{Path: rec.Path, Err: err})
			continue
		}
		logger.Info().Str("path", rec.Path).Time("created", rec.Created).Msg("removed old backup")
		res.Removed = append(res.Removed, rec)
		remaining--
	}

	return res, nil
}
