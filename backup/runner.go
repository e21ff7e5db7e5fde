// Package backup performs one backup run: configuration check, free space
// preflight, retention, copy and bookkeeping.
package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"folder-backup/config"
	"folder-backup/copier"
	"folder-backup/diskspace"
	"folder-backup/filter"
	"folder-backup/metrics"
	"folder-backup/retention"
	"folder-backup/scheduler"
)

// ErrBackupExists is returned when the folder for this run's timestamp is already there.
var ErrBackupExists = errors.Base("backup folder already exists")

// Report describes a finished run.
type Report struct {
	RunID       string
	Source      string
	Destination string
	Stats       copier.Stats
	Retention   retention.Result
	CompletedAt time.Time
}

// Notifier receives run events for display. Calls come from the run's goroutine;
// OnProgress comes from a separate one and must return quickly.
type Notifier interface {
	OnStart(source, destination string)
	OnProgress(percent int)
	OnSkipped(reason string)
	OnComplete(report Report)
	OnError(err error)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) OnStart(string, string) {}
func (NopNotifier) OnProgress(int)         {}
func (NopNotifier) OnSkipped(string)       {}
func (NopNotifier) OnComplete(Report)      {}
func (NopNotifier) OnError(error)          {}

// Runner implements scheduler.Job. Settings are re-read from Store on every run.
type Runner struct {
	Store   config.Store
	Session *retention.Session

	// Optional.
	Notifier  Notifier
	Metrics   *metrics.Collector
	Retention *retention.Manager
	Prefix    string
	Now       func() time.Time
	// CheckSpace defaults to diskspace.Check.
	CheckSpace func(path string, min uint64) (uint64, error)
}

var _ scheduler.Job = (*Runner)(nil)

func (r *Runner) notifier() Notifier {
	if r.Notifier == nil {
		return NopNotifier{}
	}
	return r.Notifier
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) prefix() string {
	if r.Prefix == "" {
		return retention.DefaultPrefix
	}
	return r.Prefix
}

// Run executes one backup. A run that is skipped (missing config with suppression,
// or declined retention) returns an Outcome that is not completed and a nil error.
func (r *Runner) Run(ctx context.Context, req scheduler.Request) (scheduler.Outcome, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx)
	notify := r.notifier()

	fail := func(err error) (scheduler.Outcome, error) {
		r.Metrics.RunFinished(metrics.ResultFailed, time.Since(started))
		notify.OnError(err)
		return scheduler.Outcome{}, err
	}
	skip := func(result, reason string) (scheduler.Outcome, error) {
		r.Metrics.RunFinished(result, time.Since(started))
		notify.OnSkipped(reason)
		return scheduler.Outcome{}, nil
	}

	settings, err := config.Load(ctx, r.Store)
	if err != nil {
		return fail(err)
	}
	job, err := settings.Job()
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) && req.SuppressMissingConfig {
			logger.Info().Err(err).Msg("backup skipped, not configured yet")
			return skip(metrics.ResultSkipped, "source or destination not configured")
		}
		return fail(err)
	}

	logger = logger.With().
		Str("source", job.SourcePath).
		Str("destination", job.DestinationParentPath).
		Logger()
	ctx = logger.WithContext(ctx)

	if err := os.MkdirAll(job.DestinationParentPath, 0o755); err != nil {
		return fail(errors.Errorf("creating destination folder: %w", err))
	}

	check := r.CheckSpace
	if check == nil {
		check = diskspace.Check
	}
	free, err := check(job.DestinationParentPath, job.MinFreeSpace)
	if err != nil {
		return fail(err)
	}
	logger.Debug().Uint64("free", free).Uint64("required", job.MinFreeSpace).Msg("free space ok")

	manager := r.Retention
	if manager == nil {
		manager = &retention.Manager{}
	}
	kept, err := manager.EnforceLimit(ctx, job.DestinationParentPath, job.MaxBackupCount, r.prefix(), r.Session)
	if err != nil {
		return fail(err)
	}
	r.Metrics.Retention(len(kept.Removed), len(kept.Failures))
	if !kept.Proceed {
		return skip(metrics.ResultDeclined, "deletion of extra backups declined")
	}

	dest := filepath.Join(job.DestinationParentPath, retention.FolderName(r.prefix(), r.now()))
	if _, err := os.Lstat(dest); err == nil {
		return fail(errors.WithDetails(errors.WithStack(ErrBackupExists), "path", dest))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fail(errors.Errorf("checking backup folder: %w", err))
	}

	logger.Info().Str("backup", dest).Int("existing", kept.Existing).Msg("backup started")
	notify.OnStart(job.SourcePath, dest)

	report, stop := copier.Detach(notify.OnProgress)
	stats, err := copier.CopyTree(ctx, job.SourcePath, dest, filter.New(job.ExcludePatterns...), report)
	stop()
	if err != nil {
		// an aborted copy must not count as a backup
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			logger.Warn().Err(rmErr).Str("backup", dest).Msg("failed to remove partial backup")
		}
		return fail(errors.Errorf("copying %s: %w", job.SourcePath, err))
	}

	completedAt := r.now()
	if err := config.SetLastBackup(ctx, r.Store, completedAt); err != nil {
		// the backup itself is on disk, only the bookkeeping is lost
		logger.Error().Err(err).Msg("failed to record last backup time")
	}

	retained := kept.Existing - len(kept.Removed) + 1
	r.Metrics.Copied(stats.Files, stats.Bytes)
	r.Metrics.RunFinished(metrics.ResultSuccess, time.Since(started))
	r.Metrics.Succeeded(completedAt, retained)

	logger.Info().
		Str("backup", dest).
		Int("files", stats.Files).
		Int("skipped", stats.Skipped).
		Int64("bytes", stats.Bytes).
		Int("removed", len(kept.Removed)).
		Int("retained", retained).
		Dur("elapsed", stats.Elapsed).
		Msg("backup completed")

	notify.OnComplete(Report{
		RunID:       runID,
		Source:      job.SourcePath,
		Destination: dest,
		Stats:       stats,
		Retention:   kept,
		CompletedAt: completedAt,
	})
	return scheduler.Outcome{Completed: true, CompletedAt: completedAt}, nil
}
