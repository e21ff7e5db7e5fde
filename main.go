package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"folder-backup/backup"
	"folder-backup/config"
	"folder-backup/metrics"
	"folder-backup/retention"
	"folder-backup/style"
)

var version = "v0.1.0"

const timeFormat = "2006-01-02 15:04:05"

// Main application options
type app struct {
	storePath      string
	debug          bool
	nonInteractive bool
}

// ENTRY POINT
func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		style.Err("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "folder-backup",
		Short: "Scheduled folder backups with bounded retention",
		Long: `folder-backup copies a source folder into a timestamped backup folder on a
recurring interval and keeps only the most recent backups.

Settings (source, destination, interval, retention) are kept in a settings
store, a yaml file by default or sqlite when the path ends in .db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(a.setupLogging(cmd.Context()))
		},
	}

	root.PersistentFlags().StringVar(&a.storePath, "store", defaultStorePath(), "settings store path (.yaml or .db)")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.nonInteractive, "non-interactive", false, "skip all user prompts and accept deletions")

	root.AddCommand(
		a.newRunCmd(),
		a.newOnceCmd(),
		a.newListCmd(),
		a.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			style.Signature("Folder Backup")
			style.PlainLn(version)
		},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "folder-backup", "settings.yaml")
}

// setupLogging attaches a console logger unless the context already carries one.
func (a *app) setupLogging(ctx context.Context) context.Context {
	level := zerolog.InfoLevel
	if a.debug {
		level = zerolog.DebugLevel
	}

	if existing := zerolog.Ctx(ctx); existing.GetLevel() != zerolog.Disabled {
		logger := existing.Level(level)
		return logger.WithContext(ctx)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	return logger.WithContext(ctx)
}

func (a *app) openStore(ctx context.Context) (config.Store, error) {
	store, err := config.Open(ctx, a.storePath)
	if err != nil {
		return nil, errors.Errorf("opening settings store %s: %w", a.storePath, err)
	}
	return store, nil
}

// confirm gates retention deletions. Non-interactive runs always accept.
func (a *app) confirm(_ context.Context, excess int) bool {
	if a.nonInteractive {
		style.InfoLite("Maximum backup count reached, deleting %d oldest backup(s)", excess)
		return true
	}
	ok := style.Confirm("Maximum backup count reached. Delete the %d oldest backup(s) to continue?", excess)
	if !ok {
		style.Warn("Old backups kept, backup cancelled for this session.")
	}
	return ok
}

func (a *app) newRunner(store config.Store, collector *metrics.Collector, n backup.Notifier) *backup.Runner {
	return &backup.Runner{
		Store:    store,
		Session:  retention.NewSession(a.confirm),
		Notifier: n,
		Metrics:  collector,
	}
}

// reportRunError prints a run failure with a hint for the errors a user can fix.
func reportRunError(err error) {
	if errors.Is(err, config.ErrConfigMissing) {
		style.Sub("Choose folders with: folder-backup config set %s <dir> and %s <dir>",
			config.KeySourcePath, config.KeyDestinationPath)
	}
}
