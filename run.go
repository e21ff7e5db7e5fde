package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"folder-backup/config"
	"folder-backup/metrics"
	"folder-backup/scheduler"
	"folder-backup/style"
)

func (a *app) newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single backup now and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := a.newRunner(store, nil, &consoleNotifier{})
			out, err := runner.Run(ctx, scheduler.Request{Trigger: scheduler.TriggerManual})
			if err != nil {
				return errors.Errorf("backup failed: %w", err)
			}
			if !out.Completed {
				return errors.New("backup did not run")
			}
			return nil
		},
	}
}

func (a *app) newRunCmd() *cobra.Command {
	var (
		metricsAddr string
		skipInitial bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Back up now, then keep backing up on the configured interval",
		Long: `run performs an immediate backup and then repeats it every configured
interval until interrupted. Edits to a yaml settings file are picked up while
running; a changed interval re-arms the schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), metricsAddr, skipInitial)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "do not back up immediately, wait for the first interval")
	return cmd
}

func (a *app) run(ctx context.Context, metricsAddr string, skipInitial bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := zerolog.Ctx(ctx)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := config.Load(ctx, store)
	if err != nil {
		return err
	}
	interval, err := settings.Interval.Duration()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(nil)
	notifier := &consoleNotifier{}
	sched := scheduler.New(ctx, a.newRunner(store, collector, notifier),
		scheduler.WithSkipHook(func(scheduler.Trigger) { collector.TickSkipped() }),
		scheduler.WithLastCompletion(settings.LastBackup),
	)
	defer sched.Close()
	notifier.next = func() time.Time { return sched.State().NextFireTime }

	style.Signature("===============  Folder Backup  ===============")
	if !settings.LastBackup.IsZero() {
		style.Sub("Last backup: %s", settings.LastBackup.Local().Format(timeFormat))
	}

	if !skipInitial {
		// a running copy is finished even when interrupted, like scheduled ones
		if _, err := sched.RunOnce(context.WithoutCancel(ctx), false); err != nil {
			logger.Debug().Err(err).Msg("initial backup did not complete")
		}
	}

	if err := sched.Start(interval); err != nil {
		return err
	}
	style.Info("Backing up every %s. Press Ctrl+C to exit.", interval)
	notifier.mu.Lock()
	notifier.printNext()
	notifier.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if yamlStore, ok := store.(*config.YAMLStore); ok {
		g.Go(func() error {
			return config.Watch(gctx, yamlStore.Path(), config.DefaultDebounce, func(ctx context.Context) {
				a.reload(ctx, yamlStore, sched, notifier)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	err = g.Wait()
	if sched.State().IsRunning {
		style.Info("Waiting for the running backup to finish...")
	}
	sched.Close()
	style.Sub("Scheduler stopped.")
	return err
}

// reload re-reads the yaml file after an outside edit and re-arms the schedule
// if the interval changed.
func (a *app) reload(ctx context.Context, store *config.YAMLStore, sched *scheduler.Scheduler, n *consoleNotifier) {
	logger := zerolog.Ctx(ctx)

	if err := store.Reload(); err != nil {
		logger.Warn().Err(err).Msg("settings reload failed, keeping previous settings")
		return
	}
	settings, err := config.Load(ctx, store)
	if err != nil {
		logger.Warn().Err(err).Msg("settings invalid, keeping previous schedule")
		return
	}
	interval, err := settings.Interval.Duration()
	if err != nil {
		style.Warn("Ignoring new interval: %v", err)
		return
	}
	if interval == sched.State().Interval {
		logger.Debug().Msg("settings reloaded, interval unchanged")
		return
	}
	if err := sched.Reschedule(interval); err != nil {
		style.Warn("Could not reschedule: %v", err)
		return
	}
	style.Info("Interval changed, backing up every %s", interval)
	n.mu.Lock()
	n.printNext()
	n.mu.Unlock()
}
