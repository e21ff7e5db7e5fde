package main

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"folder-backup/config"
	"folder-backup/style"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change backup settings",
	}
	cmd.AddCommand(a.newConfigShowCmd(), a.newConfigSetCmd(), a.newConfigIntervalCmd())
	return cmd
}

func (a *app) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			values, err := store.All(ctx)
			if err != nil {
				return err
			}

			style.Bold("Settings (%s)", a.storePath)
			for _, key := range config.Keys {
				if v, ok := values[key]; ok && v != "" {
					style.PlainLn("  %-22s %s", key, v)
				} else {
					style.Sub("  %-22s (not set)", key)
				}
			}

			settings, err := config.Load(ctx, store)
			if err != nil {
				style.WarnLite("Settings are invalid: %v", err)
				return nil
			}
			if interval, err := settings.Interval.Duration(); err == nil {
				style.InfoLite("Backing up every %s (%s)", interval, settings.Interval)
			}
			if !settings.LastBackup.IsZero() {
				style.InfoLite("Last backup %s", humanize.Time(settings.LastBackup))
			}
			if _, err := settings.Job(); err != nil {
				style.WarnLite("Not ready to back up: %v", err)
			}
			return nil
		},
	}
}

func (a *app) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store one setting",
		Long:  "Store one setting. Known keys:\n  " + strings.Join(config.Keys, "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, value := args[0], strings.TrimSpace(args[1])

			if err := config.Validate(key, value); err != nil {
				return errors.Errorf("invalid value for %s: %w", key, err)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Set(ctx, key, value); err != nil {
				return err
			}
			style.Ok("%s = %s", key, value)
			return nil
		},
	}
}

func (a *app) newConfigIntervalCmd() *cobra.Command {
	var hours, days int

	cmd := &cobra.Command{
		Use:   "interval <duration|custom>",
		Short: "Set the backup interval",
		Long: `Set the backup interval, either as a duration ("30m", "6h") or as
"custom" with --hours and --days.`,
		Example: "  folder-backup config interval 45m\n  folder-backup config interval custom --days 1 --hours 12",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var iv config.Interval
			if strings.EqualFold(args[0], config.CustomIntervalValue) {
				iv = config.Custom(hours, days)
			} else {
				d, err := time.ParseDuration(args[0])
				if err != nil {
					return errors.Errorf("%w: %q", config.ErrInvalidInterval, args[0])
				}
				iv = config.Fixed(d)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := config.SetInterval(ctx, store, iv); err != nil {
				return err
			}
			d, _ := iv.Duration()
			style.Ok("Backing up every %s", d)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "hours part of a custom interval")
	cmd.Flags().IntVar(&days, "days", 0, "days part of a custom interval")
	return cmd
}
