package main

import (
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"folder-backup/config"
	"folder-backup/retention"
	"folder-backup/style"
)

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			settings, err := config.Load(ctx, store)
			if err != nil {
				return err
			}
			if settings.DestinationPath == "" {
				return errors.Errorf("%w: %s", config.ErrConfigMissing, config.KeyDestinationPath)
			}

			records, err := retention.List(settings.DestinationPath, retention.DefaultPrefix)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				style.Sub("No backups in %s", settings.DestinationPath)
				return nil
			}

			data := pterm.TableData{{"#", "Backup", "Created", "Size"}}
			for i := len(records) - 1; i >= 0; i-- {
				rec := records[i]
				size := "?"
				if n, err := dirSize(rec.Path); err == nil {
					size = humanize.IBytes(n)
				}
				data = append(data, []string{
					strconv.Itoa(len(records) - i),
					rec.Name,
					humanize.Time(rec.Created),
					size,
				})
			}

			style.Bold("Backups in %s (keeping %d)", settings.DestinationPath, settings.MaxBackupCount)
			return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(style.Output).Render()
		},
	}
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}
