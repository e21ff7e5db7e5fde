package main

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"folder-backup/backup"
	"folder-backup/style"
)

// consoleNotifier draws run events on the terminal.
type consoleNotifier struct {
	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter

	// next, when set, is printed after every finished run.
	next func() time.Time
}

var _ backup.Notifier = (*consoleNotifier)(nil)

func (n *consoleNotifier) OnStart(source, destination string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	style.Info("Backing up %s", source)
	style.Sub("  into %s", destination)

	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("Copying").
		WithWriter(style.Output).
		Start()
	if err == nil {
		n.bar = bar
	}
}

func (n *consoleNotifier) OnProgress(percent int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bar == nil {
		return
	}
	if delta := percent - n.bar.Current; delta > 0 {
		n.bar.Add(delta)
	}
}

func (n *consoleNotifier) stopBar() {
	if n.bar != nil {
		_, _ = n.bar.Stop()
		n.bar = nil
	}
}

func (n *consoleNotifier) OnSkipped(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopBar()
	style.WarnLite("Backup skipped: %s", reason)
	n.printNext()
}

func (n *consoleNotifier) OnComplete(r backup.Report) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopBar()
	style.Success("Backup completed: %s", r.Destination)
	style.Sub("  %d files, %s in %s", r.Stats.Files, humanize.IBytes(uint64(r.Stats.Bytes)), r.Stats.Elapsed.Round(time.Millisecond))
	if r.Stats.Skipped > 0 {
		style.Sub("  %d entries excluded", r.Stats.Skipped)
	}
	for _, rec := range r.Retention.Removed {
		style.Ok("Removed old backup %s", rec.Name)
	}
	for _, err := range r.Retention.Failures {
		style.WarnLite("Could not remove old backup: %v", err)
	}
	n.printNext()
}

func (n *consoleNotifier) OnError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopBar()
	style.Err("Backup failed: %v", err)
	reportRunError(err)
	n.printNext()
}

func (n *consoleNotifier) printNext() {
	if n.next == nil {
		return
	}
	if t := n.next(); !t.IsZero() {
		style.InfoLite("Next backup at %s", t.Format(timeFormat))
	}
}
