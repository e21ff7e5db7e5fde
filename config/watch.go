package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watch calls onChange after path is written, renamed or recreated, until ctx is done.
// The parent directory is watched so editors that replace the file are seen too.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(context.Context)) error {
	logger := zerolog.Ctx(ctx)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Errorf("resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	logger.Debug().Str("path", abs).Dur("debounce", debounce).Msg("watching config file")

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("config watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs || event.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug().Str("op", event.Op.String()).Msg("config file event")

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if ctx.Err() == nil {
					onChange(ctx)
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config watcher errors channel closed")
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
