package config

import (
	"context"
	"path/filepath"
	"strings"
)

// Keys persisted in a Store.
const (
	KeySourcePath          = "sourceFolderPath"
	KeyDestinationPath     = "destinationFolderPath"
	KeyBackupInterval      = "backupInterval"
	KeyCustomIntervalHours = "customIntervalHours"
	KeyCustomIntervalDays  = "customIntervalDays"
	KeyMaxBackupCount      = "maxBackupCount"
	KeyLastBackup          = "lastBackupTimestamp"
	KeyMinFreeSpace        = "minFreeSpace"
	KeyExcludePatterns     = "excludePatterns"
)

// Keys lists every known key in display order.
var Keys = []string{
	KeySourcePath,
	KeyDestinationPath,
	KeyBackupInterval,
	KeyCustomIntervalHours,
	KeyCustomIntervalDays,
	KeyMaxBackupCount,
	KeyMinFreeSpace,
	KeyExcludePatterns,
	KeyLastBackup,
}

// Store is durable key/value persistence for settings.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// Open picks the backend from the file extension: .db, .sqlite and .sqlite3 open
// a SQLite store, anything else a YAML file.
func Open(ctx context.Context, path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(ctx, path)
	default:
		return OpenYAML(path)
	}
}
