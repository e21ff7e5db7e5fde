// Package filter decides which entries of a source tree are copied into a backup.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultLockSuffix is always excluded from backups.
const DefaultLockSuffix = ".lock"

// Filter reports whether an entry, given by its path relative to the source root, is copied.
type Filter interface {
	ShouldInclude(relPath string) bool
}

// DirFilter is implemented by filters that can prune whole directories.
// Filters without it see every directory walked.
type DirFilter interface {
	ShouldDescend(relPath string) bool
}

// Func adapts a plain function to Filter.
type Func func(relPath string) bool

func (f Func) ShouldInclude(relPath string) bool { return f(relPath) }

// All includes everything.
var All Filter = Func(func(string) bool { return true })

// Rules is the default policy: lock files out, then include/exclude globs.
// Exclude wins over include, matching a directory pattern excludes everything below it.
type Rules struct {
	LockSuffixes []string
	Include      []string
	Exclude      []string
}

// New returns the default rules, excluding ".lock" plus any extra patterns.
func New(exclude ...string) *Rules {
	return &Rules{
		LockSuffixes: []string{DefaultLockSuffix},
		Exclude:      exclude,
	}
}

func (r *Rules) ShouldInclude(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if r.isLock(relPath) {
		return false
	}

	if len(r.Include) > 0 && !matchAny(r.Include, relPath) {
		return false
	}

	return !matchAny(r.Exclude, relPath)
}

// ShouldDescend reports whether a directory is walked. Include globs target files,
// so only lock suffixes and excludes prune directories.
func (r *Rules) ShouldDescend(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	return !r.isLock(relPath) && !matchAny(r.Exclude, relPath)
}

func (r *Rules) isLock(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	if ext == "" {
		return false
	}
	for _, suffix := range r.LockSuffixes {
		if ext == strings.ToLower(suffix) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
		// a bare directory pattern also covers its subtree
		if strings.HasPrefix(relPath, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}
