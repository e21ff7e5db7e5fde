// Package config persists backup settings and turns them into a validated job configuration.
//
// Settings live in a Store (YAML file or SQLite) under flat string keys. Load reads
// them into Settings, filling defaults; Settings.Job validates and resolves them into
// the immutable JobConfig used by a single backup run.
package config

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"folder-backup/diskspace"
)

// Defaults
const (
	DefaultInterval       = time.Hour
	DefaultMaxBackupCount = 5
	DefaultMinFreeSpace   = "10mb"
	CustomIntervalValue   = "custom"
)

var (
	// ErrConfigMissing means source or destination has not been chosen yet.
	ErrConfigMissing = errors.Base("backup source or destination not configured")
	// ErrInvalidInterval means the interval is zero, negative or not a number.
	ErrInvalidInterval = errors.Base("invalid backup interval")
)

// IntervalKind tags an Interval.
type IntervalKind int

const (
	IntervalFixed IntervalKind = iota
	IntervalCustom
)

// Custom interval parts are capped so that hours + days stays well below
// the time.Duration limit of roughly 292 years.
const (
	MaxCustomDays  = 36500
	MaxCustomHours = MaxCustomDays * 24
)

// Interval is either a fixed duration or a custom hours + days combination.
type Interval struct {
	Kind  IntervalKind
	Fixed time.Duration
	Hours int
	Days  int
}

func Fixed(d time.Duration) Interval { return Interval{Kind: IntervalFixed, Fixed: d} }
func Custom(hours, days int) Interval { return Interval{Kind: IntervalCustom, Hours: hours, Days: days} }
func FixedMillis(ms int64) Interval { return Fixed(time.Duration(ms) * time.Millisecond) }
func (i Interval) IsCustom() bool { return i.Kind == IntervalCustom }

// Duration resolves the interval once, at scheduling time.
func (i Interval) Duration() (time.Duration, error) {
	var d time.Duration
	switch i.Kind {
	case IntervalFixed:
		d = i.Fixed
	case IntervalCustom:
		if i.Hours < 0 || i.Days < 0 {
			return 0, errors.Errorf("%w: negative custom interval", ErrInvalidInterval)
		}
		if i.Hours > MaxCustomHours || i.Days > MaxCustomDays {
			return 0, errors.Errorf("%w: custom interval longer than %d days", ErrInvalidInterval, MaxCustomDays)
		}
		d = time.Duration(i.Hours)*time.Hour + time.Duration(i.Days)*24*time.Hour
	default:
		return 0, errors.Errorf("%w: unknown kind %d", ErrInvalidInterval, i.Kind)
	}
	if d <= 0 {
		return 0, errors.Errorf("%w: must be greater than zero", ErrInvalidInterval)
	}
	return d, nil
}

func (i Interval) String() string {
	if i.IsCustom() {
		return strconv.Itoa(i.Days) + "d" + strconv.Itoa(i.Hours) + "h"
	}
	return i.Fixed.String()
}

// ParseInterval reads the stored representation: milliseconds as a decimal string,
// or "custom" with separate hour and day values. Go duration strings ("6h") are
// accepted as well.
func ParseInterval(raw, hours, days string) (Interval, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, CustomIntervalValue) {
		h, err := atoiOrZero(hours)
		if err != nil {
			return Interval{}, errors.Errorf("%w: custom hours %q", ErrInvalidInterval, hours)
		}
		d, err := atoiOrZero(days)
		if err != nil {
			return Interval{}, errors.Errorf("%w: custom days %q", ErrInvalidInterval, days)
		}
		return Custom(h, d), nil
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms > math.MaxInt64/int64(time.Millisecond) {
			return Interval{}, errors.Errorf("%w: %s ms overflows", ErrInvalidInterval, raw)
		}
		return FixedMillis(ms), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return Fixed(d), nil
	}
	return Interval{}, errors.Errorf("%w: %q", ErrInvalidInterval, raw)
}

func atoiOrZero(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// Settings is everything the store knows, with defaults applied.
type Settings struct {
	SourcePath      string
	DestinationPath string
	Interval        Interval
	MaxBackupCount  int
	MinFreeSpace    string
	ExcludePatterns []string
	LastBackup      time.Time
}

// JobConfig is the immutable input of one backup run.
type JobConfig struct {
	SourcePath            string
	DestinationParentPath string
	Interval              time.Duration
	MaxBackupCount        int
	MinFreeSpace          uint64
	ExcludePatterns       []string
}

// Default returns settings with nothing chosen yet.
func Default() Settings {
	return Settings{
		Interval:       Fixed(DefaultInterval),
		MaxBackupCount: DefaultMaxBackupCount,
		MinFreeSpace:   DefaultMinFreeSpace,
	}
}

// Load reads settings from store. Malformed values are errors, absent ones take defaults.
func Load(ctx context.Context, store Store) (Settings, error) {
	values, err := store.All(ctx)
	if err != nil {
		return Settings{}, errors.Errorf("loading settings: %w", err)
	}

	s := Default()
	s.SourcePath = strings.TrimSpace(values[KeySourcePath])
	s.DestinationPath = strings.TrimSpace(values[KeyDestinationPath])

	if raw := values[KeyBackupInterval]; strings.TrimSpace(raw) != "" {
		iv, err := ParseInterval(raw, values[KeyCustomIntervalHours], values[KeyCustomIntervalDays])
		if err != nil {
			return Settings{}, err
		}
		s.Interval = iv
	}

	if raw := strings.TrimSpace(values[KeyMaxBackupCount]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Settings{}, errors.Errorf("invalid %s %q: %w", KeyMaxBackupCount, raw, err)
		}
		s.MaxBackupCount = n
	}

	if raw := strings.TrimSpace(values[KeyMinFreeSpace]); raw != "" {
		s.MinFreeSpace = raw
	}

	s.ExcludePatterns = splitList(values[KeyExcludePatterns])

	if raw := strings.TrimSpace(values[KeyLastBackup]); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Settings{}, errors.Errorf("invalid %s %q: %w", KeyLastBackup, raw, err)
		}
		s.LastBackup = t
	}

	return s, nil
}

// Job validates settings into a JobConfig.
func (s Settings) Job() (JobConfig, error) {
	if s.SourcePath == "" || s.DestinationPath == "" {
		var missing []string
		if s.SourcePath == "" {
			missing = append(missing, KeySourcePath)
		}
		if s.DestinationPath == "" {
			missing = append(missing, KeyDestinationPath)
		}
		return JobConfig{}, errors.WithDetails(
			errors.Errorf("%w: %s", ErrConfigMissing, strings.Join(missing, ", ")),
			"missing", missing,
		)
	}

	interval, err := s.Interval.Duration()
	if err != nil {
		return JobConfig{}, err
	}

	if s.MaxBackupCount < 1 {
		return JobConfig{}, errors.Errorf("%s must be 1 or greater, got %d", KeyMaxBackupCount, s.MaxBackupCount)
	}

	minFree, err := diskspace.ParseSize(s.MinFreeSpace)
	if err != nil {
		return JobConfig{}, errors.Errorf("invalid %s: %w", KeyMinFreeSpace, err)
	}
	if minFree < diskspace.MinimumFloor {
		minFree = diskspace.MinimumFloor
	}

	src, err := filepath.Abs(s.SourcePath)
	if err != nil {
		return JobConfig{}, errors.Errorf("resolving source path: %w", err)
	}
	dst, err := filepath.Abs(s.DestinationPath)
	if err != nil {
		return JobConfig{}, errors.Errorf("resolving destination path: %w", err)
	}
	if within(dst, src) {
		return JobConfig{}, errors.Errorf("destination %s must not be inside source %s", dst, src)
	}

	return JobConfig{
		SourcePath:            src,
		DestinationParentPath: dst,
		Interval:              interval,
		MaxBackupCount:        s.MaxBackupCount,
		MinFreeSpace:          minFree,
		ExcludePatterns:       s.ExcludePatterns,
	}, nil
}

// within reports whether path equals base or lies below it.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SetInterval stores iv using the "custom" sentinel for custom intervals.
func SetInterval(ctx context.Context, store Store, iv Interval) error {
	if _, err := iv.Duration(); err != nil {
		return err
	}
	if iv.IsCustom() {
		if err := store.Set(ctx, KeyCustomIntervalHours, strconv.Itoa(iv.Hours)); err != nil {
			return err
		}
		if err := store.Set(ctx, KeyCustomIntervalDays, strconv.Itoa(iv.Days)); err != nil {
			return err
		}
		return store.Set(ctx, KeyBackupInterval, CustomIntervalValue)
	}
	return store.Set(ctx, KeyBackupInterval, strconv.FormatInt(iv.Fixed.Milliseconds(), 10))
}

// SetLastBackup records a completed backup.
func SetLastBackup(ctx context.Context, store Store, t time.Time) error {
	return store.Set(ctx, KeyLastBackup, t.Format(time.RFC3339))
}

// Validate checks a raw value before it is written under key.
func Validate(key, value string) error {
	switch key {
	case KeySourcePath, KeyDestinationPath, KeyExcludePatterns:
		return nil
	case KeyBackupInterval:
		if strings.EqualFold(strings.TrimSpace(value), CustomIntervalValue) {
			return nil
		}
		iv, err := ParseInterval(value, "", "")
		if err != nil {
			return err
		}
		_, err = iv.Duration()
		return err
	case KeyCustomIntervalHours, KeyCustomIntervalDays:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return errors.Errorf("%w: %s must be a non-negative integer", ErrInvalidInterval, key)
		}
		if (key == KeyCustomIntervalHours && n > MaxCustomHours) || (key == KeyCustomIntervalDays && n > MaxCustomDays) {
			return errors.Errorf("%w: %s exceeds %d days", ErrInvalidInterval, key, MaxCustomDays)
		}
		return nil
	case KeyMaxBackupCount:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return errors.Errorf("%s must be an integer of 1 or greater", key)
		}
		return nil
	case KeyMinFreeSpace:
		_, err := diskspace.ParseSize(value)
		return err
	case KeyLastBackup:
		_, err := time.Parse(time.RFC3339, value)
		return err
	default:
		return errors.Errorf("unknown setting %q", key)
	}
}
