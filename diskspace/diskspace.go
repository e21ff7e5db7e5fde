// Package diskspace checks that a backup destination has room before copying.
package diskspace

import (
	"strings"

	"github.com/dustin/go-humanize"
	"gitlab.com/tozd/go/errors"
)

// MinimumFloor is the lowest minimum free space a config may ask for.
const MinimumFloor uint64 = 10 * humanize.MiByte

// ErrInsufficientSpace is returned when the destination is below the required free space.
var ErrInsufficientSpace = errors.Base("insufficient free space")

// ParseSize reads sizes such as "10mb", "1.5 GB" or "500MiB". Plain "mb"/"gb"
// are treated as binary units, the way backup sizes were always configured.
func ParseSize(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty size")
	}
	for _, unit := range []string{"kb", "mb", "gb", "tb"} {
		if strings.HasSuffix(s, unit) {
			s = strings.TrimSuffix(s, unit) + unit[:1] + "ib"
			break
		}
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// Free returns the bytes available to the current user on the volume holding path.
func Free(path string) (uint64, error) {
	return freeSpace(path)
}

// Check returns ErrInsufficientSpace if path has less than required bytes free.
func Check(path string, required uint64) (uint64, error) {
	free, err := Free(path)
	if err != nil {
		return 0, err
	}
	if free < required {
		return free, errors.WithDetails(
			errors.Errorf("%w: %s available, %s required", ErrInsufficientSpace, humanize.IBytes(free), humanize.IBytes(required)),
			"path", path,
		)
	}
	return free, nil
}
