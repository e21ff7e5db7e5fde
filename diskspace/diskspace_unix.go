//go:build !windows

package diskspace

import (
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

func freeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, errors.Errorf("getting free space for %s: %w", path, err)
	}

	// Bsize is signed on some platforms
	return uint64(stat.Bsize) * uint64(stat.Bavail), nil
}
