//go:build windows

package diskspace

import (
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/windows"
)

func freeSpace(path string) (uint64, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, errors.Errorf("converting path to UTF16: %w", err)
	}

	var freeBytesAvailableToCaller uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailableToCaller, nil, nil); err != nil {
		return 0, errors.Errorf("getting free space for %s: %w", path, err)
	}

	return freeBytesAvailableToCaller, nil
}
