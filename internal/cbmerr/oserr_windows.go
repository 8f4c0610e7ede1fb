//go:build windows

package cbmerr

import (
	"errors"
	"syscall"
)

// FromOS translates a host error into a CBM code. Unknown errors are FAULT.
func FromOS(err error) Code {
	if err == nil {
		return OK
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ERROR_FILE_EXISTS, syscall.ERROR_ALREADY_EXISTS:
			return FileExists
		case syscall.ERROR_ACCESS_DENIED:
			return NoPermission
		case syscall.ERROR_FILE_NOT_FOUND, syscall.ERROR_PATH_NOT_FOUND:
			return FileNotFound
		case syscall.ERROR_DIR_NOT_EMPTY:
			return DirNotEmpty
		case syscall.ERROR_DISK_FULL:
			return DiskFull
		}
	}
	c, _ := fromFSSentinel(err)
	return c
}
