//go:build !windows

package cbmerr

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errnoTable = []struct {
	errno unix.Errno
	code  Code
}{
	{unix.EEXIST, FileExists},
	{unix.EACCES, NoPermission},
	{unix.ENAMETOOLONG, NameTooLong},
	{unix.ENOENT, FileNotFound},
	{unix.ENOSPC, DiskFull},
	{unix.EROFS, WriteProtect},
	{unix.ENOTDIR, FileTypeMismatch},
	{unix.EISDIR, FileTypeMismatch},
	{unix.ENOTEMPTY, DirNotEmpty},
	{unix.EMFILE, NoChannel},
	{unix.EINVAL, SyntaxInval},
}

// FromOS translates a host error into a CBM code. Unknown errors are FAULT.
func FromOS(err error) Code {
	if err == nil {
		return OK
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		for _, e := range errnoTable {
			if e.errno == errno {
				return e.code
			}
		}
		return Fault
	}
	c, _ := fromFSSentinel(err)
	return c
}
