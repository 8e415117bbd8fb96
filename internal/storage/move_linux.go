package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// moveNoReplace renames source to target, failing if target appeared in the meantime.
func moveNoReplace(source, target string) error {
	err := unix.Renameat2(unix.AT_FDCWD, source, unix.AT_FDCWD, target, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return ErrRepositoryAlreadyExists
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		// the filesystem doesn't support RENAME_NOREPLACE, the target lock still guards it
		return os.Rename(source, target)
	default:
		return &os.LinkError{Op: "renameat2", Old: source, New: target, Err: err}
	}
}
