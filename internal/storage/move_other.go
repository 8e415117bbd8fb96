//go:build !linux

package storage

import "os"

// moveNoReplace renames source to target. The caller holds the lock of target.
func moveNoReplace(source, target string) error {
	return os.Rename(source, target)
}
