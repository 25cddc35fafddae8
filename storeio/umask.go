//go:build !windows

package storeio

import (
	"fmt"
	"syscall"
)

// CheckUmask checks that the umask reserves all permissions for "other",
// since the maildir backend writes message files and database files that
// should never be world-readable.
func CheckUmask() error {
	old := syscall.Umask(007)
	syscall.Umask(old)
	if old&7 != 7 {
		return fmt.Errorf(`umask must have 7 for world/other, e.g. 007, not current %03o`, old)
	}
	return nil
}
