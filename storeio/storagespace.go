package storeio

import (
	"errors"
	"syscall"
)

// IsStorageSpace returns whether err indicates a storage space problem: disk
// full, quota reached, out of inodes. Backends use this to distinguish a
// StorageError worth escalating from one worth a bounded local retry per
// spec.md's error handling policy for read-only paths.
func IsStorageSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
