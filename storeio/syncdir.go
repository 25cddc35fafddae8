//go:build !windows

package storeio

import (
	"fmt"
	"os"

	"github.com/inkwell/mailstore/mlog"
)

var xlog = mlog.New("storeio")

// SyncDir opens a directory and syncs its contents to disk. Used after
// writing new message files or renaming across maildir subdirectories, so a
// crash cannot leave a visible file without its directory entry durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %v", err)
	}
	err = d.Sync()
	xlog.Check(d.Close(), "closing directory after sync")
	return err
}
