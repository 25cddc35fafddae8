package storeio

import (
	"fmt"
	"io"
	"os"

	"github.com/inkwell/mailstore/mlog"
)

// LinkOrCopy attempts to make a hardlink dst. If that fails, it tries a
// regular file copy. If srcReaderOpt is not nil, it is used for reading
// instead of opening src. If sync is true and the file is copied (not
// hardlinked), Sync is called on the destination file. Callers are
// responsible for syncing the destination directory afterwards, typically
// once for a batch of files.
//
// Used by backend/maildirstore when materializing an appended or copied
// message under cur/.
func LinkOrCopy(log *mlog.Log, dst, src string, srcReaderOpt io.Reader, sync bool) (rerr error) {
	err := os.Link(src, dst)
	if err == nil {
		return nil
	} else if os.IsNotExist(err) {
		return err
	}

	if srcReaderOpt == nil {
		sf, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open source file: %w", err)
		}
		defer func() {
			log.Check(sf.Close(), "closing copied source file")
		}()
		srcReaderOpt = sf
	}

	df, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0660)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if df != nil {
			log.Check(os.Remove(dst), "removing partial destination file")
			log.Check(df.Close(), "closing partial destination file")
		}
	}()

	if _, err := io.Copy(df, srcReaderOpt); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if sync {
		if err := df.Sync(); err != nil {
			return fmt.Errorf("sync destination: %w", err)
		}
	}
	err = df.Close()
	df = nil
	if err != nil {
		log.Check(os.Remove(dst), "removing partial destination file")
		return err
	}
	return nil
}
