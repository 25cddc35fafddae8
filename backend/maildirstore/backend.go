package maildirstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/store"
	"github.com/inkwell/mailstore/storeio"
)

// Backend owns the filesystem root and the shared, process-scoped
// SequenceRegistry and ListenerDispatcher every session's mappers use.
// There is no native transaction here: each operation is already a single
// filesystem step or a best-effort sequence of them, so mapper.Execute runs
// against store.NopTransactor.
type Backend struct {
	Root       string
	Log        *mlog.Log
	Registry   *store.Registry[ID]
	Dispatcher *store.ListenerDispatcher
	Header     store.HeaderReader
}

// Open ensures root exists and returns a Backend rooted there.
func Open(ctx context.Context, root string, log *mlog.Log) (*Backend, error) {
	if err := storeio.CheckUmask(); err != nil {
		log.Infox("umask check", err)
	}
	if err := os.MkdirAll(root, 0770); err != nil {
		return nil, fmt.Errorf("creating maildir root: %w", err)
	}
	b := &Backend{Root: root, Log: log, Dispatcher: store.NewListenerDispatcher(), Header: store.MIMEHeaderReader{}}
	b.Registry = store.NewRegistry[ID]("maildir", b)
	return b, nil
}

func (b *Backend) dir(id ID) string { return filepath.Join(b.Root, id) }

// ensureMailboxDirs creates the cur/new/tmp triad and an initial
// mailstore.json for a brand-new mailbox directory.
func (b *Backend) ensureMailboxDirs(dir string, mb store.Mailbox[ID]) error {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0770); err != nil {
			return err
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "mailstore.json")); os.IsNotExist(err) {
		return writeMeta(dir, metaFromStore(mb))
	} else if err != nil {
		return err
	}
	return nil
}

// CalculateLastUID, CalculateHighestModSeq, PersistedLastUID and
// PersistedHighestModSeq implement store.CounterSeeder; maildirstore keeps
// both the true high-water mark (from filenames) and the persisted one (from
// mailstore.json) in sync on every SaveSequences, so in practice the two
// agree, but the Registry still asks for both per its documented contract.

func (b *Backend) CalculateLastUID(ctx context.Context, mailbox ID) (store.UID, error) {
	files := listMessageFiles(b.dir(mailbox))
	var max store.UID
	for _, f := range files {
		if f.uid > max {
			max = f.uid
		}
	}
	return max, nil
}

func (b *Backend) CalculateHighestModSeq(ctx context.Context, mailbox ID) (store.ModSeq, error) {
	files := listMessageFiles(b.dir(mailbox))
	var max store.ModSeq
	for _, f := range files {
		if f.modseq > max {
			max = f.modseq
		}
	}
	return max, nil
}

func (b *Backend) PersistedLastUID(ctx context.Context, mailbox ID) (store.UID, error) {
	m, err := readMeta(b.dir(mailbox))
	if err != nil {
		return 0, err
	}
	return m.LastUID, nil
}

func (b *Backend) PersistedHighestModSeq(ctx context.Context, mailbox ID) (store.ModSeq, error) {
	m, err := readMeta(b.dir(mailbox))
	if err != nil {
		return 0, err
	}
	return m.HighestModSeq, nil
}

func (b *Backend) SaveSequences(ctx context.Context, mailbox ID, lastUID store.UID, highestModSeq store.ModSeq) error {
	dir := b.dir(mailbox)
	m, err := readMeta(dir)
	if err != nil {
		return err
	}
	m.LastUID, m.HighestModSeq = lastUID, highestModSeq
	return writeMeta(dir, m)
}
