package maildirstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inkwell/mailstore/store"
	"github.com/inkwell/mailstore/storeio"
)

// messageIterator walks a pre-computed slice of fileEntry, loading each
// message's content from disk only as Next visits it.
type messageIterator struct {
	dir     string
	entries []fileEntry
	pos     int
	fetch   store.FetchType
	header  store.HeaderReader
	cur     store.Message[ID]
	err     error
}

func (it *messageIterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	e := it.entries[it.pos]
	it.pos++
	msg, err := loadMessage(it.dir, e, it.fetch, it.header)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = msg
	return true
}

func (it *messageIterator) Message() store.Message[ID] { return it.cur }
func (it *messageIterator) Err() error                 { return it.err }
func (it *messageIterator) Close() error                { return nil }

func loadMessage(dir string, e fileEntry, fetch store.FetchType, header store.HeaderReader) (store.Message[ID], error) {
	path := filepath.Join(dir, e.sub, e.name)
	info, err := os.Stat(path)
	if err != nil {
		return store.Message[ID]{}, err
	}
	msg := store.Message[ID]{
		UID:          e.uid,
		ModSeq:       e.modseq,
		InternalDate: info.ModTime(),
		Size:         info.Size(),
		Flags:        e.flags,
		Keywords:     readKeywords(dir, e.name),
	}
	if fetch == store.FetchMetadata {
		return msg, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return store.Message[ID]{}, err
	}
	if fetch == store.FetchFull {
		msg.Body = body
	}
	if header != nil {
		hs, err := header.Headers(body)
		if err != nil {
			return store.Message[ID]{}, fmt.Errorf("parsing headers: %w", err)
		}
		msg.Headers = hs
	}
	return msg, nil
}

func filterRange(entries []fileEntry, rng store.UIDRange, max int) []fileEntry {
	var out []fileEntry
	for _, e := range entries {
		if !rng.Contains(e.uid) {
			continue
		}
		out = append(out, e)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

func (b *Backend) FindRange(ctx context.Context, mailbox ID, rng store.UIDRange, fetch store.FetchType, max int) (store.MessageIterator[ID], error) {
	dir := b.dir(mailbox)
	entries := filterRange(listMessageFiles(dir), rng, max)
	return &messageIterator{dir: dir, entries: entries, fetch: fetch, header: b.Header}, nil
}

func (b *Backend) Count(ctx context.Context, mailbox ID) (int, error) {
	return len(listMessageFiles(b.dir(mailbox))), nil
}

func (b *Backend) CountUnseen(ctx context.Context, mailbox ID) (int, error) {
	n := 0
	for _, e := range listMessageFiles(b.dir(mailbox)) {
		if !e.flags.Seen {
			n++
		}
	}
	return n, nil
}

func (b *Backend) FindDeleted(ctx context.Context, mailbox ID, rng store.UIDRange) ([]store.Message[ID], error) {
	dir := b.dir(mailbox)
	var msgs []store.Message[ID]
	for _, e := range filterRange(listMessageFiles(dir), rng, 0) {
		if !e.flags.Deleted {
			continue
		}
		msg, err := loadMessage(dir, e, store.FetchFull, b.Header)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (b *Backend) FirstUnseenUID(ctx context.Context, mailbox ID) (store.UID, bool, error) {
	for _, e := range listMessageFiles(b.dir(mailbox)) {
		if !e.flags.Seen {
			return e.uid, true, nil
		}
	}
	return 0, false, nil
}

// writeMessageFile atomically materializes body under dir/{new,cur}, going
// through tmp/ first so a crash mid-write never leaves a half-written file
// visible under the name readers look for.
func (b *Backend) writeMessageFile(dir string, uid store.UID, modseq store.ModSeq, flags store.Flags, body []byte, internalDate time.Time) error {
	name := messageName(uid, modseq, flags)
	sub := "new"
	if encodeFlags(flags) != "" {
		sub = "cur"
	}
	tmpPath := filepath.Join(dir, "tmp", name)
	if err := os.WriteFile(tmpPath, body, 0660); err != nil {
		return fmt.Errorf("writing temporary message file: %w", err)
	}
	finalPath := filepath.Join(dir, sub, name)
	if err := storeio.LinkOrCopy(b.Log, finalPath, tmpPath, nil, true); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("materializing message file: %w", err)
	}
	os.Remove(tmpPath)
	if !internalDate.IsZero() {
		if err := os.Chtimes(finalPath, internalDate, internalDate); err != nil {
			return fmt.Errorf("setting internal date: %w", err)
		}
	}
	if err := storeio.SyncDir(filepath.Join(dir, sub)); err != nil {
		return fmt.Errorf("syncing message directory: %w", err)
	}
	return nil
}

func (b *Backend) Save(ctx context.Context, msg *store.Message[ID]) error {
	dir := b.dir(msg.MailboxID)
	if err := b.writeMessageFile(dir, msg.UID, msg.ModSeq, msg.Flags, msg.Body, msg.InternalDate); err != nil {
		return err
	}
	return writeKeywords(dir, messageName(msg.UID, msg.ModSeq, msg.Flags), msg.Keywords)
}

func (b *Backend) Copy(ctx context.Context, mailbox ID, source, dest store.Message[ID]) error {
	srcDir := b.dir(source.MailboxID)
	sub, name, ok := messageFile(srcDir, source.UID)
	if !ok {
		return store.ErrMessageNotFound
	}
	body, err := os.ReadFile(filepath.Join(srcDir, sub, name))
	if err != nil {
		return err
	}
	dir := b.dir(mailbox)
	if err := b.writeMessageFile(dir, dest.UID, dest.ModSeq, dest.Flags, body, dest.InternalDate); err != nil {
		return err
	}
	kw := readKeywords(srcDir, name)
	return writeKeywords(dir, messageName(dest.UID, dest.ModSeq, dest.Flags), kw)
}

func (b *Backend) SetFlags(ctx context.Context, mailbox ID, uid store.UID, flags store.Flags, keywords []string, modseq store.ModSeq) error {
	dir := b.dir(mailbox)
	sub, name, ok := messageFile(dir, uid)
	if !ok {
		return store.ErrMessageNotFound
	}
	oldPath := filepath.Join(dir, sub, name)
	newName := messageName(uid, modseq, flags)
	newSub := "new"
	if encodeFlags(flags) != "" {
		newSub = "cur"
	}
	newPath := filepath.Join(dir, newSub, newName)

	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("renaming message for flag update: %w", err)
	}
	if err := storeio.SyncDir(filepath.Join(dir, newSub)); err != nil {
		return err
	}
	if newSub != sub {
		if err := storeio.SyncDir(filepath.Join(dir, sub)); err != nil {
			return err
		}
	}

	oldKwPath := keywordsPath(dir, name)
	if oldKwPath != keywordsPath(dir, newName) {
		if kw := readKeywords(dir, name); len(kw) > 0 {
			os.Remove(oldKwPath)
		}
	}
	return writeKeywords(dir, newName, keywords)
}

func (b *Backend) Delete(ctx context.Context, mailbox ID, uids []store.UID) error {
	dir := b.dir(mailbox)
	for _, uid := range uids {
		sub, name, ok := messageFile(dir, uid)
		if !ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, sub, name)); err != nil {
			return err
		}
		os.Remove(keywordsPath(dir, name))
	}
	return nil
}
