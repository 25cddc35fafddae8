package maildirstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/inkwell/mailstore/store"
)

// mailboxMapper implements store.MailboxMapper[ID], scoped to one session's
// owner. There is no index of mailboxes other than the directory tree
// itself, so every lookup walks root/<owner>/*.
type mailboxMapper struct {
	b     *Backend
	owner string
}

func (m *mailboxMapper) ownerRoot() string {
	return filepath.Join(m.b.Root, sanitize(m.owner))
}

// list returns every mailbox belonging to m.owner, sorted ascending by Name.
func (m *mailboxMapper) list() ([]store.Mailbox[ID], error) {
	entries, err := os.ReadDir(m.ownerRoot())
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var out []store.Mailbox[ID]
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.ownerRoot(), e.Name())
		meta, err := readMeta(dir)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		id := filepath.Join(sanitize(m.owner), e.Name())
		out = append(out, meta.toStore(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mailboxMapper) FindByPath(ctx context.Context, path string) (store.Mailbox[ID], bool, error) {
	mbs, err := m.list()
	if err != nil {
		return store.Mailbox[ID]{}, false, err
	}
	for _, mb := range mbs {
		if mb.Name == path {
			return mb, true, nil
		}
	}
	return store.Mailbox[ID]{}, false, nil
}

func (m *mailboxMapper) FindWithPathLike(ctx context.Context, pattern string, delimiter byte) ([]store.Mailbox[ID], error) {
	re, err := store.WildcardToRegexp(pattern, delimiter)
	if err != nil {
		return nil, err
	}
	mbs, err := m.list()
	if err != nil {
		return nil, err
	}
	var out []store.Mailbox[ID]
	for _, mb := range mbs {
		if re.MatchString(mb.Name) {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (m *mailboxMapper) HasChildren(ctx context.Context, mb store.Mailbox[ID], delimiter byte) (bool, error) {
	mbs, err := m.list()
	if err != nil {
		return false, err
	}
	prefix := mb.Name + string(delimiter)
	for _, other := range mbs {
		if strings.HasPrefix(other.Name, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Save creates mb if mb.ID is empty, or rewrites its mailstore.json
// otherwise. There is no auto-increment id to reuse for UIDValidity on
// create, so a freshly created mailbox gets a timestamp-based one instead,
// the same convention Dovecot's Maildir++ uses when it has no numeric row
// id to fall back on.
//
// Unlike the SQL-backed stores, ID here is derived from Name rather than an
// opaque counter, so a Name change on an existing mailbox must move its
// directory: the rename is done with os.Rename, which is atomic within a
// filesystem, before the new metadata is written.
func (m *mailboxMapper) Save(ctx context.Context, mb *store.Mailbox[ID]) error {
	if mb.ID == "" {
		mb.Owner = m.owner
		id := mailboxDir(m.owner, mb.Name)
		dir := filepath.Join(m.b.Root, id)
		if err := os.MkdirAll(dir, 0770); err != nil {
			return fmt.Errorf("creating mailbox directory: %w", err)
		}
		if mb.UIDValidity == 0 {
			mb.UIDValidity = uint32(time.Now().Unix())
		}
		if err := m.b.ensureMailboxDirs(dir, *mb); err != nil {
			return err
		}
		mb.ID = id
		return nil
	}
	dir := filepath.Join(m.b.Root, mb.ID)
	if newID := mailboxDir(m.owner, mb.Name); newID != mb.ID {
		newDir := filepath.Join(m.b.Root, newID)
		if _, err := os.Stat(newDir); err == nil {
			return fmt.Errorf("%w: %s", store.ErrMailboxExists, mb.Name)
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(newDir), 0770); err != nil {
			return fmt.Errorf("creating parent of renamed mailbox directory: %w", err)
		}
		if err := os.Rename(dir, newDir); err != nil {
			return fmt.Errorf("renaming mailbox directory: %w", err)
		}
		mb.ID = newID
		dir = newDir
	}
	return writeMeta(dir, metaFromStore(*mb))
}

// Delete removes mb's entire directory tree, messages included.
func (m *mailboxMapper) Delete(ctx context.Context, mb store.Mailbox[ID]) error {
	dir := filepath.Join(m.b.Root, mb.ID)
	return os.RemoveAll(dir)
}

func (m *mailboxMapper) List(ctx context.Context) ([]store.Mailbox[ID], error) {
	return m.list()
}
