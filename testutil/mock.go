// Package testutil provides an in-memory store.Store/MailboxMapper
// implementation and a MockMailboxManager constructor, grounded on the
// teacher's store/account_test.go and store/search_test.go fixture-building
// helpers (a "newAccount"-style setup that inserts a fixed population
// before assertions run) — the in-process analog of spinning up a real
// backend, for tests elsewhere in this module that only care about
// session/mapper behavior, not storage.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/session"
	"github.com/inkwell/mailstore/store"
)

type mailboxRecord struct {
	mb store.Mailbox[int64]
}

type messageRecord struct {
	msg store.Message[int64]
}

// Backend is an in-memory store.Store[int64] plus the mailbox/subscription
// bookkeeping a real backend would keep separately. One Backend is meant to
// be shared across every session in a test, the same way a real *bstore.DB
// or *sql.DB is.
type Backend struct {
	Log        *mlog.Log
	Registry   *store.Registry[int64]
	Dispatcher *store.ListenerDispatcher
	Header     store.HeaderReader

	mu            sync.Mutex
	nextMailboxID int64
	mailboxes     map[int64]*mailboxRecord
	messages      map[int64][]*messageRecord
	subscriptions map[string][]string
}

// NewBackend constructs an empty Backend.
func NewBackend(log *mlog.Log) *Backend {
	b := &Backend{
		Log:           log,
		Dispatcher:    store.NewListenerDispatcher(),
		Header:        store.MIMEHeaderReader{},
		mailboxes:     map[int64]*mailboxRecord{},
		messages:      map[int64][]*messageRecord{},
		subscriptions: map[string][]string{},
	}
	b.Registry = store.NewRegistry[int64]("mock", b)
	return b
}

// snapshot is a deep-enough copy of Backend's mutable state for Rollback to
// restore: message slices and mailbox records are replaced wholesale on
// write, so a shallow copy of the top-level maps is sufficient.
type snapshot struct {
	mailboxes     map[int64]*mailboxRecord
	messages      map[int64][]*messageRecord
	subscriptions map[string][]string
}

type tx struct {
	b    *Backend
	prev snapshot
	done bool
}

func (b *Backend) cloneState() snapshot {
	mailboxes := make(map[int64]*mailboxRecord, len(b.mailboxes))
	for k, v := range b.mailboxes {
		mailboxes[k] = v
	}
	messages := make(map[int64][]*messageRecord, len(b.messages))
	for k, v := range b.messages {
		messages[k] = append([]*messageRecord(nil), v...)
	}
	subs := make(map[string][]string, len(b.subscriptions))
	for k, v := range b.subscriptions {
		subs[k] = append([]string(nil), v...)
	}
	return snapshot{mailboxes, messages, subs}
}

// Begin implements store.Transactor by locking the whole Backend for the
// transaction's duration and snapshotting its state, so Rollback can undo
// everything work did without needing per-operation undo logic.
func (b *Backend) Begin(ctx context.Context) (store.Tx, error) {
	b.mu.Lock()
	return &tx{b: b, prev: b.cloneState()}, nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("testutil: transaction already closed")
	}
	t.done = true
	t.b.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.b.mailboxes = t.prev.mailboxes
	t.b.messages = t.prev.messages
	t.b.subscriptions = t.prev.subscriptions
	t.b.mu.Unlock()
	return nil
}

// Every method below assumes the caller already holds b.mu: methods
// reachable directly from a Store/MailboxMapper call take it themselves;
// methods running inside an Execute-driven transaction rely on Begin
// already holding it for the transaction's duration.

func (b *Backend) withLock(ctx context.Context, fn func()) {
	if _, ok := store.TxFromContext(ctx); ok {
		fn()
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

func (b *Backend) CalculateLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var max store.UID
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if m.msg.UID > max {
				max = m.msg.UID
			}
		}
	})
	return max, nil
}

func (b *Backend) CalculateHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	var max store.ModSeq
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if m.msg.ModSeq > max {
				max = m.msg.ModSeq
			}
		}
	})
	return max, nil
}

func (b *Backend) PersistedLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var uid store.UID
	b.withLock(ctx, func() {
		if r, ok := b.mailboxes[mailbox]; ok {
			uid = r.mb.LastUID
		}
	})
	return uid, nil
}

func (b *Backend) PersistedHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	var ms store.ModSeq
	b.withLock(ctx, func() {
		if r, ok := b.mailboxes[mailbox]; ok {
			ms = r.mb.HighestModSeq
		}
	})
	return ms, nil
}

func (b *Backend) SaveSequences(ctx context.Context, mailbox int64, lastUID store.UID, highestModSeq store.ModSeq) error {
	b.withLock(ctx, func() {
		if r, ok := b.mailboxes[mailbox]; ok {
			r.mb.LastUID, r.mb.HighestModSeq = lastUID, highestModSeq
		}
	})
	return nil
}

func (b *Backend) Count(ctx context.Context, mailbox int64) (int, error) {
	var n int
	b.withLock(ctx, func() { n = len(b.messages[mailbox]) })
	return n, nil
}

func (b *Backend) CountUnseen(ctx context.Context, mailbox int64) (int, error) {
	var n int
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if !m.msg.Flags.Seen {
				n++
			}
		}
	})
	return n, nil
}

type messageIterator struct {
	msgs []store.Message[int64]
	pos  int
}

func (it *messageIterator) Next() bool {
	if it.pos >= len(it.msgs) {
		return false
	}
	it.pos++
	return true
}
func (it *messageIterator) Message() store.Message[int64] { return it.msgs[it.pos-1] }
func (it *messageIterator) Err() error                     { return nil }
func (it *messageIterator) Close() error                   { return nil }

// withFetch adapts a fully-populated stored message (Body always holds the
// complete raw content, the same convention the real backends use) to the
// requested FetchType, deriving Headers from Body via b.Header rather than
// trusting whatever Headers the caller happened to set on Save/Copy — the
// mock's counterpart to boltstore/sqlstore's toStore and maildirstore's
// loadMessage.
func (b *Backend) withFetch(msg store.Message[int64], fetch store.FetchType) (store.Message[int64], error) {
	msg.Headers = nil
	if (fetch == store.FetchHeaders || fetch == store.FetchFull) && b.Header != nil && len(msg.Body) > 0 {
		hs, err := b.Header.Headers(msg.Body)
		if err != nil {
			return store.Message[int64]{}, fmt.Errorf("parsing headers: %w", err)
		}
		msg.Headers = hs
	}
	if fetch != store.FetchFull {
		msg.Body = nil
	}
	return msg, nil
}

func (b *Backend) FindRange(ctx context.Context, mailbox int64, rng store.UIDRange, fetch store.FetchType, max int) (store.MessageIterator[int64], error) {
	var out []store.Message[int64]
	var ferr error
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if !rng.Contains(m.msg.UID) {
				continue
			}
			msg, err := b.withFetch(m.msg, fetch)
			if err != nil {
				ferr = err
				return
			}
			out = append(out, msg)
			if max > 0 && len(out) >= max {
				break
			}
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return &messageIterator{msgs: out}, nil
}

func (b *Backend) FindDeleted(ctx context.Context, mailbox int64, rng store.UIDRange) ([]store.Message[int64], error) {
	var out []store.Message[int64]
	var ferr error
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if m.msg.Flags.Deleted && rng.Contains(m.msg.UID) {
				msg, err := b.withFetch(m.msg, store.FetchFull)
				if err != nil {
					ferr = err
					return
				}
				out = append(out, msg)
			}
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (b *Backend) FirstUnseenUID(ctx context.Context, mailbox int64) (store.UID, bool, error) {
	var best store.UID
	var found bool
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if !m.msg.Flags.Seen && (!found || m.msg.UID < best) {
				best, found = m.msg.UID, true
			}
		}
	})
	return best, found, nil
}

func (b *Backend) Save(ctx context.Context, msg *store.Message[int64]) error {
	b.withLock(ctx, func() {
		b.messages[msg.MailboxID] = append(b.messages[msg.MailboxID], &messageRecord{msg: *msg})
	})
	return nil
}

func (b *Backend) Copy(ctx context.Context, mailbox int64, source, dest store.Message[int64]) error {
	b.withLock(ctx, func() {
		b.messages[mailbox] = append(b.messages[mailbox], &messageRecord{msg: dest})
	})
	return nil
}

func (b *Backend) SetFlags(ctx context.Context, mailbox int64, uid store.UID, flags store.Flags, keywords []string, modseq store.ModSeq) error {
	var err error
	b.withLock(ctx, func() {
		for _, m := range b.messages[mailbox] {
			if m.msg.UID == uid {
				m.msg.Flags, m.msg.Keywords, m.msg.ModSeq = flags, keywords, modseq
				return
			}
		}
		err = store.ErrMessageNotFound
	})
	return err
}

func (b *Backend) Delete(ctx context.Context, mailbox int64, uids []store.UID) error {
	b.withLock(ctx, func() {
		want := map[store.UID]bool{}
		for _, u := range uids {
			want[u] = true
		}
		kept := b.messages[mailbox][:0]
		for _, m := range b.messages[mailbox] {
			if !want[m.msg.UID] {
				kept = append(kept, m)
			}
		}
		b.messages[mailbox] = kept
	})
	return nil
}

// mailboxMapper implements store.MailboxMapper[int64], scoped to one
// session's owner.
type mailboxMapper struct {
	b     *Backend
	owner string
}

func (m *mailboxMapper) FindByPath(ctx context.Context, path string) (store.Mailbox[int64], bool, error) {
	var found store.Mailbox[int64]
	var ok bool
	m.b.withLock(ctx, func() {
		for _, r := range m.b.mailboxes {
			if r.mb.Owner == m.owner && r.mb.Name == path {
				found, ok = r.mb, true
				return
			}
		}
	})
	return found, ok, nil
}

func (m *mailboxMapper) FindWithPathLike(ctx context.Context, pattern string, delimiter byte) ([]store.Mailbox[int64], error) {
	re, err := store.WildcardToRegexp(pattern, delimiter)
	if err != nil {
		return nil, err
	}
	var out []store.Mailbox[int64]
	m.b.withLock(ctx, func() {
		for _, r := range m.b.mailboxes {
			if r.mb.Owner == m.owner && re.MatchString(r.mb.Name) {
				out = append(out, r.mb)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mailboxMapper) HasChildren(ctx context.Context, mb store.Mailbox[int64], delimiter byte) (bool, error) {
	prefix := mb.Name + string(delimiter)
	var has bool
	m.b.withLock(ctx, func() {
		for _, r := range m.b.mailboxes {
			if r.mb.Owner == m.owner && strings.HasPrefix(r.mb.Name, prefix) {
				has = true
				return
			}
		}
	})
	return has, nil
}

func (m *mailboxMapper) Save(ctx context.Context, mb *store.Mailbox[int64]) error {
	m.b.withLock(ctx, func() {
		mb.Owner = m.owner
		if mb.ID == 0 {
			m.b.nextMailboxID++
			mb.ID = m.b.nextMailboxID
			if mb.UIDValidity == 0 {
				mb.UIDValidity = uint32(mb.ID)
			}
		}
		m.b.mailboxes[mb.ID] = &mailboxRecord{mb: *mb}
	})
	return nil
}

func (m *mailboxMapper) Delete(ctx context.Context, mb store.Mailbox[int64]) error {
	m.b.withLock(ctx, func() {
		delete(m.b.mailboxes, mb.ID)
		delete(m.b.messages, mb.ID)
	})
	return nil
}

func (m *mailboxMapper) List(ctx context.Context) ([]store.Mailbox[int64], error) {
	var out []store.Mailbox[int64]
	m.b.withLock(ctx, func() {
		for _, r := range m.b.mailboxes {
			if r.mb.Owner == m.owner {
				out = append(out, r.mb)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// subscriptionMapper implements session.SubscriptionMapper[int64].
type subscriptionMapper struct {
	b     *Backend
	owner string
}

func (m *subscriptionMapper) Subscribe(ctx context.Context, path string) error {
	m.b.withLock(ctx, func() {
		for _, p := range m.b.subscriptions[m.owner] {
			if p == path {
				return
			}
		}
		m.b.subscriptions[m.owner] = append(m.b.subscriptions[m.owner], path)
	})
	return nil
}

func (m *subscriptionMapper) Unsubscribe(ctx context.Context, path string) error {
	m.b.withLock(ctx, func() {
		kept := m.b.subscriptions[m.owner][:0]
		for _, p := range m.b.subscriptions[m.owner] {
			if p != path {
				kept = append(kept, p)
			}
		}
		m.b.subscriptions[m.owner] = kept
	})
	return nil
}

func (m *subscriptionMapper) List(ctx context.Context) ([]string, error) {
	var out []string
	m.b.withLock(ctx, func() {
		out = append(out, m.b.subscriptions[m.owner]...)
	})
	return out, nil
}

// Factory implements session.SessionMapperFactory[int64] over a Backend.
type Factory struct {
	Backend *Backend
}

func (f *Factory) CreateMessageMapper(s *session.Session[int64]) (store.MessageMapper[int64], error) {
	return &store.BaseMessageMapper[int64]{
		BackendLabel: "mock",
		Store:        f.Backend,
		Registry:     f.Backend.Registry,
		Dispatcher:   f.Backend.Dispatcher,
		Header:       f.Backend.Header,
		Transactor:   f.Backend,
		Log:          f.Backend.Log,
	}, nil
}

func (f *Factory) CreateMailboxMapper(s *session.Session[int64]) (store.MailboxMapper[int64], error) {
	return &mailboxMapper{b: f.Backend, owner: s.User}, nil
}

func (f *Factory) CreateSubscriptionMapper(s *session.Session[int64]) (session.SubscriptionMapper[int64], error) {
	return &subscriptionMapper{b: f.Backend, owner: s.User}, nil
}

// NewMockMailboxManager builds a fully wired, in-memory
// session.MailboxManager for tests that don't want a real backend. The
// returned Backend is exposed so a test can assert directly against its
// state or share it across multiple sessions.
func NewMockMailboxManager(log *mlog.Log) (*session.MailboxManager[int64], *Backend) {
	b := NewBackend(log)
	mgr := session.NewMailboxManager[int64](&Factory{Backend: b}, b.Dispatcher, nil)
	return mgr, b
}
