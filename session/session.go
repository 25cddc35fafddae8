// Package session implements the external, IMAP-layer-facing interfaces
// described in the spec: MailboxManager and MessageManager wrap the raw
// store.MailboxMapper/store.MessageMapper contracts with session lifecycle,
// per-session \Recent bookkeeping, and mailbox-path resolution.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/store"
)

// Session is one login's worth of state: its owning user, its open/closed
// lifecycle, and the per-mailbox \Recent sets it owns. \Recent is not
// persisted anywhere (see store.Flags); it lives entirely here, and a
// backend never needs to know about it.
type Session[ID comparable] struct {
	User string
	Log  *mlog.Log

	mu     sync.Mutex
	open   bool
	recent map[ID]map[store.UID]bool
}

// NewSession constructs a closed Session. StartProcessingRequest opens it.
func NewSession[ID comparable](user string, log *mlog.Log) *Session[ID] {
	return &Session[ID]{User: user, Log: log, recent: map[ID]map[store.UID]bool{}}
}

func (s *Session[ID]) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return store.ErrSessionClosed
	}
	return nil
}

// MarkRecent records that uid in mailbox is recent to this session.
func (s *Session[ID]) MarkRecent(mailbox ID, uid store.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.recent[mailbox]
	if m == nil {
		m = map[store.UID]bool{}
		s.recent[mailbox] = m
	}
	m[uid] = true
}

// RecentSet returns a snapshot of this session's recent-set for mailbox.
func (s *Session[ID]) RecentSet(mailbox ID) map[store.UID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[store.UID]bool, len(s.recent[mailbox]))
	for uid := range s.recent[mailbox] {
		out[uid] = true
	}
	return out
}

// ClearRecent drops this session's recent-set for mailbox, e.g. on SELECT
// of a different mailbox or on close.
func (s *Session[ID]) ClearRecent(mailbox ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recent, mailbox)
}

// SubscriptionMapper is the per-session, per-backend contract for the
// subscribed-mailbox list an IMAP LSUB/SUBSCRIBE surface needs.
type SubscriptionMapper[ID comparable] interface {
	Subscribe(ctx context.Context, path string) error
	Unsubscribe(ctx context.Context, path string) error
	List(ctx context.Context) ([]string, error)
}

// SessionMapperFactory hands out mappers scoped to one session. A backend
// is expected to bake the session's owner into every mapper it returns,
// so FindByPath/List/Search etc. only ever see that owner's data.
type SessionMapperFactory[ID comparable] interface {
	CreateMessageMapper(s *Session[ID]) (store.MessageMapper[ID], error)
	CreateMailboxMapper(s *Session[ID]) (store.MailboxMapper[ID], error)
	CreateSubscriptionMapper(s *Session[ID]) (SubscriptionMapper[ID], error)
}

// MailboxManager is the top-level, session-facing entry point: it creates
// sessions, and resolves mailbox paths to either existence checks or a
// MessageManager for further operations.
type MailboxManager[ID comparable] struct {
	Factory    SessionMapperFactory[ID]
	Dispatcher *store.ListenerDispatcher
	ACL        store.ACLOracle
}

// NewMailboxManager constructs a MailboxManager. A nil acl defaults to
// store.AllowAll.
func NewMailboxManager[ID comparable](factory SessionMapperFactory[ID], dispatcher *store.ListenerDispatcher, acl store.ACLOracle) *MailboxManager[ID] {
	if acl == nil {
		acl = store.AllowAll{}
	}
	return &MailboxManager[ID]{Factory: factory, Dispatcher: dispatcher, ACL: acl}
}

func (m *MailboxManager[ID]) CreateSystemSession(user string, log *mlog.Log) *Session[ID] {
	return NewSession[ID](user, log)
}

// StartProcessingRequest opens s, making its operations usable. It mirrors
// the per-request handle acquisition a backend with pooled connections
// would do; the base implementation has nothing to acquire, since each
// mapper method opens what it needs.
func (m *MailboxManager[ID]) StartProcessingRequest(s *Session[ID]) error {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

// EndProcessingRequest releases whatever StartProcessingRequest acquired.
// It does not close the session itself; a session spans many requests
// until Logout.
func (m *MailboxManager[ID]) EndProcessingRequest(s *Session[ID]) error {
	return nil
}

// Logout closes s. force is accepted for parity with backends that
// distinguish a graceful LOGOUT from a dropped connection; this
// implementation treats both the same, since there is no per-request
// resource left dangling either way.
func (m *MailboxManager[ID]) Logout(s *Session[ID], force bool) error {
	s.mu.Lock()
	s.open = false
	s.recent = map[ID]map[store.UID]bool{}
	s.mu.Unlock()
	return nil
}

// MailboxExists hides a mailbox the caller cannot read, reporting it as
// absent rather than returning ErrPermissionDenied: CanRead governs
// visibility, and a visibility check that leaks existence through a
// different error defeats its purpose.
func (m *MailboxManager[ID]) MailboxExists(ctx context.Context, path string, s *Session[ID]) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if readable, err := m.ACL.CanRead(ctx, path, s.User); err != nil {
		return false, err
	} else if !readable {
		return false, nil
	}
	mm, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return false, err
	}
	_, ok, err := mm.FindByPath(ctx, path)
	return ok, err
}

func (m *MailboxManager[ID]) CreateMailbox(ctx context.Context, path string, s *Session[ID]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if writable, err := m.ACL.CanWrite(ctx, path, s.User); err != nil {
		return err
	} else if !writable {
		return store.ErrPermissionDenied
	}
	mm, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return err
	}
	if _, ok, err := mm.FindByPath(ctx, path); err != nil {
		return err
	} else if ok {
		return store.ErrMailboxExists
	}

	mb := store.Mailbox[ID]{Owner: s.User, Namespace: "personal", Name: path, Delimiter: '.'}
	if err := mm.Save(ctx, &mb); err != nil {
		return err
	}
	if m.Dispatcher != nil {
		m.Dispatcher.Dispatch(store.Event{Kind: store.EventMailboxAdded, Path: mb.DispatchKey()})
	}
	return nil
}

func (m *MailboxManager[ID]) DeleteMailbox(ctx context.Context, path string, s *Session[ID]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if writable, err := m.ACL.CanWrite(ctx, path, s.User); err != nil {
		return err
	} else if !writable {
		return store.ErrPermissionDenied
	}
	mm, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return err
	}
	mb, ok, err := mm.FindByPath(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrMailboxNotFound
	}
	if err := mm.Delete(ctx, mb); err != nil {
		return err
	}
	if m.Dispatcher != nil {
		m.Dispatcher.Dispatch(store.Event{Kind: store.EventMailboxDeleted, Path: mb.DispatchKey()})
	}
	return nil
}

// RenameMailbox moves a mailbox from oldPath to newPath, preserving its
// UIDVALIDITY, message list, and subscriptions: this is a rename in place,
// not a delete-and-recreate, matching the distinction spec.md draws between
// the two (only delete+recreate regenerates UIDVALIDITY). A name collision
// at newPath is rejected with ErrMailboxExists rather than silently
// overwriting the destination.
func (m *MailboxManager[ID]) RenameMailbox(ctx context.Context, oldPath, newPath string, s *Session[ID]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if writable, err := m.ACL.CanWrite(ctx, oldPath, s.User); err != nil {
		return err
	} else if !writable {
		return store.ErrPermissionDenied
	}
	if writable, err := m.ACL.CanWrite(ctx, newPath, s.User); err != nil {
		return err
	} else if !writable {
		return store.ErrPermissionDenied
	}
	mm, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return err
	}
	mb, ok, err := mm.FindByPath(ctx, oldPath)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrMailboxNotFound
	}
	if _, ok, err := mm.FindByPath(ctx, newPath); err != nil {
		return err
	} else if ok {
		return store.ErrMailboxExists
	}
	oldKey := mb.DispatchKey()
	mb.Name = newPath
	if err := mm.Save(ctx, &mb); err != nil {
		return err
	}
	if m.Dispatcher != nil {
		m.Dispatcher.Dispatch(store.Event{Kind: store.EventMailboxRenamed, OldPath: oldKey, Path: mb.DispatchKey()})
	}
	return nil
}

// GetMailbox resolves path to a MessageManager for further operations.
// INBOX is special-cased: every user implicitly has one, so a lookup miss
// for exactly "INBOX" auto-creates it rather than returning
// ErrMailboxNotFound, matching the convention that a brand-new account can
// append to INBOX without ever calling CreateMailbox first.
func (m *MailboxManager[ID]) GetMailbox(ctx context.Context, path string, s *Session[ID]) (*MessageManager[ID], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if readable, err := m.ACL.CanRead(ctx, path, s.User); err != nil {
		return nil, err
	} else if !readable {
		return nil, store.ErrPermissionDenied
	}
	mailboxMapper, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return nil, err
	}
	mb, ok, err := mailboxMapper.FindByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if path != "INBOX" {
			return nil, store.ErrMailboxNotFound
		}
		mb = store.Mailbox[ID]{Owner: s.User, Namespace: "personal", Name: "INBOX", Delimiter: '.'}
		if err := mailboxMapper.Save(ctx, &mb); err != nil {
			return nil, err
		}
		if m.Dispatcher != nil {
			m.Dispatcher.Dispatch(store.Event{Kind: store.EventMailboxAdded, Path: mb.DispatchKey()})
		}
	}

	msgMapper, err := m.Factory.CreateMessageMapper(s)
	if err != nil {
		return nil, err
	}
	return &MessageManager[ID]{mailbox: mb, mapper: msgMapper, mailboxMapper: mailboxMapper, acl: m.ACL, user: s.User, session: s}, nil
}

// List returns the paths of every mailbox visible to s, silently excluding
// any CanRead denies rather than failing the whole call for one
// inaccessible mailbox.
func (m *MailboxManager[ID]) List(ctx context.Context, s *Session[ID]) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	mm, err := m.Factory.CreateMailboxMapper(s)
	if err != nil {
		return nil, err
	}
	mbs, err := mm.List(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, mb := range mbs {
		path := mb.Path()
		readable, err := m.ACL.CanRead(ctx, path, s.User)
		if err != nil {
			return nil, err
		}
		if readable {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// PermanentSystemFlags is the set of system flags every mailbox in this
// module supports storing permanently, reported in MetaData.
var PermanentSystemFlags = []store.Flag{store.FlagSeen, store.FlagAnswered, store.FlagFlagged, store.FlagDraft, store.FlagDeleted}

// MetaData is the summary IMAP SELECT/EXAMINE and STATUS need.
type MetaData struct {
	UIDValidity    uint32
	NextUID        store.UID
	HighestModSeq  store.ModSeq
	MessageCount   int
	UnseenCount    int
	FirstUnseen    store.UID
	HasUnseen      bool
	PermanentFlags []store.Flag
}

// MessageManager is a MailboxManager.GetMailbox result: every operation on
// it is scoped to the one mailbox it was resolved against.
type MessageManager[ID comparable] struct {
	mailbox       store.Mailbox[ID]
	mapper        store.MessageMapper[ID]
	mailboxMapper store.MailboxMapper[ID]
	acl           store.ACLOracle
	user          string
	session       *Session[ID]
}

// checkWrite consults the ACL for write access to path, returning
// ErrPermissionDenied if it is denied. Read access was already confirmed
// when the MessageManager's mailbox was resolved via GetMailbox.
func (mm *MessageManager[ID]) checkWrite(ctx context.Context, path string) error {
	writable, err := mm.acl.CanWrite(ctx, path, mm.user)
	if err != nil {
		return err
	}
	if !writable {
		return store.ErrPermissionDenied
	}
	return nil
}

func (mm *MessageManager[ID]) GetMetaData(ctx context.Context) (MetaData, error) {
	if err := mm.session.checkOpen(); err != nil {
		return MetaData{}, err
	}
	count, err := mm.mapper.CountMessages(ctx, mm.mailbox)
	if err != nil {
		return MetaData{}, err
	}
	unseen, err := mm.mapper.CountUnseen(ctx, mm.mailbox)
	if err != nil {
		return MetaData{}, err
	}
	firstUnseen, hasUnseen, err := mm.mapper.FindFirstUnseenUID(ctx, mm.mailbox)
	if err != nil {
		return MetaData{}, err
	}
	return MetaData{
		UIDValidity:    mm.mailbox.UIDValidity,
		NextUID:        mm.mailbox.LastUID + 1,
		HighestModSeq:  store.ModSeq(mm.mailbox.HighestModSeq.Client()),
		MessageCount:   count,
		UnseenCount:    unseen,
		FirstUnseen:    firstUnseen,
		HasUnseen:      hasUnseen,
		PermanentFlags: PermanentSystemFlags,
	}, nil
}

// AppendMessage stores body as a new message and returns its assigned UID.
// If isRecent, the new message is added to the calling session's own
// recent-set; every other session watching this mailbox learns of it
// through the resulting MessageAdded event instead.
func (mm *MessageManager[ID]) AppendMessage(ctx context.Context, body []byte, internalDate time.Time, isRecent bool, initialFlags store.Flags) (store.UID, error) {
	if err := mm.session.checkOpen(); err != nil {
		return 0, err
	}
	if err := mm.checkWrite(ctx, mm.mailbox.Path()); err != nil {
		return 0, err
	}
	msg := store.Message[ID]{
		InternalDate: internalDate,
		Size:         int64(len(body)),
		Flags:        initialFlags,
		Body:         body,
	}
	saved, mb, err := mm.mapper.Add(ctx, mm.mailbox, msg)
	if err != nil {
		return 0, err
	}
	mm.mailbox = mb
	if isRecent {
		mm.session.MarkRecent(mb.ID, saved.UID)
	}
	return saved.UID, nil
}

func (mm *MessageManager[ID]) GetMessages(ctx context.Context, rng store.UIDRange, fetch store.FetchType) (store.MessageIterator[ID], error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	return mm.mapper.FindInMailbox(ctx, mm.mailbox, rng, fetch, 0)
}

// GetRecentUIDs returns the ascending UIDs this session considers \Recent
// in the mailbox, for an untagged EXISTS/RECENT response on SELECT.
func (mm *MessageManager[ID]) GetRecentUIDs(ctx context.Context) ([]store.UID, error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	recent := mm.session.RecentSet(mm.mailbox.ID)
	return mm.mapper.FindRecentUIDs(ctx, mm.mailbox, recent)
}

func (mm *MessageManager[ID]) SetFlags(ctx context.Context, rng store.UIDRange, flags store.Flags, keywords []string, value, replace bool) ([]store.FlagUpdate[ID], error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	if err := mm.checkWrite(ctx, mm.mailbox.Path()); err != nil {
		return nil, err
	}
	updates, mb, err := mm.mapper.UpdateFlags(ctx, mm.mailbox, flags, keywords, value, replace, rng)
	if err != nil {
		return nil, err
	}
	mm.mailbox = mb
	return updates, nil
}

func (mm *MessageManager[ID]) Expunge(ctx context.Context, rng store.UIDRange) (map[store.UID]store.Message[ID], error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	if err := mm.checkWrite(ctx, mm.mailbox.Path()); err != nil {
		return nil, err
	}
	result, mb, err := mm.mapper.ExpungeMarkedForDeletion(ctx, mm.mailbox, rng)
	if err != nil {
		return nil, err
	}
	mm.mailbox = mb
	// Takes s.mu like MarkRecent/RecentSet/ClearRecent, which guard the
	// same map against a concurrent IDLE notifier goroutine.
	mm.session.mu.Lock()
	for uid := range result {
		mm.session.recent[mb.ID] = removeUID(mm.session.recent[mb.ID], uid)
	}
	mm.session.mu.Unlock()
	return result, nil
}

func removeUID(set map[store.UID]bool, uid store.UID) map[store.UID]bool {
	if set != nil {
		delete(set, uid)
	}
	return set
}

// CopyTo copies every message in rng into the mailbox at destPath,
// returning the destination UIDs in the same order as the source range was
// iterated. Each copy is recent to the copying session, matching the
// treatment of a fresh append.
func (mm *MessageManager[ID]) CopyTo(ctx context.Context, rng store.UIDRange, destPath string) ([]store.UID, error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	if err := mm.checkWrite(ctx, destPath); err != nil {
		return nil, err
	}
	destMB, ok, err := mm.mailboxMapper.FindByPath(ctx, destPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrMailboxNotFound
	}

	it, err := mm.mapper.FindInMailbox(ctx, mm.mailbox, rng, store.FetchFull, 0)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var uids []store.UID
	for it.Next() {
		dest, newMB, err := mm.mapper.Copy(ctx, destMB, it.Message())
		if err != nil {
			return uids, err
		}
		destMB = newMB
		uids = append(uids, dest.UID)
		mm.session.MarkRecent(destMB.ID, dest.UID)
	}
	if err := it.Err(); err != nil {
		return uids, err
	}
	return uids, nil
}

// Search evaluates query against this mailbox, consulting the calling
// session's own recent-set for any \Recent criterion.
func (mm *MessageManager[ID]) Search(ctx context.Context, query store.SearchQuery) ([]store.UID, error) {
	if err := mm.session.checkOpen(); err != nil {
		return nil, err
	}
	recent := mm.session.RecentSet(mm.mailbox.ID)
	return mm.mapper.Search(ctx, mm.mailbox, query, recent)
}

// Path returns the mailbox path this MessageManager was resolved against.
func (mm *MessageManager[ID]) Path() string {
	return mm.mailbox.Path()
}
