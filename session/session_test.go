package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/session"
	"github.com/inkwell/mailstore/store"
	"github.com/inkwell/mailstore/testutil"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func newManager(t *testing.T) (*session.MailboxManager[int64], *testutil.Backend) {
	t.Helper()
	return testutil.NewMockMailboxManager(mlog.New("test"))
}

func openSession(t *testing.T, mgr *session.MailboxManager[int64], user string) *session.Session[int64] {
	t.Helper()
	s := mgr.CreateSystemSession(user, mlog.New("test"))
	tcheck(t, mgr.StartProcessingRequest(s), "start request")
	return s
}

// denyPath refuses both CanRead and CanWrite for one specific path,
// allowing everything else, so tests can exercise the ACL-denied branches
// of MailboxManager/MessageManager without denying the fixture's own INBOX
// setup along the way.
type denyPath struct{ path string }

func (d denyPath) CanRead(ctx context.Context, mailboxPath, user string) (bool, error) {
	return mailboxPath != d.path, nil
}
func (d denyPath) CanWrite(ctx context.Context, mailboxPath, user string) (bool, error) {
	return mailboxPath != d.path, nil
}

// denyWritePath allows CanRead everywhere but refuses CanWrite for one
// specific path, so a mailbox can be resolved and then rejected on write.
type denyWritePath struct{ path string }

func (d denyWritePath) CanRead(ctx context.Context, mailboxPath, user string) (bool, error) {
	return true, nil
}
func (d denyWritePath) CanWrite(ctx context.Context, mailboxPath, user string) (bool, error) {
	return mailboxPath != d.path, nil
}

// managersSharingBackend returns two managers over the same in-memory
// Backend, one with AllowAll (for setting up fixtures) and one wrapping
// acl (for exercising the ACL-denied paths against that same data),
// since applying acl before the fixture exists would deny the setup step
// too.
func managersSharingBackend(t *testing.T, acl store.ACLOracle) (setup, restricted *session.MailboxManager[int64]) {
	t.Helper()
	b := testutil.NewBackend(mlog.New("test"))
	factory := &testutil.Factory{Backend: b}
	setup = session.NewMailboxManager[int64](factory, b.Dispatcher, nil)
	restricted = session.NewMailboxManager[int64](factory, b.Dispatcher, acl)
	return setup, restricted
}

func TestMailboxLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	ok, err := mgr.MailboxExists(ctx, "Archive", s)
	tcheck(t, err, "exists")
	if ok {
		t.Fatalf("Archive should not exist yet")
	}

	tcheck(t, mgr.CreateMailbox(ctx, "Archive", s), "create")

	if err := mgr.CreateMailbox(ctx, "Archive", s); err != store.ErrMailboxExists {
		t.Fatalf("expected ErrMailboxExists on duplicate create, got %v", err)
	}

	ok, err = mgr.MailboxExists(ctx, "Archive", s)
	tcheck(t, err, "exists after create")
	if !ok {
		t.Fatalf("Archive should exist after create")
	}

	paths, err := mgr.List(ctx, s)
	tcheck(t, err, "list")
	if len(paths) != 1 || paths[0] != "Archive" {
		t.Fatalf("unexpected mailbox list: %v", paths)
	}

	tcheck(t, mgr.DeleteMailbox(ctx, "Archive", s), "delete")
	ok, err = mgr.MailboxExists(ctx, "Archive", s)
	tcheck(t, err, "exists after delete")
	if ok {
		t.Fatalf("Archive should not exist after delete")
	}

	if err := mgr.DeleteMailbox(ctx, "Archive", s); err != store.ErrMailboxNotFound {
		t.Fatalf("expected ErrMailboxNotFound deleting a second time, got %v", err)
	}
}

func TestGetMailboxAutoCreatesInbox(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	if _, err := mgr.GetMailbox(ctx, "Nonexistent", s); err != store.ErrMailboxNotFound {
		t.Fatalf("expected ErrMailboxNotFound for a non-INBOX miss, got %v", err)
	}

	mm, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	if mm.Path() != "INBOX" {
		t.Fatalf("expected Path() == INBOX, got %q", mm.Path())
	}

	ok, err := mgr.MailboxExists(ctx, "INBOX", s)
	tcheck(t, err, "exists")
	if !ok {
		t.Fatalf("INBOX should have been persisted by the auto-create")
	}
}

func TestOperationsFailOnClosedSession(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := mgr.CreateSystemSession("mjl", mlog.New("test"))

	if _, err := mgr.MailboxExists(ctx, "INBOX", s); err != store.ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed before StartProcessingRequest, got %v", err)
	}

	tcheck(t, mgr.StartProcessingRequest(s), "start")
	tcheck(t, mgr.Logout(s, false), "logout")

	if _, err := mgr.MailboxExists(ctx, "INBOX", s); err != store.ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed after Logout, got %v", err)
	}
}

func TestAppendMarksRecentOnlyForOwningSession(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	mm, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")

	uid, err := mm.AppendMessage(ctx, []byte("hello"), time.Now(), true, store.Flags{})
	tcheck(t, err, "append")

	recent, err := mm.GetRecentUIDs(ctx)
	tcheck(t, err, "recent")
	if len(recent) != 1 || recent[0] != uid {
		t.Fatalf("expected [%d] recent, got %v", uid, recent)
	}

	uid2, err := mm.AppendMessage(ctx, []byte("world"), time.Now(), false, store.Flags{})
	tcheck(t, err, "append not recent")

	recent, err = mm.GetRecentUIDs(ctx)
	tcheck(t, err, "recent again")
	if len(recent) != 1 {
		t.Fatalf("expected the non-recent append to be excluded, got %v", recent)
	}
	_ = uid2
}

func TestSecondSessionDoesNotSeeFirstSessionsRecent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)

	s1 := openSession(t, mgr, "mjl")
	mm1, err := mgr.GetMailbox(ctx, "INBOX", s1)
	tcheck(t, err, "get inbox s1")
	_, err = mm1.AppendMessage(ctx, []byte("hello"), time.Now(), true, store.Flags{})
	tcheck(t, err, "append s1")
	mgr.EndProcessingRequest(s1)

	s2 := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s2)
	mm2, err := mgr.GetMailbox(ctx, "INBOX", s2)
	tcheck(t, err, "get inbox s2")

	recent, err := mm2.GetRecentUIDs(ctx)
	tcheck(t, err, "recent s2")
	if len(recent) != 0 {
		t.Fatalf("\\Recent is per-session and must not leak across sessions, got %v", recent)
	}
}

func TestCopyToMarksDestinationRecent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	tcheck(t, mgr.CreateMailbox(ctx, "Archive", s), "create archive")

	src, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	uid, err := src.AppendMessage(ctx, []byte("hello"), time.Now(), false, store.Flags{})
	tcheck(t, err, "append")

	destUIDs, err := src.CopyTo(ctx, store.OneUID(uid), "Archive")
	tcheck(t, err, "copy to")
	if len(destUIDs) != 1 {
		t.Fatalf("expected exactly one copied uid, got %v", destUIDs)
	}

	dst, err := mgr.GetMailbox(ctx, "Archive", s)
	tcheck(t, err, "get archive")
	recent, err := dst.GetRecentUIDs(ctx)
	tcheck(t, err, "recent")
	if len(recent) != 1 || recent[0] != destUIDs[0] {
		t.Fatalf("expected the copy destination to be recent, got %v", recent)
	}
}

func TestExpungeClearsRecentForExpungedUIDs(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	mm, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	uid, err := mm.AppendMessage(ctx, []byte("hello"), time.Now(), true, store.Flags{})
	tcheck(t, err, "append")

	_, err = mm.SetFlags(ctx, store.OneUID(uid), store.Flags{Deleted: true}, nil, true, false)
	tcheck(t, err, "mark deleted")

	expunged, err := mm.Expunge(ctx, store.AllUIDs())
	tcheck(t, err, "expunge")
	if len(expunged) != 1 {
		t.Fatalf("expected one expunged message")
	}

	recent, err := mm.GetRecentUIDs(ctx)
	tcheck(t, err, "recent after expunge")
	if len(recent) != 0 {
		t.Fatalf("expunged uid should be dropped from the recent-set, got %v", recent)
	}
}

func TestGetMessagesFetchTypeGovernsHeadersAndBody(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	mm, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	raw := []byte("Subject: hi\r\nFrom: a@b.example\r\n\r\nbody text")
	uid, err := mm.AppendMessage(ctx, raw, time.Now(), true, store.Flags{})
	tcheck(t, err, "append")

	metaIt, err := mm.GetMessages(ctx, store.OneUID(uid), store.FetchMetadata)
	tcheck(t, err, "get messages metadata")
	if !metaIt.Next() {
		t.Fatalf("expected one message for FetchMetadata")
	}
	meta := metaIt.Message()
	if len(meta.Headers) != 0 || len(meta.Body) != 0 {
		t.Fatalf("FetchMetadata must not populate Headers or Body, got %+v", meta)
	}

	headersIt, err := mm.GetMessages(ctx, store.OneUID(uid), store.FetchHeaders)
	tcheck(t, err, "get messages headers")
	if !headersIt.Next() {
		t.Fatalf("expected one message for FetchHeaders")
	}
	withHeaders := headersIt.Message()
	if len(withHeaders.Body) != 0 {
		t.Fatalf("FetchHeaders must not populate Body, got %d bytes", len(withHeaders.Body))
	}
	if len(withHeaders.Headers) == 0 {
		t.Fatalf("FetchHeaders must populate Headers from the stored message")
	}
	var sawSubject bool
	for _, h := range withHeaders.Headers {
		if h.Name == "Subject" && h.Value == "hi" {
			sawSubject = true
		}
	}
	if !sawSubject {
		t.Fatalf("expected a Subject header parsed from the appended body, got %+v", withHeaders.Headers)
	}

	fullIt, err := mm.GetMessages(ctx, store.OneUID(uid), store.FetchFull)
	tcheck(t, err, "get messages full")
	if !fullIt.Next() {
		t.Fatalf("expected one message for FetchFull")
	}
	full := fullIt.Message()
	if len(full.Headers) == 0 {
		t.Fatalf("FetchFull must also populate Headers")
	}
	if string(full.Body) != string(raw) {
		t.Fatalf("FetchFull must return the complete raw body, got %q", full.Body)
	}
}

func TestSearchConsultsOwningSessionsRecentSet(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	mm, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	uid, err := mm.AppendMessage(ctx, []byte("hello"), time.Now(), true, store.Flags{})
	tcheck(t, err, "append")

	q := store.SearchQuery{Root: store.Criterion{Kind: store.CriterionFlag, Flag: store.FlagRecent, FlagSet: true}}
	uids, err := mm.Search(ctx, q)
	tcheck(t, err, "search")
	if len(uids) != 1 || uids[0] != uid {
		t.Fatalf("expected \\Recent search to find the freshly appended message, got %v", uids)
	}
}

func TestMailboxExistsHidesUnreadableMailbox(t *testing.T) {
	ctx := context.Background()
	setupMgr, mgr := managersSharingBackend(t, denyPath{path: "Secret"})
	setupSession := openSession(t, setupMgr, "mjl")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Secret", setupSession), "create secret")
	setupMgr.EndProcessingRequest(setupSession)

	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	ok, err := mgr.MailboxExists(ctx, "Secret", s)
	tcheck(t, err, "exists")
	if ok {
		t.Fatalf("MailboxExists should report false, not leak existence, for an unreadable path")
	}
}

func TestGetMailboxDeniesUnreadableMailbox(t *testing.T) {
	ctx := context.Background()
	setupMgr, mgr := managersSharingBackend(t, denyPath{path: "Secret"})
	setupSession := openSession(t, setupMgr, "mjl")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Secret", setupSession), "create secret")
	setupMgr.EndProcessingRequest(setupSession)

	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	if _, err := mgr.GetMailbox(ctx, "Secret", s); err != store.ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied for an unreadable mailbox, got %v", err)
	}
}

func TestAppendMessageDeniesUnwritableMailbox(t *testing.T) {
	ctx := context.Background()
	_, writeMgr := managersSharingBackend(t, denyWritePath{path: "INBOX"})
	ws := openSession(t, writeMgr, "mjl")
	defer writeMgr.EndProcessingRequest(ws)

	inbox, err := writeMgr.GetMailbox(ctx, "INBOX", ws)
	tcheck(t, err, "get readable inbox")
	if _, err := inbox.AppendMessage(ctx, []byte("hello"), time.Now(), false, store.Flags{}); err != store.ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied appending to an unwritable mailbox, got %v", err)
	}

	_, mgr := managersSharingBackend(t, denyPath{path: "INBOX"})
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	if _, err := mgr.GetMailbox(ctx, "INBOX", s); err != store.ErrPermissionDenied {
		t.Fatalf("expected GetMailbox to also deny a mailbox with no read access, got %v", err)
	}
}

func TestCopyToDeniesUnwritableDestination(t *testing.T) {
	ctx := context.Background()
	setupMgr, mgr := managersSharingBackend(t, denyPath{path: "Locked"})
	setupSession := openSession(t, setupMgr, "mjl")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Locked", setupSession), "create locked")
	setupMgr.EndProcessingRequest(setupSession)

	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	src, err := mgr.GetMailbox(ctx, "INBOX", s)
	tcheck(t, err, "get inbox")
	uid, err := src.AppendMessage(ctx, []byte("hello"), time.Now(), false, store.Flags{})
	tcheck(t, err, "append")

	if _, err := src.CopyTo(ctx, store.OneUID(uid), "Locked"); err != store.ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied copying into an unwritable destination, got %v", err)
	}
}

func TestListFiltersUnreadableMailboxes(t *testing.T) {
	ctx := context.Background()
	setupMgr, mgr := managersSharingBackend(t, denyPath{path: "Secret"})
	setupSession := openSession(t, setupMgr, "mjl")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Secret", setupSession), "create secret")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Visible", setupSession), "create visible")
	setupMgr.EndProcessingRequest(setupSession)

	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	paths, err := mgr.List(ctx, s)
	tcheck(t, err, "list")
	for _, p := range paths {
		if p == "Secret" {
			t.Fatalf("List leaked an unreadable mailbox: %v", paths)
		}
	}
	found := false
	for _, p := range paths {
		if p == "Visible" {
			found = true
		}
	}
	if !found {
		t.Fatalf("List dropped a readable mailbox, got %v", paths)
	}
}

// fakeListener records every Event it is handed, for asserting on
// subscription delivery in rename tests.
type fakeListener struct {
	events []store.Event
	closed bool
}

func (f *fakeListener) Notify(ev store.Event) { f.events = append(f.events, ev) }
func (f *fakeListener) Closed() bool          { return f.closed }

func TestRenameMailboxMovesListenerSubscription(t *testing.T) {
	ctx := context.Background()
	mgr, b := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	tcheck(t, mgr.CreateMailbox(ctx, "Projects", s), "create mailbox")

	l := &fakeListener{}
	b.Dispatcher.Subscribe("mjl\x00personal\x00Projects", l)

	tcheck(t, mgr.RenameMailbox(ctx, "Projects", "Archive.Projects", s), "rename")

	b.Dispatcher.Dispatch(store.Event{Kind: store.EventMessageAdded, Path: "mjl\x00personal\x00Archive.Projects"})
	if len(l.events) != 1 {
		t.Fatalf("listener did not receive event after rename moved its subscription, got %d events", len(l.events))
	}

	b.Dispatcher.Dispatch(store.Event{Kind: store.EventMessageAdded, Path: "mjl\x00personal\x00Projects"})
	if len(l.events) != 1 {
		t.Fatalf("listener still subscribed to the old path after rename, got %d events", len(l.events))
	}
}

func TestRenameMailboxPreservesMessagesAndUIDValidity(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	tcheck(t, mgr.CreateMailbox(ctx, "Projects", s), "create mailbox")
	src, err := mgr.GetMailbox(ctx, "Projects", s)
	tcheck(t, err, "get mailbox")
	uid, err := src.AppendMessage(ctx, []byte("hello"), time.Now(), false, store.Flags{})
	tcheck(t, err, "append")
	srcMeta, err := src.GetMetaData(ctx)
	tcheck(t, err, "metadata before rename")

	tcheck(t, mgr.RenameMailbox(ctx, "Projects", "Archive.Projects", s), "rename")

	if _, err := mgr.GetMailbox(ctx, "Projects", s); err != store.ErrMailboxNotFound {
		t.Fatalf("old path still resolves after rename, err=%v", err)
	}

	dst, err := mgr.GetMailbox(ctx, "Archive.Projects", s)
	tcheck(t, err, "get renamed mailbox")
	dstMeta, err := dst.GetMetaData(ctx)
	tcheck(t, err, "metadata after rename")
	if dstMeta.UIDValidity != srcMeta.UIDValidity {
		t.Fatalf("rename changed UIDVALIDITY: got %d, want %d", dstMeta.UIDValidity, srcMeta.UIDValidity)
	}
	if dstMeta.MessageCount != 1 {
		t.Fatalf("renamed mailbox lost its messages, count=%d", dstMeta.MessageCount)
	}
	found, err := dst.Search(ctx, store.SearchQuery{Root: store.Criterion{Kind: store.CriterionUID, UIDRanges: []store.UIDRange{store.OneUID(uid)}}})
	tcheck(t, err, "search")
	if len(found) != 1 || found[0] != uid {
		t.Fatalf("renamed mailbox missing appended message, search returned %v", found)
	}
}

func TestRenameMailboxRejectsCollision(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	tcheck(t, mgr.CreateMailbox(ctx, "Projects", s), "create first mailbox")
	tcheck(t, mgr.CreateMailbox(ctx, "Archive", s), "create second mailbox")

	if err := mgr.RenameMailbox(ctx, "Projects", "Archive", s); err != store.ErrMailboxExists {
		t.Fatalf("rename onto an existing path should fail with ErrMailboxExists, got %v", err)
	}
}

func TestRenameMailboxDeniedWithoutWriteOnEitherPath(t *testing.T) {
	ctx := context.Background()
	setupMgr, mgr := managersSharingBackend(t, denyPath{path: "Archive.Projects"})
	setupSession := openSession(t, setupMgr, "mjl")
	tcheck(t, setupMgr.CreateMailbox(ctx, "Projects", setupSession), "create mailbox")
	setupMgr.EndProcessingRequest(setupSession)

	s := openSession(t, mgr, "mjl")
	defer mgr.EndProcessingRequest(s)

	if err := mgr.RenameMailbox(ctx, "Projects", "Archive.Projects", s); err != store.ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied renaming onto an unwritable destination, got %v", err)
	}
}
