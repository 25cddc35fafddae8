package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/inkwell/mailstore/mlog"
)

// fakeStore is a minimal, in-memory Store[int64] for exercising
// BaseMessageMapper without any real backend, in the same "fixture
// inserts a fixed population, then assertions run" spirit as the
// teacher's own account_test.go, just scoped to the mapper layer alone.
type fakeStore struct {
	mu       sync.Mutex
	messages map[int64][]*Message[int64]
	lastUID  map[int64]UID
	highest  map[int64]ModSeq

	// failSaveAfter, when > 0, makes the Nth call to Save return an error,
	// to exercise Execute's rollback path.
	failSaveAfter int
	saveCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: map[int64][]*Message[int64]{},
		lastUID:  map[int64]UID{},
		highest:  map[int64]ModSeq{},
	}
}

func (f *fakeStore) CalculateLastUID(ctx context.Context, mailbox int64) (UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max UID
	for _, m := range f.messages[mailbox] {
		if m.UID > max {
			max = m.UID
		}
	}
	return max, nil
}

func (f *fakeStore) CalculateHighestModSeq(ctx context.Context, mailbox int64) (ModSeq, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max ModSeq
	for _, m := range f.messages[mailbox] {
		if m.ModSeq > max {
			max = m.ModSeq
		}
	}
	return max, nil
}

func (f *fakeStore) PersistedLastUID(ctx context.Context, mailbox int64) (UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUID[mailbox], nil
}

func (f *fakeStore) PersistedHighestModSeq(ctx context.Context, mailbox int64) (ModSeq, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highest[mailbox], nil
}

func (f *fakeStore) SaveSequences(ctx context.Context, mailbox int64, lastUID UID, highestModSeq ModSeq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUID[mailbox], f.highest[mailbox] = lastUID, highestModSeq
	return nil
}

func (f *fakeStore) Count(ctx context.Context, mailbox int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[mailbox]), nil
}

func (f *fakeStore) CountUnseen(ctx context.Context, mailbox int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages[mailbox] {
		if !m.Flags.Seen {
			n++
		}
	}
	return n, nil
}

type fakeIterator struct {
	msgs []Message[int64]
	pos  int
}

func (it *fakeIterator) Next() bool {
	if it.pos >= len(it.msgs) {
		return false
	}
	it.pos++
	return true
}
func (it *fakeIterator) Message() Message[int64] { return it.msgs[it.pos-1] }
func (it *fakeIterator) Err() error                { return nil }
func (it *fakeIterator) Close() error              { return nil }

func (f *fakeStore) FindRange(ctx context.Context, mailbox int64, rng UIDRange, fetch FetchType, max int) (MessageIterator[int64], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message[int64]
	for _, m := range f.messages[mailbox] {
		if rng.Contains(m.UID) {
			out = append(out, *m)
			if max > 0 && len(out) >= max {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return &fakeIterator{msgs: out}, nil
}

func (f *fakeStore) FindDeleted(ctx context.Context, mailbox int64, rng UIDRange) ([]Message[int64], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message[int64]
	for _, m := range f.messages[mailbox] {
		if m.Flags.Deleted && rng.Contains(m.UID) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) FirstUnseenUID(ctx context.Context, mailbox int64) (UID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best UID
	var found bool
	for _, m := range f.messages[mailbox] {
		if !m.Flags.Seen && (!found || m.UID < best) {
			best, found = m.UID, true
		}
	}
	return best, found, nil
}

func (f *fakeStore) Save(ctx context.Context, msg *Message[int64]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSaveAfter > 0 && f.saveCalls >= f.failSaveAfter {
		return fmt.Errorf("fakeStore: injected save failure")
	}
	cp := *msg
	f.messages[msg.MailboxID] = append(f.messages[msg.MailboxID], &cp)
	return nil
}

func (f *fakeStore) SetFlags(ctx context.Context, mailbox int64, uid UID, flags Flags, keywords []string, modseq ModSeq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[mailbox] {
		if m.UID == uid {
			m.Flags, m.Keywords, m.ModSeq = flags, keywords, modseq
			return nil
		}
	}
	return ErrMessageNotFound
}

func (f *fakeStore) Delete(ctx context.Context, mailbox int64, uids []UID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[UID]bool{}
	for _, u := range uids {
		want[u] = true
	}
	kept := f.messages[mailbox][:0]
	for _, m := range f.messages[mailbox] {
		if !want[m.UID] {
			kept = append(kept, m)
		}
	}
	f.messages[mailbox] = kept
	return nil
}

func (f *fakeStore) Copy(ctx context.Context, mailbox int64, source, dest Message[int64]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := dest
	f.messages[mailbox] = append(f.messages[mailbox], &cp)
	return nil
}

// fakeTransactor drives Execute with a real (if trivial) commit/rollback
// split, so a test can assert that a failed second step in Add/Copy/etc.
// actually discards the first step's effect.
type fakeTransactor struct {
	store *fakeStore
}

type fakeTx struct {
	snapshot map[int64][]*Message[int64]
	store    *fakeStore
}

func (t *fakeTransactor) Begin(ctx context.Context) (Tx, error) {
	t.store.mu.Lock()
	snap := make(map[int64][]*Message[int64], len(t.store.messages))
	for k, v := range t.store.messages {
		snap[k] = append([]*Message[int64](nil), v...)
	}
	t.store.mu.Unlock()
	return &fakeTx{snapshot: snap, store: t.store}, nil
}

func (tx *fakeTx) Commit() error { return nil }
func (tx *fakeTx) Rollback() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.messages = tx.snapshot
	return nil
}

func newTestMapper(fs *fakeStore, transactional bool) *BaseMessageMapper[int64] {
	m := &BaseMessageMapper[int64]{
		BackendLabel: "test",
		Store:        fs,
		Registry:     NewRegistry[int64]("test", fs),
		Dispatcher:   NewListenerDispatcher(),
	}
	if transactional {
		m.Transactor = &fakeTransactor{store: fs}
		m.Log = mlog.New("test")
	}
	return m
}

func TestBaseMessageMapperAddAssignsUIDAndAdvancesMailbox(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX", Owner: "mjl"}

	saved, newMB, err := m.Add(ctx, mb, Message[int64]{Size: 10})
	tcheck(t, err, "add")
	if saved.UID != 1 {
		t.Fatalf("first Add should assign UID 1, got %d", saved.UID)
	}
	if newMB.LastUID != 1 || newMB.HighestModSeq != 1 {
		t.Fatalf("Add should advance mailbox counters, got %+v", newMB)
	}

	saved2, newMB2, err := m.Add(ctx, newMB, Message[int64]{Size: 20})
	tcheck(t, err, "add second")
	if saved2.UID != 2 {
		t.Fatalf("second Add should assign UID 2, got %d", saved2.UID)
	}
	if newMB2.LastUID != 2 {
		t.Fatalf("mailbox LastUID should track the most recent Add, got %d", newMB2.LastUID)
	}
}

func TestBaseMessageMapperAddRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	fs.failSaveAfter = 1 // fail on the very first Save
	m := newTestMapper(fs, true)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX"}

	_, _, err := m.Add(ctx, mb, Message[int64]{Size: 10})
	if err == nil {
		t.Fatalf("expected Add to fail when Store.Save fails")
	}
	n, _ := fs.Count(ctx, 1)
	if n != 0 {
		t.Fatalf("failed Add should not leave a partially saved message, found %d", n)
	}
}

func TestBaseMessageMapperUpdateFlagsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX"}

	saved, mb, err := m.Add(ctx, mb, Message[int64]{Size: 10})
	tcheck(t, err, "add")

	updates, mb, err := m.UpdateFlags(ctx, mb, Flags{Seen: true}, nil, true, false, OneUID(saved.UID))
	tcheck(t, err, "update flags")
	if len(updates) != 1 {
		t.Fatalf("expected exactly one flag update, got %d", len(updates))
	}
	modseqAfterFirst := mb.HighestModSeq

	// Setting \Seen again on an already-seen message should be a no-op:
	// no update returned, and ModSeq must not advance.
	updates2, mb2, err := m.UpdateFlags(ctx, mb, Flags{Seen: true}, nil, true, false, OneUID(saved.UID))
	tcheck(t, err, "update flags again")
	if len(updates2) != 0 {
		t.Fatalf("expected no-op UpdateFlags to report zero updates, got %d", len(updates2))
	}
	if mb2.HighestModSeq != modseqAfterFirst {
		t.Fatalf("idempotent UpdateFlags must not advance ModSeq: %d != %d", mb2.HighestModSeq, modseqAfterFirst)
	}
}

func TestBaseMessageMapperExpungeOnlyDeletedMessages(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX"}

	keep, mb, err := m.Add(ctx, mb, Message[int64]{Size: 1})
	tcheck(t, err, "add keep")
	gone, mb, err := m.Add(ctx, mb, Message[int64]{Size: 2})
	tcheck(t, err, "add gone")

	_, mb, err = m.UpdateFlags(ctx, mb, Flags{Deleted: true}, nil, true, false, OneUID(gone.UID))
	tcheck(t, err, "mark deleted")

	result, mb, err := m.ExpungeMarkedForDeletion(ctx, mb, AllUIDs())
	tcheck(t, err, "expunge")
	if len(result) != 1 {
		t.Fatalf("expected exactly one expunged message, got %d", len(result))
	}
	if _, ok := result[gone.UID]; !ok {
		t.Fatalf("expected the \\Deleted message to be in the expunge result")
	}
	if _, ok := result[keep.UID]; ok {
		t.Fatalf("did not expect the untouched message in the expunge result")
	}

	n, _ := fs.Count(ctx, mb.ID)
	if n != 1 {
		t.Fatalf("expected one message left after expunge, got %d", n)
	}
}

func TestBaseMessageMapperExpungeEmptyMatchLeavesCountersUntouched(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX"}

	_, mb, err := m.Add(ctx, mb, Message[int64]{Size: 1})
	tcheck(t, err, "add")
	before := mb.HighestModSeq

	result, mb2, err := m.ExpungeMarkedForDeletion(ctx, mb, AllUIDs())
	tcheck(t, err, "expunge nothing")
	if len(result) != 0 {
		t.Fatalf("expected an empty expunge result when nothing is \\Deleted")
	}
	if mb2.HighestModSeq != before {
		t.Fatalf("expunge with no matches must not advance ModSeq: %d != %d", mb2.HighestModSeq, before)
	}
}

func TestBaseMessageMapperSearchPureUIDRangeSkipsEvaluator(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	mb := Mailbox[int64]{ID: 1, Name: "INBOX"}

	var last Message[int64]
	for i := 0; i < 3; i++ {
		var mbNew Mailbox[int64]
		var err error
		last, mbNew, err = m.Add(ctx, mb, Message[int64]{Size: 1})
		tcheck(t, err, "add")
		mb = mbNew
	}
	_ = last

	q := SearchQuery{Root: Criterion{Kind: CriterionUID, UIDRanges: []UIDRange{BetweenUIDs(2, 3)}}}
	uids, err := m.Search(ctx, mb, q, nil)
	tcheck(t, err, "search")
	if len(uids) != 2 || uids[0] != 2 || uids[1] != 3 {
		t.Fatalf("expected uids [2 3], got %v", uids)
	}
}

func TestBaseMessageMapperCopyAssignsFreshUID(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	m := newTestMapper(fs, false)
	src := Mailbox[int64]{ID: 1, Name: "INBOX"}
	dst := Mailbox[int64]{ID: 2, Name: "Archive"}

	saved, _, err := m.Add(ctx, src, Message[int64]{Size: 5})
	tcheck(t, err, "add")

	dest, newDst, err := m.Copy(ctx, dst, saved)
	tcheck(t, err, "copy")
	if dest.UID != 1 {
		t.Fatalf("Copy into a fresh mailbox should assign UID 1, got %d", dest.UID)
	}
	if newDst.LastUID != 1 {
		t.Fatalf("Copy should advance the destination mailbox's LastUID")
	}
}
