package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/inkwell/mailstore/metrics"
	"github.com/inkwell/mailstore/mlog"
)

// MessageIterator walks a set of messages a backend query produced. Callers
// must call Close when done, even after an error from Next.
type MessageIterator[ID comparable] interface {
	Next() bool
	Message() Message[ID]
	Err() error
	Close() error
}

// FlagUpdate describes one message's flag change, returned from
// MessageMapper.UpdateFlags so a caller can build untagged FETCH responses
// without re-reading each message.
type FlagUpdate[ID comparable] struct {
	UID    UID
	Prior  Flags
	New    Flags
	ModSeq ModSeq
}

// ExternalIndex lets a backend delegate Search to a purpose-built index
// (e.g. a full-text index) instead of the SearchEvaluator fallback scan.
// BaseMessageMapper consults it first when set.
type ExternalIndex[ID comparable] interface {
	Search(ctx context.Context, mailbox ID, query SearchQuery) ([]UID, error)
}

// MessageMapper is the per-session, per-backend contract for everything
// that touches messages within one mailbox. ACL enforcement, if any, is
// the caller's responsibility (see ACLOracle); MessageMapper assumes the
// caller is already authorized for mb.
type MessageMapper[ID comparable] interface {
	CountMessages(ctx context.Context, mb Mailbox[ID]) (int, error)
	CountUnseen(ctx context.Context, mb Mailbox[ID]) (int, error)

	FindInMailbox(ctx context.Context, mb Mailbox[ID], rng UIDRange, fetch FetchType, max int) (MessageIterator[ID], error)

	// FindRecentUIDs returns the ascending UIDs of mb's messages carrying
	// \Recent, as seen by the calling session: \Recent is session-scoped
	// state (see Session.MarkRecent), never a persisted bit, so recent is
	// supplied by the caller rather than read from the backend.
	FindRecentUIDs(ctx context.Context, mb Mailbox[ID], recent map[UID]bool) ([]UID, error)
	FindFirstUnseenUID(ctx context.Context, mb Mailbox[ID]) (UID, bool, error)

	// Add persists msg as a new message in mb, assigning it a fresh UID and
	// ModSeq. It returns the persisted message and mb with LastUID and
	// HighestModSeq advanced to match.
	Add(ctx context.Context, mb Mailbox[ID], msg Message[ID]) (Message[ID], Mailbox[ID], error)

	// Copy duplicates source into mb under a fresh UID and ModSeq.
	Copy(ctx context.Context, mb Mailbox[ID], source Message[ID]) (Message[ID], Mailbox[ID], error)

	// Move relocates source into mb, preserving neither its old UID nor its
	// old mailbox's membership. Backends that cannot do this atomically may
	// return ErrNotSupported; the default BaseMessageMapper implementation
	// always does, leaving it to a caller to fall back to Copy-then-expunge.
	Move(ctx context.Context, mb Mailbox[ID], source Message[ID]) (Message[ID], Mailbox[ID], error)

	// UpdateFlags applies flags/keywords to every message in rng: if replace
	// is true each matched message's flags become exactly flags (and its
	// keywords exactly keywords); otherwise flags/keywords are added
	// (value=true) or removed (value=false). Messages already in the
	// target state are left untouched and excluded from the result, and if
	// no message actually changed, ModSeq is not advanced at all.
	UpdateFlags(ctx context.Context, mb Mailbox[ID], flags Flags, keywords []string, value, replace bool, rng UIDRange) ([]FlagUpdate[ID], Mailbox[ID], error)

	// ExpungeMarkedForDeletion permanently removes every message in rng
	// that carries \Deleted, returning them keyed by their former UID. If
	// none qualify, it returns an empty map and leaves mb's counters
	// untouched.
	ExpungeMarkedForDeletion(ctx context.Context, mb Mailbox[ID], rng UIDRange) (map[UID]Message[ID], Mailbox[ID], error)

	// Search evaluates query against every message in mb, returning
	// matching UIDs in ascending order. recent is the calling session's
	// recent-set, consulted only for \Recent criteria.
	Search(ctx context.Context, mb Mailbox[ID], query SearchQuery, recent map[UID]bool) ([]UID, error)
}

// Store is the set of query and persistence primitives a backend must
// implement; BaseMessageMapper folds them into the full MessageMapper
// contract, including UID/ModSeq allocation, idempotent flag-update
// detection, and event dispatch, so a backend only has to get storage
// right.
type Store[ID comparable] interface {
	CounterSeeder[ID]

	SaveSequences(ctx context.Context, mailbox ID, lastUID UID, highestModSeq ModSeq) error

	Count(ctx context.Context, mailbox ID) (int, error)
	CountUnseen(ctx context.Context, mailbox ID) (int, error)
	FindRange(ctx context.Context, mailbox ID, rng UIDRange, fetch FetchType, max int) (MessageIterator[ID], error)
	FindDeleted(ctx context.Context, mailbox ID, rng UIDRange) ([]Message[ID], error)
	FirstUnseenUID(ctx context.Context, mailbox ID) (UID, bool, error)

	// Save persists msg, which already has MailboxID, UID and ModSeq set.
	Save(ctx context.Context, msg *Message[ID]) error
	// SetFlags persists the new flags/keywords/modseq of one message.
	SetFlags(ctx context.Context, mailbox ID, uid UID, flags Flags, keywords []string, modseq ModSeq) error
	// Delete physically removes the given UIDs from mailbox.
	Delete(ctx context.Context, mailbox ID, uids []UID) error
	// Copy materializes dest (already carrying its new UID/ModSeq) as a
	// duplicate of source's content within mailbox.
	Copy(ctx context.Context, mailbox ID, source, dest Message[ID]) error
}

// BaseMessageMapper implements MessageMapper atop a Store, a shared
// Registry, and an optional Dispatcher/Index/HeaderReader. Each backend's
// factory constructs one directly around its own Store implementation.
// No backend here overrides Move; a type embedding BaseMessageMapper can
// shadow it with an atomic cross-mailbox move.
type BaseMessageMapper[ID comparable] struct {
	BackendLabel string
	Store        Store[ID]
	Registry     *Registry[ID]
	Dispatcher   *ListenerDispatcher
	Header       HeaderReader
	Index        ExternalIndex[ID]

	// Transactor drives Execute for every method below that performs more
	// than one Store call: Add, Copy, UpdateFlags and
	// ExpungeMarkedForDeletion each allocate a counter and then persist,
	// and must not leave the two out of sync if the second step fails. A
	// backend without real transactions (maildirstore) supplies
	// NopTransactor; Log is required whenever Transactor is non-nil, since
	// Execute logs rollback failures.
	Transactor Transactor
	Log        *mlog.Log
}

// execute runs work directly if no Transactor is configured (a backend
// still under construction, or a test harness exercising Store calls in
// isolation), otherwise through Execute so a failed second step rolls back
// the first.
func (b *BaseMessageMapper[ID]) execute(ctx context.Context, work func(ctx context.Context) error) error {
	if b.Transactor == nil {
		return work(ctx)
	}
	return Execute(ctx, b.Transactor, b.Log, work)
}

func (b *BaseMessageMapper[ID]) CountMessages(ctx context.Context, mb Mailbox[ID]) (int, error) {
	n, err := b.Store.Count(ctx, mb.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: count messages: %v", ErrStorage, err)
	}
	return n, nil
}

func (b *BaseMessageMapper[ID]) CountUnseen(ctx context.Context, mb Mailbox[ID]) (int, error) {
	n, err := b.Store.CountUnseen(ctx, mb.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: count unseen: %v", ErrStorage, err)
	}
	return n, nil
}

func (b *BaseMessageMapper[ID]) FindInMailbox(ctx context.Context, mb Mailbox[ID], rng UIDRange, fetch FetchType, max int) (MessageIterator[ID], error) {
	it, err := b.Store.FindRange(ctx, mb.ID, rng, fetch, max)
	if err != nil {
		return nil, fmt.Errorf("%w: find in mailbox: %v", ErrStorage, err)
	}
	return it, nil
}

func (b *BaseMessageMapper[ID]) FindRecentUIDs(ctx context.Context, mb Mailbox[ID], recent map[UID]bool) ([]UID, error) {
	uids := make([]UID, 0, len(recent))
	for u := range recent {
		uids = append(uids, u)
	}
	return sortDedupUIDs(uids), nil
}

func (b *BaseMessageMapper[ID]) FindFirstUnseenUID(ctx context.Context, mb Mailbox[ID]) (UID, bool, error) {
	uid, ok, err := b.Store.FirstUnseenUID(ctx, mb.ID)
	if err != nil {
		return 0, false, fmt.Errorf("%w: find first unseen uid: %v", ErrStorage, err)
	}
	return uid, ok, nil
}

func (b *BaseMessageMapper[ID]) Add(ctx context.Context, mb Mailbox[ID], msg Message[ID]) (Message[ID], Mailbox[ID], error) {
	err := b.execute(ctx, func(ctx context.Context) error {
		uid, err := b.Registry.NextUID(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next uid: %v", ErrStorage, err)
		}
		modseq, err := b.Registry.NextModSeq(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next modseq: %v", ErrStorage, err)
		}

		msg.MailboxID = mb.ID
		msg.UID = uid
		msg.ModSeq = modseq

		if err := b.Store.Save(ctx, &msg); err != nil {
			return fmt.Errorf("%w: save message: %v", ErrStorage, err)
		}
		if err := b.Store.SaveSequences(ctx, mb.ID, uid, modseq); err != nil {
			return fmt.Errorf("%w: save sequences: %v", ErrStorage, err)
		}
		mb.LastUID, mb.HighestModSeq = uid, modseq
		return nil
	})
	if err != nil {
		return Message[ID]{}, mb, err
	}

	b.dispatch(Event{
		Kind:         EventMessageAdded,
		Path:         mb.DispatchKey(),
		UID:          msg.UID,
		ModSeq:       msg.ModSeq,
		Size:         msg.Size,
		InternalDate: msg.InternalDate,
	})
	return msg, mb, nil
}

func (b *BaseMessageMapper[ID]) Copy(ctx context.Context, mb Mailbox[ID], source Message[ID]) (Message[ID], Mailbox[ID], error) {
	var dest Message[ID]
	err := b.execute(ctx, func(ctx context.Context) error {
		uid, err := b.Registry.NextUID(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next uid: %v", ErrStorage, err)
		}
		modseq, err := b.Registry.NextModSeq(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next modseq: %v", ErrStorage, err)
		}

		dest = source
		dest.MailboxID = mb.ID
		dest.UID = uid
		dest.ModSeq = modseq

		if err := b.Store.Copy(ctx, mb.ID, source, dest); err != nil {
			return fmt.Errorf("%w: copy message: %v", ErrStorage, err)
		}
		if err := b.Store.SaveSequences(ctx, mb.ID, uid, modseq); err != nil {
			return fmt.Errorf("%w: save sequences: %v", ErrStorage, err)
		}
		mb.LastUID, mb.HighestModSeq = uid, modseq
		return nil
	})
	if err != nil {
		return Message[ID]{}, mb, err
	}

	b.dispatch(Event{
		Kind:         EventMessageAdded,
		Path:         mb.DispatchKey(),
		UID:          dest.UID,
		ModSeq:       dest.ModSeq,
		Size:         dest.Size,
		InternalDate: dest.InternalDate,
	})
	return dest, mb, nil
}

// Move has no backend-independent implementation: relocating a message
// across mailboxes while preserving it as a single atomic step requires
// backend-specific support (a single SQL UPDATE, a bstore transaction
// touching both mailbox's message sets, an os.Rename between maildirs). A
// backend that can do this overrides Move; this default tells callers to
// fall back to Copy followed by marking source \Deleted and expunging it.
func (b *BaseMessageMapper[ID]) Move(ctx context.Context, mb Mailbox[ID], source Message[ID]) (Message[ID], Mailbox[ID], error) {
	return Message[ID]{}, mb, ErrNotSupported
}

func (b *BaseMessageMapper[ID]) UpdateFlags(ctx context.Context, mb Mailbox[ID], flags Flags, keywords []string, value, replace bool, rng UIDRange) ([]FlagUpdate[ID], Mailbox[ID], error) {
	type change struct {
		msg Message[ID]
		nf  Flags
		nkw []string
	}

	var updates []FlagUpdate[ID]
	err := b.execute(ctx, func(ctx context.Context) error {
		it, err := b.Store.FindRange(ctx, mb.ID, rng, FetchMetadata, 0)
		if err != nil {
			return fmt.Errorf("%w: find range: %v", ErrStorage, err)
		}
		var matched []Message[ID]
		for it.Next() {
			matched = append(matched, it.Message())
		}
		iterErr := it.Err()
		closeErr := it.Close()
		if iterErr != nil {
			return fmt.Errorf("%w: iterate: %v", ErrStorage, iterErr)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: close iterator: %v", ErrStorage, closeErr)
		}

		var changed []change
		for _, msg := range matched {
			var nf Flags
			var nkw []string
			switch {
			case replace:
				nf = flags
				nkw = append([]string(nil), keywords...)
			case value:
				nf = msg.Flags.Set(flags, true)
				nkw, _ = MergeKeywords(append([]string(nil), msg.Keywords...), keywords)
			default:
				nf = msg.Flags.Set(flags, false)
				nkw = RemoveKeywords(append([]string(nil), msg.Keywords...), keywords)
			}
			if nf != msg.Flags || !sameKeywords(nkw, msg.Keywords) {
				changed = append(changed, change{msg, nf, nkw})
			}
		}

		if len(changed) == 0 {
			return nil
		}

		modseq, err := b.Registry.NextModSeq(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next modseq: %v", ErrStorage, err)
		}

		updates = make([]FlagUpdate[ID], 0, len(changed))
		for _, c := range changed {
			if err := b.Store.SetFlags(ctx, mb.ID, c.msg.UID, c.nf, c.nkw, modseq); err != nil {
				return fmt.Errorf("%w: set flags: %v", ErrStorage, err)
			}
			updates = append(updates, FlagUpdate[ID]{UID: c.msg.UID, Prior: c.msg.Flags, New: c.nf, ModSeq: modseq})
		}
		if err := b.Store.SaveSequences(ctx, mb.ID, mb.LastUID, modseq); err != nil {
			return fmt.Errorf("%w: save sequences: %v", ErrStorage, err)
		}
		mb.HighestModSeq = modseq
		return nil
	})
	if err != nil {
		return nil, mb, err
	}

	for _, u := range updates {
		b.dispatch(Event{Kind: EventFlagsUpdated, Path: mb.DispatchKey(), UID: u.UID, ModSeq: u.ModSeq, OldFlags: u.Prior, NewFlags: u.New})
	}
	return updates, mb, nil
}

func (b *BaseMessageMapper[ID]) ExpungeMarkedForDeletion(ctx context.Context, mb Mailbox[ID], rng UIDRange) (map[UID]Message[ID], Mailbox[ID], error) {
	var uids []UID
	result := map[UID]Message[ID]{}
	var modseq ModSeq

	err := b.execute(ctx, func(ctx context.Context) error {
		deleted, err := b.Store.FindDeleted(ctx, mb.ID, rng)
		if err != nil {
			return fmt.Errorf("%w: find deleted: %v", ErrStorage, err)
		}
		if len(deleted) == 0 {
			return nil
		}

		uids = make([]UID, len(deleted))
		for i, msg := range deleted {
			uids[i] = msg.UID
			msg.PrepareExpunge()
			result[msg.UID] = msg
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

		if err := b.Store.Delete(ctx, mb.ID, uids); err != nil {
			return fmt.Errorf("%w: delete: %v", ErrStorage, err)
		}

		uid, err := b.Registry.NextUID(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next uid: %v", ErrStorage, err)
		}
		modseq, err = b.Registry.NextModSeq(ctx, mb.ID)
		if err != nil {
			return fmt.Errorf("%w: next modseq: %v", ErrStorage, err)
		}
		if err := b.Store.SaveSequences(ctx, mb.ID, uid, modseq); err != nil {
			return fmt.Errorf("%w: save sequences: %v", ErrStorage, err)
		}
		mb.LastUID, mb.HighestModSeq = uid, modseq
		return nil
	})
	if err != nil {
		return nil, mb, err
	}
	if len(uids) == 0 {
		return result, mb, nil
	}

	b.dispatch(Event{Kind: EventMessageExpunged, Path: mb.DispatchKey(), UIDRanges: coalesceUIDs(uids), ModSeq: modseq})
	return result, mb, nil
}

func (b *BaseMessageMapper[ID]) Search(ctx context.Context, mb Mailbox[ID], query SearchQuery, recent map[UID]bool) ([]UID, error) {
	start := time.Now()

	if b.Index != nil {
		uids, err := b.Index.Search(ctx, mb.ID, query)
		metrics.SearchDuration.WithLabelValues("index").Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("%w: index search: %v", ErrStorage, err)
		}
		return uids, nil
	}

	if ranges, ok := pureUIDQuery(query); ok {
		var all []UID
		for _, r := range ranges {
			if err := b.collectRangeUIDs(ctx, mb.ID, r, &all); err != nil {
				return nil, err
			}
		}
		metrics.SearchDuration.WithLabelValues("uidrange").Observe(time.Since(start).Seconds())
		return sortDedupUIDs(all), nil
	}

	it, err := b.Store.FindRange(ctx, mb.ID, AllUIDs(), FetchFull, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: find range: %v", ErrStorage, err)
	}
	var hits []UID
	var scanned int
	for it.Next() {
		scanned++
		msg := it.Message()
		ok, err := Evaluate(query, messageView[ID]{msg: msg, header: b.Header}, recent)
		if err != nil {
			it.Close()
			return nil, err
		}
		if ok {
			hits = append(hits, msg.UID)
		}
	}
	iterErr := it.Err()
	closeErr := it.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("%w: iterate: %v", ErrStorage, iterErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: close iterator: %v", ErrStorage, closeErr)
	}

	metrics.SearchCandidates.Observe(float64(scanned))
	metrics.SearchDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())
	return sortDedupUIDs(hits), nil
}

func (b *BaseMessageMapper[ID]) collectRangeUIDs(ctx context.Context, mailbox ID, r UIDRange, out *[]UID) error {
	it, err := b.Store.FindRange(ctx, mailbox, r, FetchMetadata, 0)
	if err != nil {
		return fmt.Errorf("%w: find range: %v", ErrStorage, err)
	}
	for it.Next() {
		*out = append(*out, it.Message().UID)
	}
	iterErr := it.Err()
	closeErr := it.Close()
	if iterErr != nil {
		return fmt.Errorf("%w: iterate: %v", ErrStorage, iterErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close iterator: %v", ErrStorage, closeErr)
	}
	return nil
}

func (b *BaseMessageMapper[ID]) dispatch(ev Event) {
	if b.Dispatcher != nil {
		b.Dispatcher.Dispatch(ev)
	}
}

// pureUIDQuery recognizes the common "FETCH 1:* ..." / "UID SEARCH
// UID n:m" shape: a query that is nothing but a UID criterion can be
// answered directly from the backend's UID index, without scanning message
// content through the evaluator at all.
func pureUIDQuery(q SearchQuery) ([]UIDRange, bool) {
	if q.Root.Kind != CriterionUID {
		return nil, false
	}
	return q.Root.UIDRanges, true
}

func sortDedupUIDs(uids []UID) []UID {
	if len(uids) == 0 {
		return uids
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	out := uids[:1]
	for _, u := range uids[1:] {
		if u != out[len(out)-1] {
			out = append(out, u)
		}
	}
	return out
}

// messageView adapts a fully-loaded Message[ID] to MessageView, for the
// evaluator fallback path in Search.
type messageView[ID comparable] struct {
	msg    Message[ID]
	header HeaderReader
}

func (v messageView[ID]) UID() UID                  { return v.msg.UID }
func (v messageView[ID]) Flags() Flags               { return v.msg.Flags }
func (v messageView[ID]) Size() int64                { return v.msg.Size }
func (v messageView[ID]) InternalDate() time.Time    { return v.msg.InternalDate }

func (v messageView[ID]) Headers() ([]Header, error) {
	if len(v.msg.Headers) > 0 {
		return v.msg.Headers, nil
	}
	if v.header == nil || len(v.msg.Body) == 0 {
		return nil, nil
	}
	return v.header.Headers(v.msg.Body)
}

func (v messageView[ID]) BodyReader() (io.Reader, error) {
	return bytes.NewReader(v.msg.Body), nil
}
