// Package boltstore is the tree/document store.Store implementation,
// backed by github.com/mjl-/bstore (itself a layer over go.etcd.io/bbolt).
// It is the backend of choice for a single-node deployment that wants
// transactional semantics without running a separate database server.
package boltstore

import (
	"fmt"
	"time"

	"github.com/inkwell/mailstore/store"
)

// mailboxRecord is the bstore-persisted form of store.Mailbox[int64].
type mailboxRecord struct {
	ID          int64
	Namespace   string `bstore:"nonzero"`
	Owner       string `bstore:"nonzero,unique Owner+Namespace+Name"`
	Name        string `bstore:"nonzero"`
	Delimiter   byte
	UIDValidity uint32

	LastUID       store.UID
	HighestModSeq store.ModSeq
}

func (mb mailboxRecord) toStore() store.Mailbox[int64] {
	return store.Mailbox[int64]{
		ID:            mb.ID,
		Namespace:     mb.Namespace,
		Owner:         mb.Owner,
		Name:          mb.Name,
		Delimiter:     mb.Delimiter,
		UIDValidity:   mb.UIDValidity,
		LastUID:       mb.LastUID,
		HighestModSeq: mb.HighestModSeq,
	}
}

func mailboxRecordFrom(mb store.Mailbox[int64]) mailboxRecord {
	return mailboxRecord{
		ID:            mb.ID,
		Namespace:     mb.Namespace,
		Owner:         mb.Owner,
		Name:          mb.Name,
		Delimiter:     mb.Delimiter,
		UIDValidity:   mb.UIDValidity,
		LastUID:       mb.LastUID,
		HighestModSeq: mb.HighestModSeq,
	}
}

// messageRecord is the bstore-persisted form of store.Message[int64]. Body
// is always the full raw message, regardless of the FetchType a caller
// eventually asks for; there is no separate Headers column, since
// toStore derives headers from Body on demand instead of trusting a copy
// that callers never populate on Save (see toStore).
type messageRecord struct {
	ID        int64
	MailboxID int64        `bstore:"nonzero,unique MailboxID+UID,index MailboxID+ModSeq,ref mailboxRecord"`
	UID       store.UID    `bstore:"nonzero"`
	ModSeq    store.ModSeq `bstore:"index"`

	InternalDate time.Time
	Size         int64

	Seen, Answered, Flagged, Draft, Deleted bool
	Keywords                                []string

	Body []byte
}

func (m messageRecord) flags() store.Flags {
	return store.Flags{Seen: m.Seen, Answered: m.Answered, Flagged: m.Flagged, Draft: m.Draft, Deleted: m.Deleted}
}

// toStore adapts m to a store.Message for the given fetch type, parsing
// Headers from the stored Body with header rather than persisting a
// separate headers column, the same pattern maildirstore's loadMessage
// uses: Body only ever holds the complete raw message, so headers are
// always derivable from it, and deriving them at read time means a
// header field added to messages already on disk is still returned
// correctly.
func (m messageRecord) toStore(fetch store.FetchType, header store.HeaderReader) (store.Message[int64], error) {
	msg := store.Message[int64]{
		MailboxID:    m.MailboxID,
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		InternalDate: m.InternalDate,
		Size:         m.Size,
		Flags:        m.flags(),
		Keywords:     m.Keywords,
	}
	if (fetch == store.FetchHeaders || fetch == store.FetchFull) && header != nil && len(m.Body) > 0 {
		hs, err := header.Headers(m.Body)
		if err != nil {
			return store.Message[int64]{}, fmt.Errorf("parsing headers: %w", err)
		}
		msg.Headers = hs
	}
	if fetch == store.FetchFull {
		msg.Body = m.Body
	}
	return msg, nil
}

func messageRecordFrom(msg store.Message[int64]) messageRecord {
	r := messageRecord{
		MailboxID:    msg.MailboxID,
		UID:          msg.UID,
		ModSeq:       msg.ModSeq,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Seen:         msg.Flags.Seen,
		Answered:     msg.Flags.Answered,
		Flagged:      msg.Flags.Flagged,
		Draft:        msg.Flags.Draft,
		Deleted:      msg.Flags.Deleted,
		Keywords:     msg.Keywords,
		Body:         msg.Body,
	}
	return r
}

// subscriptionRecord tracks which mailbox paths an owner has subscribed to,
// independent of whether the mailbox currently exists.
type subscriptionRecord struct {
	ID    int64
	Owner string `bstore:"nonzero,unique Owner+Path"`
	Path  string `bstore:"nonzero"`
}
