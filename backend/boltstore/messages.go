package boltstore

import (
	"context"
	"fmt"

	"github.com/mjl-/bstore"

	"github.com/inkwell/mailstore/store"
)

// messageIterator walks a bstore.Query[messageRecord] result set, adapting
// it to store.MessageIterator. The underlying query owns a read transaction
// for its lifetime when opened outside an Execute frame; Close releases it.
type messageIterator struct {
	q      *bstore.Query[messageRecord]
	fetch  store.FetchType
	header store.HeaderReader
	cur    store.Message[int64]
	err    error
	done   bool
	closed bool
	owned  bool
	tx     *bstore.Tx
}

func (it *messageIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	rec, err := it.q.Next()
	if err == bstore.ErrAbsent {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		return false
	}
	it.cur, err = rec.toStore(it.fetch, it.header)
	if err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *messageIterator) Message() store.Message[int64] { return it.cur }
func (it *messageIterator) Err() error                    { return it.err }

func (it *messageIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.q.Close()
	if it.owned {
		if rerr := it.tx.Rollback(); err == nil {
			err = rerr
		}
	}
	return err
}

func applyRange(q *bstore.Query[messageRecord], rng store.UIDRange) {
	switch rng.Kind {
	case store.RangeOne:
		q.FilterEqual("UID", rng.Lo)
	case store.RangeFrom:
		q.FilterGreaterEqual("UID", rng.Lo)
	case store.RangeBetween:
		q.FilterGreaterEqual("UID", rng.Lo)
		q.FilterLessEqual("UID", rng.Hi)
	case store.RangeAll:
		// no filter
	}
}

func (b *Backend) FindRange(ctx context.Context, mailbox int64, rng store.UIDRange, fetch store.FetchType, max int) (store.MessageIterator[int64], error) {
	btx, owned, err := b.btxFrom(ctx)
	if err != nil {
		return nil, err
	}
	q := bstore.QueryTx[messageRecord](btx)
	q.FilterEqual("MailboxID", mailbox)
	applyRange(q, rng)
	q.SortAsc("UID")
	if max > 0 {
		q.Limit(max)
	}
	return &messageIterator{q: q, fetch: fetch, header: b.Header, owned: owned, tx: btx}, nil
}

func (b *Backend) Count(ctx context.Context, mailbox int64) (int, error) {
	var n int
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		var err error
		n, err = bstore.QueryTx[messageRecord](btx).FilterEqual("MailboxID", mailbox).Count()
		return err
	})
	return n, err
}

func (b *Backend) CountUnseen(ctx context.Context, mailbox int64) (int, error) {
	var n int
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		var err error
		n, err = bstore.QueryTx[messageRecord](btx).FilterEqual("MailboxID", mailbox).FilterEqual("Seen", false).Count()
		return err
	})
	return n, err
}

func (b *Backend) FindDeleted(ctx context.Context, mailbox int64, rng store.UIDRange) ([]store.Message[int64], error) {
	var msgs []store.Message[int64]
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		q := bstore.QueryTx[messageRecord](btx)
		q.FilterEqual("MailboxID", mailbox)
		applyRange(q, rng)
		q.FilterEqual("Deleted", true)
		recs, err := q.List()
		if err != nil {
			return err
		}
		for _, r := range recs {
			msg, err := r.toStore(store.FetchFull, b.Header)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

func (b *Backend) FirstUnseenUID(ctx context.Context, mailbox int64) (store.UID, bool, error) {
	var uid store.UID
	var ok bool
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		q := bstore.QueryTx[messageRecord](btx)
		q.FilterEqual("MailboxID", mailbox)
		q.FilterEqual("Seen", false)
		q.SortAsc("UID")
		q.Limit(1)
		rec, err := q.Get()
		if err == bstore.ErrAbsent {
			return nil
		}
		if err != nil {
			return err
		}
		uid, ok = rec.UID, true
		return nil
	})
	return uid, ok, err
}

func (b *Backend) Save(ctx context.Context, msg *store.Message[int64]) error {
	rec := messageRecordFrom(*msg)
	return b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		return btx.Insert(&rec)
	})
}

func (b *Backend) SetFlags(ctx context.Context, mailbox int64, uid store.UID, flags store.Flags, keywords []string, modseq store.ModSeq) error {
	return b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		rec, err := bstore.QueryTx[messageRecord](btx).FilterEqual("MailboxID", mailbox).FilterEqual("UID", uid).Get()
		if err != nil {
			return err
		}
		rec.Seen, rec.Answered, rec.Flagged, rec.Draft, rec.Deleted = flags.Seen, flags.Answered, flags.Flagged, flags.Draft, flags.Deleted
		rec.Keywords = keywords
		rec.ModSeq = modseq
		return btx.Update(&rec)
	})
}

func (b *Backend) Delete(ctx context.Context, mailbox int64, uids []store.UID) error {
	return b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		for _, uid := range uids {
			rec, err := bstore.QueryTx[messageRecord](btx).FilterEqual("MailboxID", mailbox).FilterEqual("UID", uid).Get()
			if err == bstore.ErrAbsent {
				continue
			}
			if err != nil {
				return err
			}
			if err := btx.Delete(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Copy(ctx context.Context, mailbox int64, source, dest store.Message[int64]) error {
	rec := messageRecordFrom(dest)
	return b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		return btx.Insert(&rec)
	})
}

func (b *Backend) SaveSequences(ctx context.Context, mailbox int64, lastUID store.UID, highestModSeq store.ModSeq) error {
	return b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		mb, err := bstore.QueryTx[mailboxRecord](btx).FilterID(mailbox).Get()
		if err != nil {
			return fmt.Errorf("loading mailbox for sequence update: %w", err)
		}
		mb.LastUID, mb.HighestModSeq = lastUID, highestModSeq
		return btx.Update(&mb)
	})
}

// withWriteTx is like withTx but opens a writable transaction when no outer
// transaction is already in context, for calls that must mutate state
// outside an explicit store.Execute frame (e.g. a backend test harness).
func (b *Backend) withWriteTx(ctx context.Context, fn func(btx *bstore.Tx) error) error {
	if t, ok := store.TxFromContext(ctx); ok {
		return fn(t.(tx).btx)
	}
	btx, err := b.DB.Begin(ctx, true)
	if err != nil {
		return err
	}
	if err := fn(btx); err != nil {
		btx.Rollback()
		return err
	}
	return btx.Commit()
}
