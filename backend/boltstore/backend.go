package boltstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mjl-/bstore"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/store"
)

// Backend owns the bstore database and the shared, process-scoped
// SequenceRegistry and ListenerDispatcher that every session's mappers use.
type Backend struct {
	DB         *bstore.DB
	Log        *mlog.Log
	Registry   *store.Registry[int64]
	Dispatcher *store.ListenerDispatcher
	Header     store.HeaderReader
}

// Open opens (creating if absent) the bstore database at path.
func Open(ctx context.Context, path string, log *mlog.Log) (*Backend, error) {
	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660},
		mailboxRecord{}, messageRecord{}, subscriptionRecord{})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}
	b := &Backend{DB: db, Log: log, Dispatcher: store.NewListenerDispatcher(), Header: store.MIMEHeaderReader{}}
	b.Registry = store.NewRegistry[int64]("bolt", b)
	return b, nil
}

func (b *Backend) Close() error {
	return b.DB.Close()
}

// tx wraps a *bstore.Tx to satisfy store.Tx.
type tx struct{ btx *bstore.Tx }

func (t tx) Commit() error   { return t.btx.Commit() }
func (t tx) Rollback() error { return t.btx.Rollback() }

// Begin implements store.Transactor.
func (b *Backend) Begin(ctx context.Context) (store.Tx, error) {
	btx, err := b.DB.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	return tx{btx}, nil
}

// btxFrom recovers the concrete *bstore.Tx from ctx, or opens a fresh
// read-only one for callers that ran outside an Execute frame (e.g. a
// standalone read like CalculateLastUID during lazy seeding).
func (b *Backend) btxFrom(ctx context.Context) (*bstore.Tx, bool, error) {
	if t, ok := store.TxFromContext(ctx); ok {
		return t.(tx).btx, false, nil
	}
	btx, err := b.DB.Begin(ctx, false)
	if err != nil {
		return nil, false, err
	}
	return btx, true, nil
}

func (b *Backend) withTx(ctx context.Context, fn func(btx *bstore.Tx) error) error {
	btx, owned, err := b.btxFrom(ctx)
	if err != nil {
		return err
	}
	if !owned {
		return fn(btx)
	}
	defer btx.Rollback() // read-only: discards nothing, just releases the tx
	return fn(btx)
}

// The four CounterSeeder methods below double as part of Backend's
// store.Store implementation (Store embeds CounterSeeder): the Registry
// that owns UID/ModSeq allocation and the mapper that owns message storage
// are seeded from the same underlying data, so one type can serve both.

func (b *Backend) CalculateLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var max store.UID
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		q := bstore.QueryTx[messageRecord](btx)
		q.FilterEqual("MailboxID", mailbox)
		q.SortDesc("UID")
		q.Limit(1)
		m, err := q.Get()
		if err == bstore.ErrAbsent {
			return nil
		}
		if err != nil {
			return err
		}
		max = m.UID
		return nil
	})
	return max, err
}

func (b *Backend) CalculateHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	// Open Question (b): ordering by the ModSeq index directly, not by
	// UID, since an expunge or flag update can raise ModSeq on a message
	// with a lower UID than the mailbox's most recently appended one.
	var max store.ModSeq
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		q := bstore.QueryTx[messageRecord](btx)
		q.FilterEqual("MailboxID", mailbox)
		q.SortDesc("ModSeq")
		q.Limit(1)
		m, err := q.Get()
		if err == bstore.ErrAbsent {
			return nil
		}
		if err != nil {
			return err
		}
		max = m.ModSeq
		return nil
	})
	return max, err
}

func (b *Backend) PersistedLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var v store.UID
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		mb, err := bstore.QueryTx[mailboxRecord](btx).FilterID(mailbox).Get()
		if err != nil {
			return err
		}
		v = mb.LastUID
		return nil
	})
	return v, err
}

func (b *Backend) PersistedHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	var v store.ModSeq
	err := b.withTx(ctx, func(btx *bstore.Tx) error {
		mb, err := bstore.QueryTx[mailboxRecord](btx).FilterID(mailbox).Get()
		if err != nil {
			return err
		}
		v = mb.HighestModSeq
		return nil
	})
	return v, err
}
