package boltstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mjl-/bstore"

	"github.com/inkwell/mailstore/store"
)

// mailboxMapper implements store.MailboxMapper[int64], scoped to one
// session's owner: every method only ever sees that owner's mailboxes.
type mailboxMapper struct {
	b     *Backend
	owner string
}

func (m *mailboxMapper) FindByPath(ctx context.Context, path string) (store.Mailbox[int64], bool, error) {
	var mb store.Mailbox[int64]
	var ok bool
	err := m.b.withTx(ctx, func(btx *bstore.Tx) error {
		rec, err := bstore.QueryTx[mailboxRecord](btx).FilterEqual("Owner", m.owner).FilterEqual("Name", path).Get()
		if err == bstore.ErrAbsent {
			return nil
		}
		if err != nil {
			return err
		}
		mb, ok = rec.toStore(), true
		return nil
	})
	return mb, ok, err
}

func (m *mailboxMapper) FindWithPathLike(ctx context.Context, pattern string, delimiter byte) ([]store.Mailbox[int64], error) {
	re, err := store.WildcardToRegexp(pattern, delimiter)
	if err != nil {
		return nil, fmt.Errorf("compiling mailbox pattern: %w", err)
	}
	var mbs []store.Mailbox[int64]
	err = m.b.withTx(ctx, func(btx *bstore.Tx) error {
		recs, err := bstore.QueryTx[mailboxRecord](btx).FilterEqual("Owner", m.owner).List()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if re.MatchString(rec.Name) {
				mbs = append(mbs, rec.toStore())
			}
		}
		return nil
	})
	return mbs, err
}

func (m *mailboxMapper) HasChildren(ctx context.Context, mb store.Mailbox[int64], delimiter byte) (bool, error) {
	prefix := mb.Path() + string(delimiter)
	var has bool
	err := m.b.withTx(ctx, func(btx *bstore.Tx) error {
		recs, err := bstore.QueryTx[mailboxRecord](btx).FilterEqual("Owner", m.owner).List()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if strings.HasPrefix(rec.Name, prefix) {
				has = true
				return nil
			}
		}
		return nil
	})
	return has, err
}

func (m *mailboxMapper) Save(ctx context.Context, mb *store.Mailbox[int64]) error {
	mb.Owner = m.owner
	rec := mailboxRecordFrom(*mb)
	err := m.b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		creating := rec.ID == 0
		if creating {
			if err := btx.Insert(&rec); err != nil {
				return err
			}
		}
		if creating && rec.UIDValidity == 0 {
			// UIDVALIDITY must be nonzero and unique per mailbox: the
			// newly assigned id serves fine as one.
			rec.UIDValidity = uint32(rec.ID)
		}
		return btx.Update(&rec)
	})
	if err != nil {
		return err
	}
	*mb = rec.toStore()
	return nil
}

func (m *mailboxMapper) Delete(ctx context.Context, mb store.Mailbox[int64]) error {
	return m.b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		msgs, err := bstore.QueryTx[messageRecord](btx).FilterEqual("MailboxID", mb.ID).List()
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := btx.Delete(&msg); err != nil {
				return err
			}
		}
		rec := mailboxRecordFrom(mb)
		return btx.Delete(&rec)
	})
}

func (m *mailboxMapper) List(ctx context.Context) ([]store.Mailbox[int64], error) {
	var mbs []store.Mailbox[int64]
	err := m.b.withTx(ctx, func(btx *bstore.Tx) error {
		recs, err := bstore.QueryTx[mailboxRecord](btx).FilterEqual("Owner", m.owner).SortAsc("Name").List()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			mbs = append(mbs, rec.toStore())
		}
		return nil
	})
	return mbs, err
}
