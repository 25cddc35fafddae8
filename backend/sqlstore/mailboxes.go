package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/inkwell/mailstore/store"
)

// mailboxMapper implements store.MailboxMapper[int64], scoped to one
// session's owner.
type mailboxMapper struct {
	b     *Backend
	owner string
}

const mailboxColumns = "id, owner, namespace, name, delimiter, uid_validity, last_uid, highest_modseq"

func scanMailboxRow(scan func(dest ...any) error) (store.Mailbox[int64], error) {
	var mb store.Mailbox[int64]
	var delim int
	err := scan(&mb.ID, &mb.Owner, &mb.Namespace, &mb.Name, &delim, &mb.UIDValidity, &mb.LastUID, &mb.HighestModSeq)
	mb.Delimiter = byte(delim)
	return mb, err
}

func (m *mailboxMapper) FindByPath(ctx context.Context, path string) (store.Mailbox[int64], bool, error) {
	q := fmt.Sprintf("SELECT %s FROM mailboxes WHERE owner = %s AND name = %s", mailboxColumns, m.b.ph(1), m.b.ph(2))
	row := m.b.q(ctx).QueryRowContext(ctx, q, m.owner, path)
	mb, err := scanMailboxRow(row.Scan)
	if err == sql.ErrNoRows {
		return store.Mailbox[int64]{}, false, nil
	}
	return mb, err == nil, err
}

func (m *mailboxMapper) FindWithPathLike(ctx context.Context, pattern string, delimiter byte) ([]store.Mailbox[int64], error) {
	re, err := store.WildcardToRegexp(pattern, delimiter)
	if err != nil {
		return nil, fmt.Errorf("compiling mailbox pattern: %w", err)
	}
	all, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	var matched []store.Mailbox[int64]
	for _, mb := range all {
		if re.MatchString(mb.Name) {
			matched = append(matched, mb)
		}
	}
	return matched, nil
}

func (m *mailboxMapper) HasChildren(ctx context.Context, mb store.Mailbox[int64], delimiter byte) (bool, error) {
	prefix := mb.Path() + string(delimiter)
	all, err := m.list(ctx)
	if err != nil {
		return false, err
	}
	for _, other := range all {
		if strings.HasPrefix(other.Name, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mailboxMapper) Save(ctx context.Context, mb *store.Mailbox[int64]) error {
	mb.Owner = m.owner
	if mb.ID == 0 {
		return m.insert(ctx, mb)
	}
	q := fmt.Sprintf(
		"UPDATE mailboxes SET namespace = %s, name = %s, delimiter = %s, uid_validity = %s, last_uid = %s, highest_modseq = %s WHERE id = %s",
		m.b.ph(1), m.b.ph(2), m.b.ph(3), m.b.ph(4), m.b.ph(5), m.b.ph(6), m.b.ph(7),
	)
	_, err := m.b.q(ctx).ExecContext(ctx, q, mb.Namespace, mb.Name, int(mb.Delimiter), mb.UIDValidity, mb.LastUID, mb.HighestModSeq, mb.ID)
	return err
}

func (m *mailboxMapper) insert(ctx context.Context, mb *store.Mailbox[int64]) error {
	if m.b.Driver == "postgres" {
		q := fmt.Sprintf(
			"INSERT INTO mailboxes (owner, namespace, name, delimiter, uid_validity, last_uid, highest_modseq) VALUES (%s, %s, %s, %s, %s, %s, %s) RETURNING id",
			m.b.ph(1), m.b.ph(2), m.b.ph(3), m.b.ph(4), m.b.ph(5), m.b.ph(6), m.b.ph(7),
		)
		var id int64
		err := m.b.q(ctx).QueryRowContext(ctx, q, mb.Owner, mb.Namespace, mb.Name, int(mb.Delimiter), mb.UIDValidity, mb.LastUID, mb.HighestModSeq).Scan(&id)
		if err != nil {
			return err
		}
		mb.ID = id
	} else {
		q := fmt.Sprintf(
			"INSERT INTO mailboxes (owner, namespace, name, delimiter, uid_validity, last_uid, highest_modseq) VALUES (%s, %s, %s, %s, %s, %s, %s)",
			m.b.ph(1), m.b.ph(2), m.b.ph(3), m.b.ph(4), m.b.ph(5), m.b.ph(6), m.b.ph(7),
		)
		res, err := m.b.q(ctx).ExecContext(ctx, q, mb.Owner, mb.Namespace, mb.Name, int(mb.Delimiter), mb.UIDValidity, mb.LastUID, mb.HighestModSeq)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		mb.ID = id
	}
	if mb.UIDValidity == 0 {
		q := fmt.Sprintf("UPDATE mailboxes SET uid_validity = %s WHERE id = %s", m.b.ph(1), m.b.ph(2))
		if _, err := m.b.q(ctx).ExecContext(ctx, q, mb.ID, mb.ID); err != nil {
			return err
		}
		mb.UIDValidity = uint32(mb.ID)
	}
	return nil
}

func (m *mailboxMapper) Delete(ctx context.Context, mb store.Mailbox[int64]) error {
	q := fmt.Sprintf("DELETE FROM messages WHERE mailbox_id = %s", m.b.ph(1))
	if _, err := m.b.q(ctx).ExecContext(ctx, q, mb.ID); err != nil {
		return err
	}
	q = fmt.Sprintf("DELETE FROM mailboxes WHERE id = %s", m.b.ph(1))
	_, err := m.b.q(ctx).ExecContext(ctx, q, mb.ID)
	return err
}

func (m *mailboxMapper) list(ctx context.Context) ([]store.Mailbox[int64], error) {
	q := fmt.Sprintf("SELECT %s FROM mailboxes WHERE owner = %s ORDER BY name ASC", mailboxColumns, m.b.ph(1))
	rows, err := m.b.q(ctx).QueryContext(ctx, q, m.owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var mbs []store.Mailbox[int64]
	for rows.Next() {
		mb, err := scanMailboxRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		mbs = append(mbs, mb)
	}
	return mbs, rows.Err()
}

func (m *mailboxMapper) List(ctx context.Context) ([]store.Mailbox[int64], error) {
	return m.list(ctx)
}
