package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/inkwell/mailstore/store"
)

func encodeKeywords(kw []string) string {
	b, _ := json.Marshal(kw)
	return string(b)
}

func decodeKeywords(s string) []string {
	var kw []string
	json.Unmarshal([]byte(s), &kw)
	return kw
}

// messageRow is a message as scanned from the messages table. body always
// holds the complete raw message; there is no separate headers column, so
// toStore parses headers from it on demand instead of trusting a copy that
// callers never populate on Save.
type messageRow struct {
	id           int64
	mailboxID    int64
	uid          store.UID
	modseq       store.ModSeq
	internalDate sql.NullTime
	size         int64
	seen, answered, flagged, draft, deleted bool
	keywords     string
	body         []byte
}

func (r messageRow) toStore(fetch store.FetchType, header store.HeaderReader) (store.Message[int64], error) {
	msg := store.Message[int64]{
		MailboxID:    r.mailboxID,
		UID:          r.uid,
		ModSeq:       r.modseq,
		InternalDate: r.internalDate.Time,
		Size:         r.size,
		Flags: store.Flags{
			Seen: r.seen, Answered: r.answered, Flagged: r.flagged, Draft: r.draft, Deleted: r.deleted,
		},
		Keywords: decodeKeywords(r.keywords),
	}
	if (fetch == store.FetchHeaders || fetch == store.FetchFull) && header != nil && len(r.body) > 0 {
		hs, err := header.Headers(r.body)
		if err != nil {
			return store.Message[int64]{}, fmt.Errorf("parsing headers: %w", err)
		}
		msg.Headers = hs
	}
	if fetch == store.FetchFull {
		msg.Body = r.body
	}
	return msg, nil
}

const messageColumns = "id, mailbox_id, uid, modseq, internal_date, size, seen, answered, flagged, draft, deleted, keywords, body"

func scanMessageRow(rows *sql.Rows) (messageRow, error) {
	var r messageRow
	err := rows.Scan(&r.id, &r.mailboxID, &r.uid, &r.modseq, &r.internalDate, &r.size,
		&r.seen, &r.answered, &r.flagged, &r.draft, &r.deleted, &r.keywords, &r.body)
	return r, err
}

// rangeClause appends a UID-range predicate to query and args, using the
// next available placeholder position(s).
func (b *Backend) rangeClause(query string, args []any, rng store.UIDRange) (string, []any) {
	switch rng.Kind {
	case store.RangeOne:
		query += fmt.Sprintf(" AND uid = %s", b.ph(len(args)+1))
		args = append(args, rng.Lo)
	case store.RangeFrom:
		query += fmt.Sprintf(" AND uid >= %s", b.ph(len(args)+1))
		args = append(args, rng.Lo)
	case store.RangeBetween:
		query += fmt.Sprintf(" AND uid >= %s AND uid <= %s", b.ph(len(args)+1), b.ph(len(args)+2))
		args = append(args, rng.Lo, rng.Hi)
	}
	return query, args
}

// rowIterator adapts a *sql.Rows result set to store.MessageIterator.
type rowIterator struct {
	rows   *sql.Rows
	fetch  store.FetchType
	header store.HeaderReader
	cur    store.Message[int64]
	err    error
}

func (it *rowIterator) Next() bool {
	if !it.rows.Next() {
		return false
	}
	r, err := scanMessageRow(it.rows)
	if err != nil {
		it.err = err
		return false
	}
	it.cur, err = r.toStore(it.fetch, it.header)
	if err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *rowIterator) Message() store.Message[int64] { return it.cur }
func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}
func (it *rowIterator) Close() error { return it.rows.Close() }

func (b *Backend) FindRange(ctx context.Context, mailbox int64, rng store.UIDRange, fetch store.FetchType, max int) (store.MessageIterator[int64], error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE mailbox_id = " + b.ph(1)
	args := []any{mailbox}
	query, args = b.rangeClause(query, args, rng)
	query += " ORDER BY uid ASC"
	if max > 0 {
		query += fmt.Sprintf(" LIMIT %d", max)
	}
	rows, err := b.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowIterator{rows: rows, fetch: fetch, header: b.Header}, nil
}

func (b *Backend) Count(ctx context.Context, mailbox int64) (int, error) {
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM messages WHERE mailbox_id = %s", b.ph(1))
	err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&n)
	return n, err
}

func (b *Backend) CountUnseen(ctx context.Context, mailbox int64) (int, error) {
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM messages WHERE mailbox_id = %s AND seen = %s", b.ph(1), boolLiteral(b, false))
	err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&n)
	return n, err
}

// boolLiteral renders a bool the way each driver's dialect accepts it
// inline (both pq and sqlite3 accept 0/1 as a placeholder value instead, but
// inlining the literal avoids one more bound parameter).
func boolLiteral(b *Backend, v bool) string {
	if b.Driver == "postgres" {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}

func (b *Backend) FindDeleted(ctx context.Context, mailbox int64, rng store.UIDRange) ([]store.Message[int64], error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE mailbox_id = " + b.ph(1) + " AND deleted = " + boolLiteral(b, true)
	args := []any{mailbox}
	query, args = b.rangeClause(query, args, rng)
	rows, err := b.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []store.Message[int64]
	for rows.Next() {
		r, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msg, err := r.toStore(store.FetchFull, b.Header)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (b *Backend) FirstUnseenUID(ctx context.Context, mailbox int64) (store.UID, bool, error) {
	var uid sql.NullInt64
	q := fmt.Sprintf("SELECT MIN(uid) FROM messages WHERE mailbox_id = %s AND seen = %s", b.ph(1), boolLiteral(b, false))
	if err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&uid); err != nil {
		return 0, false, err
	}
	return store.UID(uid.Int64), uid.Valid, nil
}

func (b *Backend) insertMessage(ctx context.Context, msg store.Message[int64]) error {
	q := fmt.Sprintf(
		"INSERT INTO messages (mailbox_id, uid, modseq, internal_date, size, seen, answered, flagged, draft, deleted, keywords, body) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
		b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5), b.ph(6), b.ph(7), b.ph(8), b.ph(9), b.ph(10), b.ph(11), b.ph(12),
	)
	_, err := b.q(ctx).ExecContext(ctx, q,
		msg.MailboxID, msg.UID, msg.ModSeq, msg.InternalDate, msg.Size,
		msg.Flags.Seen, msg.Flags.Answered, msg.Flags.Flagged, msg.Flags.Draft, msg.Flags.Deleted,
		encodeKeywords(msg.Keywords), msg.Body,
	)
	return err
}

func (b *Backend) Save(ctx context.Context, msg *store.Message[int64]) error {
	return b.insertMessage(ctx, *msg)
}

func (b *Backend) Copy(ctx context.Context, mailbox int64, source, dest store.Message[int64]) error {
	return b.insertMessage(ctx, dest)
}

func (b *Backend) SetFlags(ctx context.Context, mailbox int64, uid store.UID, flags store.Flags, keywords []string, modseq store.ModSeq) error {
	q := fmt.Sprintf(
		"UPDATE messages SET seen = %s, answered = %s, flagged = %s, draft = %s, deleted = %s, keywords = %s, modseq = %s WHERE mailbox_id = %s AND uid = %s",
		b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5), b.ph(6), b.ph(7), b.ph(8), b.ph(9),
	)
	_, err := b.q(ctx).ExecContext(ctx, q,
		flags.Seen, flags.Answered, flags.Flagged, flags.Draft, flags.Deleted, encodeKeywords(keywords), modseq, mailbox, uid,
	)
	return err
}

func (b *Backend) Delete(ctx context.Context, mailbox int64, uids []store.UID) error {
	for _, uid := range uids {
		q := fmt.Sprintf("DELETE FROM messages WHERE mailbox_id = %s AND uid = %s", b.ph(1), b.ph(2))
		if _, err := b.q(ctx).ExecContext(ctx, q, mailbox, uid); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) SaveSequences(ctx context.Context, mailbox int64, lastUID store.UID, highestModSeq store.ModSeq) error {
	q := fmt.Sprintf("UPDATE mailboxes SET last_uid = %s, highest_modseq = %s WHERE id = %s", b.ph(1), b.ph(2), b.ph(3))
	_, err := b.q(ctx).ExecContext(ctx, q, lastUID, highestModSeq, mailbox)
	return err
}
