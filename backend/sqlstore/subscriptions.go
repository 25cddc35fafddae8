package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// subscriptionMapper implements session.SubscriptionMapper, scoped to one
// session's owner.
type subscriptionMapper struct {
	b     *Backend
	owner string
}

func (s *subscriptionMapper) Subscribe(ctx context.Context, path string) error {
	q := fmt.Sprintf("SELECT id FROM subscriptions WHERE owner = %s AND path = %s", s.b.ph(1), s.b.ph(2))
	var id int64
	err := s.b.q(ctx).QueryRowContext(ctx, q, s.owner, path).Scan(&id)
	if err == nil {
		return nil // already subscribed
	}
	if err != sql.ErrNoRows {
		return err
	}
	q = fmt.Sprintf("INSERT INTO subscriptions (owner, path) VALUES (%s, %s)", s.b.ph(1), s.b.ph(2))
	_, err = s.b.q(ctx).ExecContext(ctx, q, s.owner, path)
	return err
}

func (s *subscriptionMapper) Unsubscribe(ctx context.Context, path string) error {
	q := fmt.Sprintf("DELETE FROM subscriptions WHERE owner = %s AND path = %s", s.b.ph(1), s.b.ph(2))
	_, err := s.b.q(ctx).ExecContext(ctx, q, s.owner, path)
	return err
}

func (s *subscriptionMapper) List(ctx context.Context) ([]string, error) {
	q := fmt.Sprintf("SELECT path FROM subscriptions WHERE owner = %s ORDER BY path ASC", s.b.ph(1))
	rows, err := s.b.q(ctx).QueryContext(ctx, q, s.owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
