package boltstore

import (
	"context"

	"github.com/mjl-/bstore"
)

// subscriptionMapper implements session.SubscriptionMapper, scoped to one
// session's owner.
type subscriptionMapper struct {
	b     *Backend
	owner string
}

func (s *subscriptionMapper) Subscribe(ctx context.Context, path string) error {
	return s.b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		_, err := bstore.QueryTx[subscriptionRecord](btx).FilterEqual("Owner", s.owner).FilterEqual("Path", path).Get()
		if err == nil {
			return nil // already subscribed
		}
		if err != bstore.ErrAbsent {
			return err
		}
		rec := subscriptionRecord{Owner: s.owner, Path: path}
		return btx.Insert(&rec)
	})
}

func (s *subscriptionMapper) Unsubscribe(ctx context.Context, path string) error {
	return s.b.withWriteTx(ctx, func(btx *bstore.Tx) error {
		_, err := bstore.QueryTx[subscriptionRecord](btx).FilterEqual("Owner", s.owner).FilterEqual("Path", path).Delete()
		return err
	})
}

func (s *subscriptionMapper) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.b.withTx(ctx, func(btx *bstore.Tx) error {
		recs, err := bstore.QueryTx[subscriptionRecord](btx).FilterEqual("Owner", s.owner).SortAsc("Path").List()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			paths = append(paths, rec.Path)
		}
		return nil
	})
	return paths, err
}
