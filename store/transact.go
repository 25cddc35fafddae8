package store

import (
	"context"
	"fmt"

	"github.com/inkwell/mailstore/mlog"
)

// Tx is the minimal handle a backend's transaction must offer the
// TransactionalMapper frame. Backends wrap their native transaction (a
// *sql.Tx, a *bstore.Tx, or a degenerate no-op for the maildir backend) in a
// type that satisfies this.
type Tx interface {
	Commit() error
	Rollback() error
}

// Transactor begins a backend transaction. Mapper implementations embed one
// to drive Execute.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

type txKey struct{}

// TxFromContext retrieves the Tx Execute stashed in ctx, for a backend's own
// methods to recover their concrete transaction type from.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok
}

// Execute runs work inside a transaction obtained from t, committing on a
// nil return and rolling back otherwise. A panic inside work is recovered,
// converted to a rollback, and re-raised as an error if it was one,
// otherwise re-panicked.
//
// Execute is safely nestable: if ctx already carries a transaction (because
// an outer Execute call is in progress), work runs directly against that
// transaction and this call becomes a no-op wrapper, not a second
// begin/commit. Committing or rolling back is always the outermost call's
// job.
func Execute(ctx context.Context, t Transactor, log *mlog.Log, work func(ctx context.Context) error) (rerr error) {
	if _, ok := TxFromContext(ctx); ok {
		return work(ctx)
	}

	tx, err := t.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	nctx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Errorx("rollback after panic", rbErr)
			}
			if err, ok := p.(error); ok {
				rerr = err
				return
			}
			panic(p)
		}
	}()

	if err := work(nctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorx("rollback after error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrStorage, err)
	}
	return nil
}

// NopTx is a Tx that does nothing, for backends without real transactions
// (the maildir backend: each operation is already a single filesystem
// step or a best-effort sequence of them).
type NopTx struct{}

func (NopTx) Commit() error   { return nil }
func (NopTx) Rollback() error { return nil }

// NopTransactor always returns a NopTx.
type NopTransactor struct{}

func (NopTransactor) Begin(ctx context.Context) (Tx, error) { return NopTx{}, nil }
