// Package sqlstore is the relational store.Store implementation, running
// unmodified against either PostgreSQL (github.com/lib/pq) or SQLite
// (github.com/mattn/go-sqlite3) behind the single database/sql surface, the
// way the teacher repo picks its storage driver by config at startup.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/store"
)

// Backend owns the *sql.DB and the shared, process-scoped SequenceRegistry
// and ListenerDispatcher every session's mappers use.
type Backend struct {
	DB         *sql.DB
	Driver     string // "postgres" or "sqlite3"
	Log        *mlog.Log
	Registry   *store.Registry[int64]
	Dispatcher *store.ListenerDispatcher
	Header     store.HeaderReader
}

// Open opens driver ("postgres" or "sqlite3") at dsn and ensures the schema
// exists.
func Open(ctx context.Context, driver, dsn string, log *mlog.Log) (*Backend, error) {
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sql store: %w", err)
	}

	schema := schemaSQLite
	if driver == "postgres" {
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sql schema: %w", err)
	}

	b := &Backend{DB: db, Driver: driver, Log: log, Dispatcher: store.NewListenerDispatcher(), Header: store.MIMEHeaderReader{}}
	b.Registry = store.NewRegistry[int64]("sql", b)
	return b, nil
}

func (b *Backend) Close() error {
	return b.DB.Close()
}

// ph returns the driver's positional-placeholder syntax for the nth (1-based)
// bound parameter: "$1" for postgres, "?" for sqlite3.
func (b *Backend) ph(n int) string {
	if b.Driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// tx wraps a *sql.Tx to satisfy store.Tx.
type tx struct{ stx *sql.Tx }

func (t tx) Commit() error   { return t.stx.Commit() }
func (t tx) Rollback() error { return t.stx.Rollback() }

// Begin implements store.Transactor.
func (b *Backend) Begin(ctx context.Context) (store.Tx, error) {
	stx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx{stx}, nil
}

// querier is the subset of *sql.DB and *sql.Tx that reads/writes share.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// q returns the in-flight transaction from ctx if Execute put one there,
// otherwise the bare *sql.DB for a one-off statement.
func (b *Backend) q(ctx context.Context) querier {
	if t, ok := store.TxFromContext(ctx); ok {
		return t.(tx).stx
	}
	return b.DB
}

func (b *Backend) CalculateLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var max sql.NullInt64
	q := fmt.Sprintf("SELECT MAX(uid) FROM messages WHERE mailbox_id = %s", b.ph(1))
	if err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&max); err != nil {
		return 0, err
	}
	return store.UID(max.Int64), nil
}

func (b *Backend) CalculateHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	var max sql.NullInt64
	q := fmt.Sprintf("SELECT MAX(modseq) FROM messages WHERE mailbox_id = %s", b.ph(1))
	if err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&max); err != nil {
		return 0, err
	}
	return store.ModSeq(max.Int64), nil
}

func (b *Backend) PersistedLastUID(ctx context.Context, mailbox int64) (store.UID, error) {
	var v int64
	q := fmt.Sprintf("SELECT last_uid FROM mailboxes WHERE id = %s", b.ph(1))
	err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&v)
	return store.UID(v), err
}

func (b *Backend) PersistedHighestModSeq(ctx context.Context, mailbox int64) (store.ModSeq, error) {
	var v int64
	q := fmt.Sprintf("SELECT highest_modseq FROM mailboxes WHERE id = %s", b.ph(1))
	err := b.q(ctx).QueryRowContext(ctx, q, mailbox).Scan(&v)
	return store.ModSeq(v), err
}
