package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inkwell/mailstore/metrics"
)

// CounterSeeder supplies the values a Registry uses to seed a mailbox's
// counters the first time they're touched. CalculateLastUID and
// CalculateHighestModSeq ask the backend to derive the true high-water mark
// from its data (e.g. MAX(uid)); when that comes back zero (an empty or
// just-created mailbox), the Registry falls back to the mailbox's own
// persisted last-known value.
type CounterSeeder[ID comparable] interface {
	CalculateLastUID(ctx context.Context, mailbox ID) (UID, error)
	CalculateHighestModSeq(ctx context.Context, mailbox ID) (ModSeq, error)
	PersistedLastUID(ctx context.Context, mailbox ID) (UID, error)
	PersistedHighestModSeq(ctx context.Context, mailbox ID) (ModSeq, error)
}

// entry is one mailbox's counter pair. UID and ModSeq init independently:
// a session that only appends touches the UID counter; a session that only
// flags a message touches the ModSeq counter. Each gets its own
// double-checked lazy init so the other isn't seeded before it's needed.
type entry struct {
	uid     atomic.Uint32
	uidInit atomic.Bool
	uidMu   sync.Mutex

	modseq     atomic.Int64
	modseqInit atomic.Bool
	modseqMu   sync.Mutex
}

// Registry is a process-scoped cache of per-mailbox UID and ModSeq counters.
// It is explicitly constructed and passed to mappers rather than held as
// package-level state, so tests can spin up an isolated registry per case.
//
// A single Registry is meant to be shared by every session operating on one
// backend; mailbox ids from different backends must not be mixed into the
// same Registry, since ID equality is the only thing distinguishing entries.
type Registry[ID comparable] struct {
	backendLabel string
	seeder       CounterSeeder[ID]

	mu      sync.Mutex
	entries map[ID]*entry
}

// NewRegistry constructs a Registry backed by seeder. backendLabel is used
// only as a metrics label ("bolt", "sql", "maildir").
func NewRegistry[ID comparable](backendLabel string, seeder CounterSeeder[ID]) *Registry[ID] {
	return &Registry[ID]{
		backendLabel: backendLabel,
		seeder:       seeder,
		entries:      map[ID]*entry{},
	}
}

func (r *Registry[ID]) getEntry(mailbox ID) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[mailbox]
	if e == nil {
		e = &entry{}
		r.entries[mailbox] = e
	}
	return e
}

// Forget drops the cached counters for a mailbox, e.g. after it's deleted.
// The next touch will reseed from the backend.
func (r *Registry[ID]) Forget(mailbox ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, mailbox)
}

func (r *Registry[ID]) ensureUID(ctx context.Context, mailbox ID, e *entry) error {
	if e.uidInit.Load() {
		return nil
	}
	e.uidMu.Lock()
	defer e.uidMu.Unlock()
	if e.uidInit.Load() {
		return nil
	}
	v, err := r.seeder.CalculateLastUID(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("calculating last uid: %w", err)
	}
	if v == 0 {
		v, err = r.seeder.PersistedLastUID(ctx, mailbox)
		if err != nil {
			return fmt.Errorf("reading persisted last uid: %w", err)
		}
	}
	e.uid.Store(uint32(v))
	e.uidInit.Store(true)
	metrics.SequenceInitTotal.WithLabelValues(r.backendLabel).Inc()
	return nil
}

func (r *Registry[ID]) ensureModSeq(ctx context.Context, mailbox ID, e *entry) error {
	if e.modseqInit.Load() {
		return nil
	}
	e.modseqMu.Lock()
	defer e.modseqMu.Unlock()
	if e.modseqInit.Load() {
		return nil
	}
	v, err := r.seeder.CalculateHighestModSeq(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("calculating highest modseq: %w", err)
	}
	if v == 0 {
		v, err = r.seeder.PersistedHighestModSeq(ctx, mailbox)
		if err != nil {
			return fmt.Errorf("reading persisted highest modseq: %w", err)
		}
	}
	e.modseq.Store(int64(v))
	e.modseqInit.Store(true)
	metrics.SequenceInitTotal.WithLabelValues(r.backendLabel).Inc()
	return nil
}

// NextUID allocates and returns the next UID for mailbox, advancing the
// cached counter. It never returns a value twice for the same mailbox.
func (r *Registry[ID]) NextUID(ctx context.Context, mailbox ID) (UID, error) {
	e := r.getEntry(mailbox)
	if err := r.ensureUID(ctx, mailbox, e); err != nil {
		return 0, err
	}
	for {
		old := e.uid.Load()
		next := old + 1
		if e.uid.CompareAndSwap(old, next) {
			metrics.UIDHighWater.WithLabelValues(r.backendLabel, fmt.Sprint(mailbox)).Set(float64(next))
			return UID(next), nil
		}
	}
}

// CurrentUID returns the last UID handed out for mailbox, without
// advancing it. It still lazily seeds the counter, so a metadata query
// issued before any append reports an accurate value.
func (r *Registry[ID]) CurrentUID(ctx context.Context, mailbox ID) (UID, error) {
	e := r.getEntry(mailbox)
	if err := r.ensureUID(ctx, mailbox, e); err != nil {
		return 0, err
	}
	return UID(e.uid.Load()), nil
}

// NextModSeq allocates and returns the next ModSeq for mailbox.
func (r *Registry[ID]) NextModSeq(ctx context.Context, mailbox ID) (ModSeq, error) {
	e := r.getEntry(mailbox)
	if err := r.ensureModSeq(ctx, mailbox, e); err != nil {
		return 0, err
	}
	for {
		old := e.modseq.Load()
		next := old + 1
		if e.modseq.CompareAndSwap(old, next) {
			metrics.ModSeqHighWater.WithLabelValues(r.backendLabel, fmt.Sprint(mailbox)).Set(float64(next))
			return ModSeq(next), nil
		}
	}
}

// CurrentModSeq returns the last ModSeq handed out for mailbox, without
// advancing it.
func (r *Registry[ID]) CurrentModSeq(ctx context.Context, mailbox ID) (ModSeq, error) {
	e := r.getEntry(mailbox)
	if err := r.ensureModSeq(ctx, mailbox, e); err != nil {
		return 0, err
	}
	return ModSeq(e.modseq.Load()), nil
}
