package store

import (
	"context"
	"sync"
	"testing"
)

// fakeSeeder is a CounterSeeder backed by two maps, for exercising
// Registry's lazy-seed-then-advance contract without a real backend.
type fakeSeeder struct {
	mu        sync.Mutex
	calcUID   map[int64]UID
	calcMS    map[int64]ModSeq
	persistUID map[int64]UID
	persistMS  map[int64]ModSeq
}

func newFakeSeeder() *fakeSeeder {
	return &fakeSeeder{
		calcUID:    map[int64]UID{},
		calcMS:     map[int64]ModSeq{},
		persistUID: map[int64]UID{},
		persistMS:  map[int64]ModSeq{},
	}
}

func (f *fakeSeeder) CalculateLastUID(ctx context.Context, mailbox int64) (UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calcUID[mailbox], nil
}

func (f *fakeSeeder) CalculateHighestModSeq(ctx context.Context, mailbox int64) (ModSeq, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calcMS[mailbox], nil
}

func (f *fakeSeeder) PersistedLastUID(ctx context.Context, mailbox int64) (UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistUID[mailbox], nil
}

func (f *fakeSeeder) PersistedHighestModSeq(ctx context.Context, mailbox int64) (ModSeq, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistMS[mailbox], nil
}

func TestRegistryNextUIDAdvancesAndNeverRepeats(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	r := NewRegistry[int64]("test", seeder)

	seen := map[UID]bool{}
	for i := 0; i < 10; i++ {
		uid, err := r.NextUID(ctx, 1)
		tcheck(t, err, "next uid")
		if seen[uid] {
			t.Fatalf("NextUID returned %d twice", uid)
		}
		seen[uid] = true
	}
	cur, err := r.CurrentUID(ctx, 1)
	tcheck(t, err, "current uid")
	if cur != 10 {
		t.Fatalf("CurrentUID = %d, want 10", cur)
	}
}

func TestRegistrySeedsFromCalculateThenPersisted(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	seeder.calcUID[1] = 5 // backend already has messages up through uid 5
	seeder.persistUID[1] = 2 // stale persisted value, must lose to the calculated one

	r := NewRegistry[int64]("test", seeder)
	uid, err := r.NextUID(ctx, 1)
	tcheck(t, err, "next uid")
	if uid != 6 {
		t.Fatalf("NextUID = %d, want 6 (seeded from CalculateLastUID=5)", uid)
	}
}

func TestRegistryFallsBackToPersistedWhenCalculatedIsZero(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	seeder.persistUID[1] = 41 // empty mailbox, but it remembers its prior high-water mark

	r := NewRegistry[int64]("test", seeder)
	uid, err := r.NextUID(ctx, 1)
	tcheck(t, err, "next uid")
	if uid != 42 {
		t.Fatalf("NextUID = %d, want 42 (seeded from PersistedLastUID=41)", uid)
	}
}

func TestRegistryUIDAndModSeqSeedIndependently(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	r := NewRegistry[int64]("test", seeder)

	// Touching UID must not seed ModSeq, and vice versa: each mailbox
	// operation only cares about the counter it actually advances.
	_, err := r.NextUID(ctx, 1)
	tcheck(t, err, "next uid")

	seeder.calcMS[1] = 9
	ms, err := r.NextModSeq(ctx, 1)
	tcheck(t, err, "next modseq")
	if ms != 10 {
		t.Fatalf("NextModSeq = %d, want 10", ms)
	}
}

func TestRegistryForgetReseeds(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	r := NewRegistry[int64]("test", seeder)

	_, err := r.NextUID(ctx, 1)
	tcheck(t, err, "next uid")

	r.Forget(1)
	seeder.calcUID[1] = 100
	uid, err := r.NextUID(ctx, 1)
	tcheck(t, err, "next uid after forget")
	if uid != 101 {
		t.Fatalf("NextUID after Forget = %d, want 101 (should reseed)", uid)
	}
}

func TestRegistryConcurrentNextUIDIsUnique(t *testing.T) {
	ctx := context.Background()
	seeder := newFakeSeeder()
	r := NewRegistry[int64]("test", seeder)

	const n = 200
	results := make(chan UID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uid, err := r.NextUID(ctx, 1)
			if err != nil {
				t.Error(err)
				return
			}
			results <- uid
		}()
	}
	wg.Wait()
	close(results)

	seen := map[UID]bool{}
	for uid := range results {
		if seen[uid] {
			t.Fatalf("concurrent NextUID calls produced a duplicate: %d", uid)
		}
		seen[uid] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique uids, want %d", len(seen), n)
	}
}
