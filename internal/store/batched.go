package store

import "sync"

// BatchedStore buffers unit records in memory using fake (negative) IDs.
// It implements DataStore so translation workers can write to it without
// knowing whether they're hitting SQLite or an in-memory buffer.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// Lookup is passed through to the underlying Store, which is safe for
// concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	Units       []Unit
	Diagnostics []Diagnostic

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for reads.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) RecordUnit(u *Unit, diags []Diagnostic) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	u.ID = fakeID
	b.Units = append(b.Units, *u)
	for _, d := range diags {
		d.UnitID = fakeID
		b.Diagnostics = append(b.Diagnostics, d)
	}
	return fakeID, nil
}

// Lookup passes through to the underlying Store.
func (b *BatchedStore) Lookup(key Key) (*Unit, bool, error) {
	return b.store.Lookup(key)
}

// Len returns the number of buffered units.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Units)
}
