package store

// DataStore is the interface translation workers record results through.
// Both Store (direct SQLite) and BatchedStore (in-memory buffering for
// parallel passes) implement it.
type DataStore interface {
	// RecordUnit stores u and its diagnostics, returning the unit's ID.
	RecordUnit(u *Unit, diags []Diagnostic) (int64, error)

	// Lookup reads the cache; writes buffered in a batch are not visible.
	Lookup(key Key) (*Unit, bool, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)

// RecordUnit upserts u and replaces its diagnostics in one transaction.
func (s *Store) RecordUnit(u *Unit, diags []Diagnostic) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := upsertUnitTx(tx, u)
	if err != nil {
		return 0, err
	}
	for i := range diags {
		diags[i].UnitID = id
		if _, err := insertDiagnosticTx(tx, &diags[i]); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}
