package store

import "fmt"

// CommitBatch writes all buffered units and diagnostics from a BatchedStore
// within a single transaction. Fake (negative) unit IDs are remapped to the
// real row IDs and diagnostics are rewritten to point at them. A unit
// recorded twice in one batch keeps its last record.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64, len(batch.Units))

	// 1. Units (replacing earlier rows and their diagnostics)
	for i := range batch.Units {
		u := batch.Units[i]
		realID, err := upsertUnitTx(tx, &u)
		if err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		fakeToReal[u.ID] = realID
	}

	// 2. Diagnostics
	for _, d := range batch.Diagnostics {
		if d.UnitID < 0 {
			realID, ok := fakeToReal[d.UnitID]
			if !ok {
				return fmt.Errorf("commit batch: diagnostic has unit_id=%d not in fakeToReal map (have %d units)", d.UnitID, len(batch.Units))
			}
			d.UnitID = realID
		}
		if _, err := insertDiagnosticTx(tx, &d); err != nil {
			return fmt.Errorf("commit batch: diagnostic %s: %w", d.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: commit: %w", err)
	}

	// Buffered units now carry their real IDs.
	for i := range batch.Units {
		batch.Units[i].ID = fakeToReal[batch.Units[i].ID]
	}
	batch.Diagnostics = batch.Diagnostics[:0]
	return nil
}
