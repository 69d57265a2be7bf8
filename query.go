package surn

import (
	"fmt"

	"github.com/jward/surn/internal/store"
)

// QueryBuilder reads the translation cache.
type QueryBuilder struct {
	store *store.Store
}

// Query returns a QueryBuilder over the engine's cache. Its methods return
// ErrCacheDisabled when the engine was built without WithCache.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.cache}
}

// UnitReport is a cached unit with the diagnostics of its last pass.
type UnitReport struct {
	Unit        *Unit
	Diagnostics []Diagnostic
}

// Unit returns the cached unit for (path, language), or nil when there is
// none.
func (q *QueryBuilder) Unit(path, language string) (*UnitReport, error) {
	if q.store == nil {
		return nil, ErrCacheDisabled
	}
	u, err := q.store.UnitByPath(path, language)
	if err != nil {
		return nil, fmt.Errorf("unit: %w", err)
	}
	if u == nil {
		return nil, nil
	}
	rows, err := q.store.DiagnosticsByUnits(u.ID)
	if err != nil {
		return nil, fmt.Errorf("unit: diagnostics: %w", err)
	}
	return &UnitReport{Unit: u, Diagnostics: fromStoreDiagnostics(rows)}, nil
}

// Units returns every cached unit of language ordered by path.
func (q *QueryBuilder) Units(language string) ([]*Unit, error) {
	if q.store == nil {
		return nil, ErrCacheDisabled
	}
	return q.store.UnitsByLanguage(language)
}

// Failures returns every unit whose last pass failed, with its
// diagnostics.
func (q *QueryBuilder) Failures() ([]*UnitReport, error) {
	if q.store == nil {
		return nil, ErrCacheDisabled
	}
	units, err := q.store.UnitsByStatus(store.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failures: %w", err)
	}
	if len(units) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	rows, err := q.store.DiagnosticsByUnits(ids...)
	if err != nil {
		return nil, fmt.Errorf("failures: diagnostics: %w", err)
	}
	byUnit := make(map[int64][]*store.Diagnostic, len(units))
	for _, r := range rows {
		byUnit[r.UnitID] = append(byUnit[r.UnitID], r)
	}
	out := make([]*UnitReport, 0, len(units))
	for _, u := range units {
		out = append(out, &UnitReport{Unit: u, Diagnostics: fromStoreDiagnostics(byUnit[u.ID])})
	}
	return out, nil
}

// Stats summarizes the cache per language.
func (q *QueryBuilder) Stats() ([]LanguageStats, error) {
	if q.store == nil {
		return nil, ErrCacheDisabled
	}
	return q.store.Stats()
}

// Invalidate drops the cached units of language, returning how many were
// removed.
func (q *QueryBuilder) Invalidate(language string) (int64, error) {
	if q.store == nil {
		return 0, ErrCacheDisabled
	}
	return q.store.DeleteLanguage(language)
}

// Forget drops one cached unit.
func (q *QueryBuilder) Forget(path, language string) error {
	if q.store == nil {
		return ErrCacheDisabled
	}
	return q.store.DeleteUnit(path, language)
}
