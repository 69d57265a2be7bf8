package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite translation cache: one row per translated unit and
// target language, with the diagnostics of its last pass.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS units (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL,
  language        TEXT NOT NULL,
  ast_hash        TEXT NOT NULL,
  rules_hash      TEXT NOT NULL,
  options_hash    TEXT NOT NULL,
  output          TEXT,
  status          TEXT NOT NULL,
  pass_id         TEXT,
  translated_at   TIMESTAMP,
  UNIQUE(path, language)
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL REFERENCES units(id) ON DELETE CASCADE,
  severity        TEXT NOT NULL,
  code            TEXT NOT NULL,
  rule_key        TEXT,
  file            TEXT,
  line            INTEGER,
  col             INTEGER,
  message         TEXT
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

CREATE INDEX IF NOT EXISTS idx_units_language ON units(language);
CREATE INDEX IF NOT EXISTS idx_units_status ON units(status);
CREATE INDEX IF NOT EXISTS idx_diagnostics_unit ON diagnostics(unit_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_code ON diagnostics(code);
`

// --- Unit operations ---

// UpsertUnit records u as the latest pass of (u.Path, u.Language),
// replacing any previous row and its diagnostics.
func (s *Store) UpsertUnit(u *Unit) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("upsert unit: begin: %w", err)
	}
	defer tx.Rollback()

	id, err := upsertUnitTx(tx, u)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert unit: commit: %w", err)
	}
	u.ID = id
	return id, nil
}

func upsertUnitTx(tx *sql.Tx, u *Unit) (int64, error) {
	if u.TranslatedAt.IsZero() {
		u.TranslatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := tx.Exec(
		`INSERT INTO units (path, language, ast_hash, rules_hash, options_hash, output, status, pass_id, translated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path, language) DO UPDATE SET
			ast_hash = excluded.ast_hash,
			rules_hash = excluded.rules_hash,
			options_hash = excluded.options_hash,
			output = excluded.output,
			status = excluded.status,
			pass_id = excluded.pass_id,
			translated_at = excluded.translated_at`,
		u.Path, u.Language, u.ASTHash, u.RulesHash, u.OptionsHash, u.Output, string(u.Status), u.PassID, u.TranslatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert unit %s/%s: %w", u.Path, u.Language, err)
	}
	var id int64
	if err := tx.QueryRow("SELECT id FROM units WHERE path = ? AND language = ?", u.Path, u.Language).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert unit %s/%s: id: %w", u.Path, u.Language, err)
	}
	if _, err := tx.Exec("DELETE FROM diagnostics WHERE unit_id = ?", id); err != nil {
		return 0, fmt.Errorf("upsert unit %s/%s: clear diagnostics: %w", u.Path, u.Language, err)
	}
	return id, nil
}

const unitColumns = "id, path, language, ast_hash, rules_hash, options_hash, output, status, pass_id, translated_at"

func scanUnit(row interface{ Scan(...any) error }) (*Unit, error) {
	u := &Unit{}
	var output, passID sql.NullString
	var status string
	var at sql.NullTime
	if err := row.Scan(&u.ID, &u.Path, &u.Language, &u.ASTHash, &u.RulesHash, &u.OptionsHash, &output, &status, &passID, &at); err != nil {
		return nil, err
	}
	u.Output = output.String
	u.Status = Status(status)
	u.PassID = passID.String
	u.TranslatedAt = at.Time
	return u, nil
}

// UnitByPath returns the cached unit for (path, language), or nil.
func (s *Store) UnitByPath(path, language string) (*Unit, error) {
	u, err := scanUnit(s.db.QueryRow("SELECT "+unitColumns+" FROM units WHERE path = ? AND language = ?", path, language))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unit by path: %w", err)
	}
	return u, nil
}

// Lookup returns the cached output for key when a successful pass with the
// same inputs is recorded.
func (s *Store) Lookup(key Key) (*Unit, bool, error) {
	u, err := s.UnitByPath(key.Path, key.Language)
	if err != nil || u == nil {
		return nil, false, err
	}
	if u.Status != StatusOK || !key.Matches(u) {
		return u, false, nil
	}
	return u, true, nil
}

// UnitsByLanguage returns every cached unit for language ordered by path.
func (s *Store) UnitsByLanguage(language string) ([]*Unit, error) {
	return s.queryUnits("SELECT "+unitColumns+" FROM units WHERE language = ? ORDER BY path", language)
}

// UnitsByStatus returns every unit whose last pass ended with status.
func (s *Store) UnitsByStatus(status Status) ([]*Unit, error) {
	return s.queryUnits("SELECT "+unitColumns+" FROM units WHERE status = ? ORDER BY path, language", string(status))
}

func (s *Store) queryUnits(q string, args ...any) ([]*Unit, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()
	var units []*Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// DeleteUnit removes (path, language) and its diagnostics.
func (s *Store) DeleteUnit(path, language string) error {
	if _, err := s.db.Exec("DELETE FROM units WHERE path = ? AND language = ?", path, language); err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	return nil
}

// DeleteLanguage drops every unit cached for language. Used when a
// language is re-registered and its rules change.
func (s *Store) DeleteLanguage(language string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM units WHERE language = ?", language)
	if err != nil {
		return 0, fmt.Errorf("delete language: %w", err)
	}
	return res.RowsAffected()
}

// --- Diagnostic operations ---

func (s *Store) InsertDiagnostic(d *Diagnostic) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO diagnostics (unit_id, severity, code, rule_key, file, line, col, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UnitID, d.Severity, d.Code, d.Key, d.File, d.Line, d.Col, d.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("insert diagnostic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	return id, nil
}

func insertDiagnosticTx(tx *sql.Tx, d *Diagnostic) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO diagnostics (unit_id, severity, code, rule_key, file, line, col, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UnitID, d.Severity, d.Code, d.Key, d.File, d.Line, d.Col, d.Message,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DiagnosticsByUnits returns the diagnostics of the given units in
// insertion order.
func (s *Store) DiagnosticsByUnits(unitIDs ...int64) ([]*Diagnostic, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, unit_id, severity, code, rule_key, file, line, col, message
		 FROM diagnostics WHERE unit_id IN (`+placeholderList(len(unitIDs))+`) ORDER BY id`,
		int64sToArgs(unitIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics by units: %w", err)
	}
	defer rows.Close()
	var out []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		var key, file, msg sql.NullString
		if err := rows.Scan(&d.ID, &d.UnitID, &d.Severity, &d.Code, &key, &file, &d.Line, &d.Col, &msg); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Key, d.File, d.Message = key.String, file.String, msg.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Metadata ---

func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Metadata returns the value stored under key, or "" and false.
func (s *Store) Metadata(key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("metadata %s: %w", key, err)
	}
	return v.String, true, nil
}

// --- Summary ---

// Stats counts cached units per language and status.
func (s *Store) Stats() ([]LanguageStats, error) {
	rows, err := s.db.Query(
		`SELECT u.language,
			SUM(CASE WHEN u.status = 'ok' THEN 1 ELSE 0 END),
			SUM(CASE WHEN u.status = 'failed' THEN 1 ELSE 0 END),
			(SELECT COUNT(*) FROM diagnostics d JOIN units u2 ON d.unit_id = u2.id WHERE u2.language = u.language)
		 FROM units u GROUP BY u.language ORDER BY u.language`,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	var out []LanguageStats
	for rows.Next() {
		var ls LanguageStats
		if err := rows.Scan(&ls.Language, &ls.OK, &ls.Failed, &ls.Diagnostics); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}
