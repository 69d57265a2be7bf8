package store

import "time"

// Status is the outcome of a unit's last pass.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Unit is one translated compilation unit for one target language.
type Unit struct {
	ID           int64
	Path         string
	Language     string
	ASTHash      string
	RulesHash    string
	OptionsHash  string
	Output       string
	Status       Status
	PassID       string
	TranslatedAt time.Time
}

// Diagnostic is a stored report entry of a unit's last pass.
type Diagnostic struct {
	ID       int64
	UnitID   int64
	Severity string
	Code     string
	Key      string
	File     string
	Line     int
	Col      int
	Message  string
}

// Key identifies the inputs of a pass. A cached unit is reusable only when
// every hash matches.
type Key struct {
	Path        string
	Language    string
	ASTHash     string
	RulesHash   string
	OptionsHash string
}

// Matches reports whether u was produced from the inputs k describes.
func (k Key) Matches(u *Unit) bool {
	return u.Path == k.Path &&
		u.Language == k.Language &&
		u.ASTHash == k.ASTHash &&
		u.RulesHash == k.RulesHash &&
		u.OptionsHash == k.OptionsHash
}

// LanguageStats summarizes the cache for one language.
type LanguageStats struct {
	Language    string
	OK          int
	Failed      int
	Diagnostics int
}
