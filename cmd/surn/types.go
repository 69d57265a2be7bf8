package main

import (
	"github.com/jward/surn"
)

// CLIResult is the top-level envelope for every command's structured
// output.
type CLIResult struct {
	Command string `json:"command" yaml:"command"`
	Results any    `json:"results" yaml:"results"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIDiagnostic is a serialization-friendly diagnostic.
type CLIDiagnostic struct {
	Severity string `json:"severity" yaml:"severity"`
	Code     string `json:"code" yaml:"code"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Col      int    `json:"col,omitempty" yaml:"col,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

// CLITranslation is the outcome of translating one unit.
type CLITranslation struct {
	Path        string          `json:"path" yaml:"path"`
	Language    string          `json:"language" yaml:"language"`
	PassID      string          `json:"pass_id,omitempty" yaml:"pass_id,omitempty"`
	Output      string          `json:"output" yaml:"output"`
	Written     string          `json:"written,omitempty" yaml:"written,omitempty"`
	Target      any             `json:"target,omitempty" yaml:"target,omitempty"`
	Cached      bool            `json:"cached" yaml:"cached"`
	Diagnostics []CLIDiagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Diff        string          `json:"diff,omitempty" yaml:"diff,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLILanguage describes a registered language.
type CLILanguage struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Version     string   `json:"version" yaml:"version"`
	FileTypes   []string `json:"file_types,omitempty" yaml:"file_types,omitempty"`
	Threading   bool     `json:"threading" yaml:"threading"`
	Backend     string   `json:"backend" yaml:"backend"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
}

// CLICheck is the outcome of checking one mapping definition or script.
type CLICheck struct {
	Path     string `json:"path" yaml:"path"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	OK       bool   `json:"ok" yaml:"ok"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLICacheStats summarizes the cache for one language.
type CLICacheStats struct {
	Language    string `json:"language" yaml:"language"`
	OK          int    `json:"ok" yaml:"ok"`
	Failed      int    `json:"failed" yaml:"failed"`
	Diagnostics int    `json:"diagnostics" yaml:"diagnostics"`
}

// CLIFailure is a cached unit whose last pass failed.
type CLIFailure struct {
	Path        string          `json:"path" yaml:"path"`
	Language    string          `json:"language" yaml:"language"`
	PassID      string          `json:"pass_id" yaml:"pass_id"`
	Diagnostics []CLIDiagnostic `json:"diagnostics" yaml:"diagnostics"`
}

// CLIInvalidation reports how many cached units were dropped.
type CLIInvalidation struct {
	Language string `json:"language" yaml:"language"`
	Removed  int64  `json:"removed" yaml:"removed"`
}

func toCLIDiagnostics(ds []surn.Diagnostic) []CLIDiagnostic {
	if len(ds) == 0 {
		return nil
	}
	out := make([]CLIDiagnostic, len(ds))
	for i, d := range ds {
		out[i] = CLIDiagnostic{
			Severity: d.Severity.String(),
			Code:     d.Code,
			Key:      d.Key,
			File:     d.Pos.File,
			Line:     d.Pos.Line,
			Col:      d.Pos.Col,
			Message:  d.Message,
		}
	}
	return out
}

func toCLILanguage(d *surn.Descriptor) CLILanguage {
	backend := "mapping"
	if d.IsExtension() {
		backend = "extension"
	}
	return CLILanguage{
		Name:        d.Name,
		Description: d.Description,
		Author:      d.Author,
		Version:     d.Version.String(),
		FileTypes:   d.FileTypes,
		Threading:   d.ThreadingAllowed,
		Backend:     backend,
		Source:      d.Source,
	}
}
