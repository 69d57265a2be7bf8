package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// stdout is where results are written.
var stdout io.Writer = os.Stdout

// validFormats lists accepted values for --format.
var validFormats = []string{"text", "json", "yaml"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, ", "))
}

// outputResult writes result in the selected format.
func outputResult(result CLIResult) error {
	return encodeResult(stdout, flagFormat, result)
}

func encodeResult(w io.Writer, format string, result CLIResult) error {
	switch format {
	case "text":
		return outputResultText(w, result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. Structured formats get a CLIResult envelope on
// stdout; text mode writes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = encodeResult(stdout, flagFormat, CLIResult{Command: command, Error: err.Error()})
	return err
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLITranslation:
		formatTranslationsText(w, v)
	case []CLILanguage:
		formatLanguagesText(w, v)
	case []CLICheck:
		formatChecksText(w, v)
	case []CLICacheStats:
		formatCacheStatsText(w, v)
	case []CLIFailure:
		formatFailuresText(w, v)
	case CLIInvalidation:
		fmt.Fprintf(w, "Removed %d cached unit(s) for %s\n", v.Removed, v.Language)
	case json.RawMessage:
		w.Write(v)
		fmt.Fprintln(w)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// formatTranslationsText prints each unit's output, preceded by a header
// when there is more than one, followed by its diagnostics.
func formatTranslationsText(w io.Writer, ts []CLITranslation) {
	for i, t := range ts {
		if len(ts) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "==> %s (%s) <==\n", t.Path, t.Language)
		}
		switch {
		case t.Written != "":
			fmt.Fprintf(w, "wrote %s\n", t.Written)
		case t.Output != "":
			fmt.Fprint(w, t.Output)
			if !strings.HasSuffix(t.Output, "\n") {
				fmt.Fprintln(w)
			}
		}
		formatDiagnosticsText(w, t.Diagnostics)
		if t.Diff != "" {
			fmt.Fprintln(w, "--- expected")
			fmt.Fprintln(w, "+++ actual")
			fmt.Fprint(w, t.Diff)
		}
	}
}

func formatDiagnosticsText(w io.Writer, ds []CLIDiagnostic) {
	for _, d := range ds {
		loc := d.File
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Col)
		}
		fmt.Fprintf(w, "%s: %s[%s]: %s\n", loc, d.Severity, d.Code, d.Message)
	}
}

// formatLanguagesText formats CLILanguage results as aligned columns.
func formatLanguagesText(w io.Writer, langs []CLILanguage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tBACKEND\tFILE TYPES\tTHREADING")
	for _, l := range langs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
			l.Name, l.Version, l.Backend, strings.Join(l.FileTypes, ","), l.Threading)
	}
	tw.Flush()
}

// formatChecksText prints one line per checked file.
func formatChecksText(w io.Writer, checks []CLICheck) {
	for _, c := range checks {
		if c.OK {
			fmt.Fprintf(w, "ok    %s (%s)\n", c.Path, c.Language)
			continue
		}
		fmt.Fprintf(w, "FAIL  %s: %s\n", c.Path, c.Error)
	}
}

// formatCacheStatsText formats CLICacheStats results as aligned columns.
func formatCacheStatsText(w io.Writer, stats []CLICacheStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tOK\tFAILED\tDIAGNOSTICS")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Language, s.OK, s.Failed, s.Diagnostics)
	}
	tw.Flush()
}

func formatFailuresText(w io.Writer, failures []CLIFailure) {
	for _, f := range failures {
		fmt.Fprintf(w, "%s (%s) pass %s\n", f.Path, f.Language, f.PassID)
		for _, d := range f.Diagnostics {
			fmt.Fprintf(w, "  %s[%s]: %s\n", d.Severity, d.Code, d.Message)
		}
	}
}
