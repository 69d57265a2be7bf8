package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jward/surn"
	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/textdiff"
	"github.com/spf13/cobra"
)

var (
	flagLang       string
	flagOut        string
	flagExpect     string
	flagPolicy     string
	flagPrecedence string
	flagValidate   bool
	flagTargetAST  bool
	flagSerial     bool
)

// errOutputMismatch is returned when --expect does not match.
var errOutputMismatch = errors.New("output differs from expected")

var translateCmd = &cobra.Command{
	Use:   "translate <ast.json>...",
	Short: "Translate unified-source ASTs into a target language",
	Long:  "Reads unified-source ASTs serialized as JSON (\"-\" for stdin) and renders each in the target language.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTranslate,
}

func init() {
	translateCmd.Flags().StringVarP(&flagLang, "lang", "l", "", "target language (default: config language)")
	translateCmd.Flags().StringVarP(&flagOut, "out", "o", "", "write each output to this directory instead of stdout")
	translateCmd.Flags().StringVar(&flagExpect, "expect", "", "compare the output of a single unit with this file")
	translateCmd.Flags().StringVar(&flagPolicy, "policy", "", "failure policy: abort|skip (overrides config)")
	translateCmd.Flags().StringVar(&flagPrecedence, "precedence", "", "dispatch precedence: label|kind (overrides config)")
	translateCmd.Flags().BoolVar(&flagValidate, "validate", false, "re-parse output with the target grammar")
	translateCmd.Flags().BoolVar(&flagTargetAST, "target-ast", false, "include the rewritten target tree in structured output")
	translateCmd.Flags().BoolVar(&flagSerial, "serial", false, "translate units one at a time")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	lang := flagLang
	if lang == "" {
		lang = cfg.Language
	}
	if lang == "" {
		return outputError("translate", errors.New("no target language: pass --lang or set language in the config"))
	}
	if flagExpect != "" && len(args) != 1 {
		return outputError("translate", errors.New("--expect needs exactly one input"))
	}
	if flagPolicy != "" {
		cfg.Policy = flagPolicy
	}
	if flagPrecedence != "" {
		cfg.Precedence = flagPrecedence
	}
	if cmd.Flags().Changed("validate") {
		cfg.ValidateOutput = flagValidate
	}
	if err := cfg.Validate(); err != nil {
		return outputError("translate", err)
	}

	srcs, err := readSources(args, cmd.InOrStdin())
	if err != nil {
		return outputError("translate", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := newEngine(ctx, nil, surn.WithTargetAST(flagTargetAST), surn.WithParallel(!flagSerial))
	if err != nil {
		return outputError("translate", err)
	}
	defer e.Close()

	desc, err := e.Language(lang)
	if err != nil {
		return outputError("translate", err)
	}

	results, runErr := e.TranslateAll(ctx, lang, srcs)
	out := make([]CLITranslation, len(results))
	for i, r := range results {
		out[i] = toCLITranslation(r)
	}

	if flagOut != "" {
		if err := writeOutputs(flagOut, desc, out); err != nil {
			return outputError("translate", err)
		}
	}

	var diffErr error
	if flagExpect != "" && runErr == nil {
		want, err := os.ReadFile(flagExpect)
		if err != nil {
			return outputError("translate", fmt.Errorf("reading expected output: %w", err))
		}
		if d := textdiff.Lines(string(want), out[0].Output); d != "" {
			out[0].Diff = d
			ins, del := textdiff.Changed(string(want), out[0].Output)
			diffErr = fmt.Errorf("%s: %w (+%d -%d lines)", out[0].Path, errOutputMismatch, ins, del)
		}
	}

	if err := outputResult(CLIResult{Command: "translate", Results: out}); err != nil {
		return err
	}
	if err := errors.Join(runErr, diffErr); err != nil {
		// Results already carry the details.
		errorHandled = flagFormat != "text"
		return err
	}
	return nil
}

// readSources decodes each argument as a serialized AST. The unit path is
// the argument itself, or "stdin".
func readSources(args []string, stdin io.Reader) ([]surn.Source, error) {
	srcs := make([]surn.Source, 0, len(args))
	for _, arg := range args {
		var (
			data []byte
			err  error
			path = arg
		)
		if arg == "-" {
			path = "stdin"
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(arg)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		root, err := ast.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		srcs = append(srcs, surn.Source{Path: path, Root: root})
	}
	return srcs, nil
}

func toCLITranslation(r *surn.Result) CLITranslation {
	t := CLITranslation{
		Path:        r.Path,
		Language:    r.Language,
		PassID:      r.PassID,
		Output:      r.Output,
		Cached:      r.Cached,
		Diagnostics: toCLIDiagnostics(r.Diagnostics),
	}
	if r.Target != nil {
		if data, err := r.Target.MarshalJSON(); err == nil {
			var generic any
			if json.Unmarshal(data, &generic) == nil {
				t.Target = generic
			}
		}
	}
	if r.Err != nil {
		t.Error = r.Err.Error()
	}
	return t
}

// writeOutputs writes each successful unit to dir, naming it after the
// input with the language's primary file type.
func writeOutputs(dir string, desc *surn.Descriptor, ts []CLITranslation) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	ext := desc.Name
	if len(desc.FileTypes) > 0 {
		ext = desc.FileTypes[0]
	}
	for i := range ts {
		if ts[i].Error != "" {
			continue
		}
		path := filepath.Join(dir, outputName(ts[i].Path, ext))
		if err := os.WriteFile(path, []byte(ts[i].Output), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		ts[i].Written = path
	}
	return nil
}

// outputName replaces the input's extensions with ext: "main.sn.json"
// becomes "main.js".
func outputName(input, ext string) string {
	base := filepath.Base(input)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}
