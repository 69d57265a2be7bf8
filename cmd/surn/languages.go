package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/surn"
	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List registered target languages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		e, err := newEngine(ctx, nil)
		if err != nil {
			return outputError("languages", err)
		}
		defer e.Close()

		descs := e.Languages()
		out := make([]CLILanguage, len(descs))
		for i, d := range descs {
			out[i] = toCLILanguage(d)
		}
		return outputResult(CLIResult{Command: "languages", Results: out})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <mapping.smtt|extension.risor|dir>...",
	Short: "Parse and compile mapping definitions and extension scripts",
	Long:  "Checks each file in isolation without registering it anywhere. Directories are expanded to the definitions they contain.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	paths, err := expandDefinitions(args)
	if err != nil {
		return outputError("check", err)
	}
	checks := make([]CLICheck, 0, len(paths))
	failed := 0
	for _, p := range paths {
		c := checkDefinition(ctx, p)
		if !c.OK {
			failed++
		}
		checks = append(checks, c)
	}
	if err := outputResult(CLIResult{Command: "check", Results: checks}); err != nil {
		return err
	}
	if failed > 0 {
		errorHandled = flagFormat != "text"
		return fmt.Errorf("%d of %d definition(s) failed", failed, len(checks))
	}
	return nil
}

// checkDefinition loads path into an engine with no bundled languages.
func checkDefinition(ctx context.Context, path string) CLICheck {
	c := CLICheck{Path: path}
	e, err := surn.New(
		surn.WithLogger(logger),
		surn.WithMappingsFS(nil),
		surn.WithExtensionsFS(nil),
		surn.WithExtensionsDir(filepath.Dir(path)),
	)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	defer e.Close()
	if err := e.Load(ctx, path); err != nil {
		c.Error = err.Error()
		return c
	}
	if langs := e.Languages(); len(langs) == 1 {
		c.Language = langs[0].Name
	}
	c.OK = true
	return c
}

// expandDefinitions replaces directories with the definitions under them.
func expandDefinitions(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		for _, pattern := range []string{"*.smtt", "*.risor"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			paths = append(paths, matches...)
		}
	}
	return paths, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
