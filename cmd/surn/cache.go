package main

import (
	"errors"

	"github.com/jward/surn"
	"github.com/spf13/cobra"
)

var errNoCache = errors.New("cache disabled: pass --cache or set cache.enabled in the config")

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the translation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize cached units per language",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openCache()
		if err != nil {
			return outputError("cache stats", err)
		}
		defer e.Close()

		stats, err := e.Query().Stats()
		if err != nil {
			return outputError("cache stats", err)
		}
		out := make([]CLICacheStats, len(stats))
		for i, s := range stats {
			out[i] = CLICacheStats{Language: s.Language, OK: s.OK, Failed: s.Failed, Diagnostics: s.Diagnostics}
		}
		return outputResult(CLIResult{Command: "cache stats", Results: out})
	},
}

var cacheFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List units whose last pass failed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openCache()
		if err != nil {
			return outputError("cache failures", err)
		}
		defer e.Close()

		reports, err := e.Query().Failures()
		if err != nil {
			return outputError("cache failures", err)
		}
		out := make([]CLIFailure, len(reports))
		for i, r := range reports {
			out[i] = CLIFailure{
				Path:        r.Unit.Path,
				Language:    r.Unit.Language,
				PassID:      r.Unit.PassID,
				Diagnostics: toCLIDiagnostics(r.Diagnostics),
			}
		}
		return outputResult(CLIResult{Command: "cache failures", Results: out})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <language>",
	Short: "Drop every cached unit of a language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openCache()
		if err != nil {
			return outputError("cache invalidate", err)
		}
		defer e.Close()

		n, err := e.Query().Invalidate(args[0])
		if err != nil {
			return outputError("cache invalidate", err)
		}
		return outputResult(CLIResult{Command: "cache invalidate", Results: CLIInvalidation{Language: args[0], Removed: n}})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheFailuresCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

// openCache opens the configured cache without loading any language.
func openCache() (*surn.Engine, error) {
	if !cfg.Cache.Enabled {
		return nil, errNoCache
	}
	return surn.New(
		surn.WithLogger(logger),
		surn.WithCache(cfg.Cache.Path),
		surn.WithMappingsFS(nil),
		surn.WithExtensionsFS(nil),
	)
}
