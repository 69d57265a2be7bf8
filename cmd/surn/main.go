package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jward/surn"
	"github.com/jward/surn/internal/config"
	"github.com/jward/surn/internal/metrics"
	"github.com/jward/surn/internal/translate"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagFormat   string
	flagLogLevel string
	flagCache    string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// cfg and logger are populated by the root command's PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "surn",
	Short:         "Mapping-driven source-to-source translator",
	Long:          "Surn renders unified-source ASTs in target languages described by SMTT mapping definitions or Risor extension scripts.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return setup()
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: surn.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: text|json|yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagCache, "cache", "", "translation cache path; enables the cache")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(unplugCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheCmd)
}

// setup loads configuration and builds the process logger. Flags override
// the config file.
func setup() error {
	c, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		if _, err := config.ParseLevel(flagLogLevel); err != nil {
			return err
		}
		c.Logging.Level = flagLogLevel
	}
	if flagCache != "" {
		abs, err := filepath.Abs(flagCache)
		if err != nil {
			return fmt.Errorf("resolving cache path %q: %w", flagCache, err)
		}
		c.Cache.Enabled = true
		c.Cache.Path = abs
	}
	cfg = c
	logger = config.NewLogger(c.Logging, os.Stderr)
	return nil
}

// engineOptions translates cfg into engine options.
func engineOptions(c *config.Config, log *slog.Logger, col *metrics.Collector) ([]surn.Option, error) {
	policy, err := translate.ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	precedence, err := translate.ParsePrecedence(c.Precedence)
	if err != nil {
		return nil, err
	}
	opts := []surn.Option{
		surn.WithLogger(log),
		surn.WithPolicy(policy),
		surn.WithPrecedence(precedence),
		surn.WithCustomOptions(c.Custom()),
		surn.WithValidation(c.ValidateOutput),
		surn.WithWorkers(c.Workers),
		surn.WithMetrics(col),
	}
	if c.Cache.Enabled {
		opts = append(opts, surn.WithCache(c.Cache.Path))
	}
	if c.Extensions != "" {
		opts = append(opts, surn.WithExtensionsDir(c.Extensions))
	}
	return opts, nil
}

// newEngine builds an engine from the loaded config and registers the
// bundled languages followed by the project's mappings, extensions and
// polyfill. extra options are applied last.
func newEngine(ctx context.Context, col *metrics.Collector, extra ...surn.Option) (*surn.Engine, error) {
	opts, err := engineOptions(cfg, logger, col)
	if err != nil {
		return nil, err
	}
	e, err := surn.New(append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	if err := loadLanguages(ctx, e, cfg); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// loadLanguages registers languages in increasing priority: bundled, then
// configured mappings, then the extensions directory, then the polyfill.
func loadLanguages(ctx context.Context, e *surn.Engine, c *config.Config) error {
	if err := e.LoadDefaults(ctx); err != nil {
		return fmt.Errorf("loading bundled languages: %w", err)
	}
	var errs []error
	for _, p := range c.Mappings {
		errs = append(errs, e.Load(ctx, p))
	}
	if c.Extensions != "" {
		if _, err := os.Stat(c.Extensions); err == nil {
			errs = append(errs, e.Load(ctx, c.Extensions))
		} else {
			logger.Warn("extensions directory not found", "path", c.Extensions)
		}
	}
	if c.Polyfill != "" {
		errs = append(errs, e.Load(ctx, c.Polyfill))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("loading languages: %w", err)
	}
	return nil
}

// watchPaths returns the configured mapping sources worth watching.
func watchPaths(c *config.Config) []string {
	var paths []string
	paths = append(paths, c.Mappings...)
	if c.Extensions != "" {
		paths = append(paths, c.Extensions)
	}
	if c.Polyfill != "" {
		paths = append(paths, c.Polyfill)
	}
	return paths
}
