// Package config loads project configuration (surn.yaml) from file,
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrUnknownPolicy     = errors.New("unknown failure policy")
	ErrUnknownPrecedence = errors.New("unknown dispatch precedence")
	ErrInvalidWorkers    = errors.New("workers must not be negative")
	ErrUnknownLogLevel   = errors.New("unknown log level")
	ErrUnknownLogFormat  = errors.New("unknown log format")
)

// configName is the config file name without extension.
const configName = "surn"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for surn settings.
const envPrefix = "SURN"

// Default configuration values.
const (
	DefaultPolicy     = "abort"
	DefaultPrecedence = "label"
	DefaultCachePath  = ".surn/cache.db"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Config is a project's translation settings.
type Config struct {
	// Language is the default target language.
	Language string `mapstructure:"language"`
	// Polyfill names an extra mapping definition loaded after the bundled
	// ones; it may replace a bundled language.
	Polyfill       string         `mapstructure:"polyfill"`
	CustomOpts     map[string]any `mapstructure:"custom_opts"`
	Policy         string         `mapstructure:"policy"`
	Precedence     string         `mapstructure:"precedence"`
	Workers        int            `mapstructure:"workers"`
	ValidateOutput bool           `mapstructure:"validate"`
	Mappings       []string       `mapstructure:"mappings"`
	Extensions     string         `mapstructure:"extensions"`
	Cache          CacheConfig    `mapstructure:"cache"`
	Logging        LoggingConfig  `mapstructure:"logging"`

	// Dir is the directory of the config file used, or the working
	// directory when none was found. Relative paths resolve against it.
	Dir string `mapstructure:"-"`
}

// CacheConfig controls the translation cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file, env vars and defaults. If path is
// non-empty it is used as the explicit config file; otherwise surn.yaml is
// searched in the working directory. A missing config file is not an
// error; defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		cfg.Dir = filepath.Dir(used)
	} else if wd, err := os.Getwd(); err == nil {
		cfg.Dir = wd
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("language", "")
	v.SetDefault("polyfill", "")
	v.SetDefault("policy", DefaultPolicy)
	v.SetDefault("precedence", DefaultPrecedence)
	v.SetDefault("workers", 0)
	v.SetDefault("validate", false)
	v.SetDefault("mappings", []string{})
	v.SetDefault("extensions", "")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", DefaultCachePath)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Policy:     DefaultPolicy,
		Precedence: DefaultPrecedence,
		Cache:      CacheConfig{Path: DefaultCachePath},
		Logging:    LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

func (c *Config) resolvePaths() {
	c.Polyfill = c.resolve(c.Polyfill)
	c.Extensions = c.resolve(c.Extensions)
	c.Cache.Path = c.resolve(c.Cache.Path)
	for i, m := range c.Mappings {
		c.Mappings[i] = c.resolve(m)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Policy) {
	case "abort", "skip":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Policy)
	}
	switch strings.ToLower(c.Precedence) {
	case "label", "kind":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPrecedence, c.Precedence)
	}
	if c.Workers < 0 {
		return ErrInvalidWorkers
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, c.Logging.Format)
	}
	return nil
}

// Custom flattens custom_opts into dotted keys: {objects: {base: X}}
// becomes "objects.base" = "X".
func (c *Config) Custom() map[string]string {
	out := make(map[string]string)
	flatten("", c.CustomOpts, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			flatten(name, v, out)
		case nil:
			out[name] = ""
		default:
			out[name] = fmt.Sprint(v)
		}
	}
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
}

// NewLogger builds the process logger described by lc, writing to w.
func NewLogger(lc LoggingConfig, w io.Writer) *slog.Logger {
	level, err := ParseLevel(lc.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
