// Package config loads merge settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/davidvella/kmerge/merge"
	"github.com/davidvella/kmerge/monitoring"
)

// Environment overrides, applied after the config file.
const (
	EnvSourceDir   = "KMERGE_SOURCE_DIR"
	EnvOutput      = "KMERGE_OUTPUT"
	EnvTruncate    = "KMERGE_TRUNCATE"
	EnvCheckOrder  = "KMERGE_CHECK_ORDER"
	EnvSelector    = "KMERGE_SELECTOR"
	EnvManifestDir = "KMERGE_MANIFEST_DIR"
	EnvLogLevel    = monitoring.EnvLogLevel
)

var (
	ErrNoOutput    = errors.New("config: output is required")
	ErrNoSources   = errors.New("config: source_dir or sources is required")
	ErrBufferSize  = errors.New("config: buffer_size must be positive")
	errBadSelector = errors.New("config: unknown selector")
	errBadLevel    = errors.New("config: unknown log level")
)

// Config holds everything needed for one merge run.
type Config struct {
	// SourceDir is listed for runs when Sources is empty, and relative
	// entries of Sources resolve against it.
	SourceDir string
	// Sources names the runs explicitly, in tie-break order.
	Sources []string
	// Output is the path of the merged file.
	Output string
	// Truncate replaces an existing output instead of appending to it.
	Truncate bool
	// CheckOrder fails the run on a source whose values decrease.
	CheckOrder bool
	// Selector is "linear" or "heap".
	Selector string
	// BufferSize is the read and write buffer size in bytes.
	BufferSize int
	// ManifestDir enables the run ledger when set.
	ManifestDir string
	// LogLevel is a zerolog level name.
	LogLevel string
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Truncate:   true,
		CheckOrder: true,
		Selector:   merge.Linear.String(),
		BufferSize: 64 * 1024,
		LogLevel:   "info",
	}
}

type fileConfig struct {
	SourceDir   string   `toml:"source_dir"`
	Sources     []string `toml:"sources"`
	Output      string   `toml:"output"`
	Truncate    bool     `toml:"truncate"`
	CheckOrder  bool     `toml:"check_order"`
	Selector    string   `toml:"selector"`
	BufferSize  int      `toml:"buffer_size"`
	ManifestDir string   `toml:"manifest_dir"`
	LogLevel    string   `toml:"log_level"`
}

// Load reads path on top of Default. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("source_dir") {
		cfg.SourceDir = strings.TrimSpace(raw.SourceDir)
	}
	if meta.IsDefined("sources") {
		cfg.Sources = normalizeSources(raw.Sources)
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("truncate") {
		cfg.Truncate = raw.Truncate
	}
	if meta.IsDefined("check_order") {
		cfg.CheckOrder = raw.CheckOrder
	}
	if meta.IsDefined("selector") {
		cfg.Selector = strings.TrimSpace(raw.Selector)
	}
	if meta.IsDefined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}
	if meta.IsDefined("manifest_dir") {
		cfg.ManifestDir = strings.TrimSpace(raw.ManifestDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with any KMERGE_* variables that getenv returns.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvSourceDir)); v != "" {
		cfg.SourceDir = v
	}
	if v := strings.TrimSpace(getenv(EnvOutput)); v != "" {
		cfg.Output = v
	}
	if v, ok, err := parseBool(EnvTruncate, getenv(EnvTruncate)); err != nil {
		return err
	} else if ok {
		cfg.Truncate = v
	}
	if v, ok, err := parseBool(EnvCheckOrder, getenv(EnvCheckOrder)); err != nil {
		return err
	} else if ok {
		cfg.CheckOrder = v
	}
	if v := strings.TrimSpace(getenv(EnvSelector)); v != "" {
		cfg.Selector = v
	}
	if v := strings.TrimSpace(getenv(EnvManifestDir)); v != "" {
		cfg.ManifestDir = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.Output == "" {
		return ErrNoOutput
	}
	if c.SourceDir == "" && len(c.Sources) == 0 {
		return ErrNoSources
	}
	if c.BufferSize <= 0 {
		return ErrBufferSize
	}
	if _, ok := merge.ParseSelector(c.Selector); !ok {
		return fmt.Errorf("%w: %q", errBadSelector, c.Selector)
	}
	if _, ok := monitoring.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errBadLevel, c.LogLevel)
	}
	return nil
}

func normalizeSources(sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(name, raw string) (value, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, true, nil
}
