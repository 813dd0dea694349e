// Package config loads the YAML configuration for a prevalence store and
// turns it into engine options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/engine"
)

// StoreConfig holds the durability and compaction configuration of one store.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	// CompactionThreshold folds the journal after this many records; 0
	// disables the count trigger.
	CompactionThreshold uint64 `yaml:"compaction_threshold"`
	// MaxJournalSizeBytes folds the journal once it exceeds this size; 0
	// disables the size trigger.
	MaxJournalSizeBytes int64  `yaml:"max_journal_size_bytes"`
	SyncMode            string `yaml:"sync_mode"`   // "always" or "disabled"
	Compression         string `yaml:"compression"` // "none", "snappy", "lz4", "zstd"
	CompactOnOpen       bool   `yaml:"compact_on_open"`
	RetainSuperseded    bool   `yaml:"retain_superseded"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "stderr", "none"
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// Load reads configuration from an io.Reader over a set of defaults. A nil
// reader or empty input yields the defaults unchanged.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			DataDir:             "./data",
			CompactionThreshold: 1000,
			MaxJournalSizeBytes: 10 * 1024 * 1024, // 10 MiB
			SyncMode:            "always",
			Compression:         "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}

	if r == nil {
		return cfg, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects values the engine would misbehave on.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir must not be empty")
	}
	switch core.SyncMode(c.Store.SyncMode) {
	case core.SyncAlways, core.SyncDisabled:
	default:
		return fmt.Errorf("invalid store.sync_mode %q: want %q or %q",
			c.Store.SyncMode, core.SyncAlways, core.SyncDisabled)
	}
	if _, err := ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("invalid store.compression: %w", err)
	}
	return nil
}

// ParseCompression maps a configuration string to a compression type.
func ParseCompression(name string) (core.CompressionType, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return core.CompressionNone, nil
	case "snappy":
		return core.CompressionSnappy, nil
	case "lz4":
		return core.CompressionLZ4, nil
	case "zstd":
		return core.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// EngineOptions converts the store section into engine options. Validate
// must have accepted the config first.
func (c *Config) EngineOptions(logger *slog.Logger) (engine.Options, error) {
	compression, err := ParseCompression(c.Store.Compression)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		CompactionThreshold: c.Store.CompactionThreshold,
		MaxJournalSize:      c.Store.MaxJournalSizeBytes,
		SyncMode:            core.SyncMode(c.Store.SyncMode),
		Compression:         compression,
		CompactOnOpen:       c.Store.CompactOnOpen,
		RetainSuperseded:    c.Store.RetainSuperseded,
		Logger:              logger,
	}, nil
}

// NewLogger builds a slog.Logger from the logging section.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer
	switch strings.ToLower(c.Logging.Output) {
	case "none":
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
