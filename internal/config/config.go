// Package config loads the YAML settings file consumed by the CLI.
// Flags override file values; file values override the defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config selects the execution engine and its connection settings.
type Config struct {
	// Engine is one of duckdb, postgres, sqlite.
	Engine string `yaml:"engine"`

	// DSN is the driver connection string. For the embedded engines this
	// is a file path (or ":memory:" for sqlite).
	DSN string `yaml:"dsn"`

	// SchemaDir optionally points at a directory of extra CUE type
	// definitions layered over the embedded registry.
	SchemaDir string `yaml:"schema_dir"`
}

// Default is the configuration used when no file is given: an in-memory
// sqlite database, embedded type registry only.
func Default() Config {
	return Config{Engine: "sqlite", DSN: ":memory:"}
}

// Load reads a YAML config file and overlays it on the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c Config) validate() error {
	switch c.Engine {
	case "duckdb", "postgres", "sqlite":
		return nil
	}
	return fmt.Errorf("unknown engine %q (supported: duckdb, postgres, sqlite)", c.Engine)
}
