package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after all override layers, plus
// the path of the file it was read from (which may not exist).
type Resolved struct {
	Config
	Path string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and come with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.LibraryDir != "" {
		cfg.LibraryDir = env.LibraryDir
	}

	if env.StateDir != "" {
		cfg.StateDir = env.StateDir
	}

	if cli.LibraryDir != nil {
		cfg.LibraryDir = *cli.LibraryDir
	}

	if cli.DeleteMode != nil {
		cfg.DeleteMode = *cli.DeleteMode
	}

	cfg.LibraryDir = expandTilde(cfg.LibraryDir)
	cfg.StateDir = expandTilde(cfg.StateDir)

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultDataDir()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &Resolved{Config: *cfg, Path: cfgPath}, nil
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.LibraryDir != "" && !filepath.IsAbs(cfg.LibraryDir) {
		errs = append(errs, fmt.Errorf("library_dir: must be absolute after expansion, got %q", cfg.LibraryDir))
	}

	if cfg.StateDir != "" && !filepath.IsAbs(cfg.StateDir) {
		errs = append(errs, fmt.Errorf("state_dir: must be absolute after expansion, got %q", cfg.StateDir))
	}

	return errors.Join(errs...)
}
