// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for kleen. Values are resolved through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags. The file is flat; the section structs below only group related keys.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	LibraryConfig
	ReviewConfig
	WatchConfig
	LoggingConfig
	ServeConfig
}

// LibraryConfig selects the media directory and how files leave it.
// Include and exclude are doublestar patterns matched case-insensitively
// against the slash path relative to library_dir.
type LibraryConfig struct {
	LibraryDir     string   `toml:"library_dir"`
	StateDir       string   `toml:"state_dir"`
	Include        []string `toml:"include"`
	Exclude        []string `toml:"exclude"`
	DeleteMode     string   `toml:"delete_mode"`
	ConfirmDeletes bool     `toml:"confirm_deletes"`
}

// ReviewConfig controls pagination of the review queue.
type ReviewConfig struct {
	BatchSize    int `toml:"batch_size"`
	LowWatermark int `toml:"low_watermark"`
}

// WatchConfig controls the filesystem change feed.
type WatchConfig struct {
	WatchDebounce      string `toml:"watch_debounce"`
	SafetyScanInterval string `toml:"safety_scan_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// ServeConfig controls the state broadcast server.
type ServeConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Debounce returns watch_debounce as a duration. Validate has already
// rejected malformed values, so a parse failure yields zero (the watcher
// default).
func (w *WatchConfig) Debounce() time.Duration {
	d, _ := time.ParseDuration(w.WatchDebounce)
	return d
}

// SafetyScan returns safety_scan_interval as a duration.
func (w *WatchConfig) SafetyScan() time.Duration {
	d, _ := time.ParseDuration(w.SafetyScanInterval)
	return d
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	LibraryDir *string // --library flag
	DeleteMode *string // --delete-mode flag
}
