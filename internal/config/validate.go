package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validation range constants.
const (
	minBatchSize     = 1
	maxBatchSize     = 1000
	minWatchDebounce = 50 * time.Millisecond
	minSafetyScan    = 10 * time.Second
	deleteModeTrash  = "trash"
	deleteModePerm   = "permanent"
	logFormatAuto    = "auto"
	logFormatText    = "text"
	logFormatJSON    = "json"
)

// Validate checks all configuration values and returns every error found,
// so users can fix them all in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLibrary(&cfg.LibraryConfig)...)
	errs = append(errs, validateReview(&cfg.ReviewConfig)...)
	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateServe(&cfg.ServeConfig)...)

	return errors.Join(errs...)
}

func validateLibrary(l *LibraryConfig) []error {
	var errs []error

	if l.DeleteMode != deleteModeTrash && l.DeleteMode != deleteModePerm {
		errs = append(errs, fmt.Errorf("delete_mode: must be %q or %q; got %q",
			deleteModeTrash, deleteModePerm, l.DeleteMode))
	}

	for _, p := range l.Include {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("include: invalid pattern %q", p))
		}
	}

	for _, p := range l.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("exclude: invalid pattern %q", p))
		}
	}

	return errs
}

func validateReview(r *ReviewConfig) []error {
	var errs []error

	if r.BatchSize < minBatchSize || r.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, r.BatchSize))
	}

	if r.LowWatermark < 0 {
		errs = append(errs, fmt.Errorf("low_watermark: must be >= 0, got %d", r.LowWatermark))
	} else if r.BatchSize >= minBatchSize && r.LowWatermark > r.BatchSize {
		errs = append(errs, fmt.Errorf("low_watermark: must not exceed batch_size (%d), got %d",
			r.BatchSize, r.LowWatermark))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	if err := validateDuration("watch_debounce", w.WatchDebounce, minWatchDebounce); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("safety_scan_interval", w.SafetyScanInterval, minSafetyScan); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	logFormatAuto: true,
	logFormatText: true,
	logFormatJSON: true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateServe(s *ServeConfig) []error {
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return []error{fmt.Errorf("listen_addr: %w", err)}
	}

	return nil
}
