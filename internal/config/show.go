package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	ew.printf("[library]\n")
	ew.printf("  library_dir     = %q\n", r.LibraryDir)
	ew.printf("  state_dir       = %q\n", r.StateDir)
	ew.printf("  delete_mode     = %q\n", r.DeleteMode)
	ew.printf("  confirm_deletes = %t\n", r.ConfirmDeletes)

	if len(r.Include) > 0 {
		ew.printf("  include         = [%s]\n", joinQuoted(r.Include))
	}

	if len(r.Exclude) > 0 {
		ew.printf("  exclude         = [%s]\n", joinQuoted(r.Exclude))
	}

	ew.printf("\n[review]\n")
	ew.printf("  batch_size    = %d\n", r.BatchSize)
	ew.printf("  low_watermark = %d\n", r.LowWatermark)

	ew.printf("\n[watch]\n")
	ew.printf("  watch_debounce       = %q\n", r.WatchDebounce)
	ew.printf("  safety_scan_interval = %q\n", r.SafetyScanInterval)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)

	ew.printf("\n[serve]\n")
	ew.printf("  listen_addr = %q\n", r.ListenAddr)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error, so
// callers can chain printf calls without checking each one.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
