package library

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/kleen-app/kleen/internal/review"
)

// holdingDirPrefix names the directories permanent deletes stage files in.
// Scans and the watcher ignore them along with every other hidden entry.
const holdingDirPrefix = ".kleen-pending-"

// scan walks the library root and returns matching files newest first.
// WalkDir visits entries in lexical order and the sort is stable, so items
// with equal timestamps keep path order.
func (l *Library) scan(ctx context.Context) ([]review.Item, map[string]string, error) {
	var items []review.Item

	paths := make(map[string]string)

	err := filepath.WalkDir(l.root, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			l.logger.Warn("walk error", slog.String("path", fsPath), slog.String("error", walkErr.Error()))
			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fsPath == l.root {
			return nil
		}

		if isHidden(d.Name()) {
			return skipEntry(d)
		}

		// Symlinks are never offered for deletion.
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(l.root, fsPath)
		if err != nil {
			return fmt.Errorf("library: computing relative path for %s: %w", fsPath, err)
		}

		id := itemID(relPath)
		if !l.matches(id) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// File disappeared between readdir and stat.
			l.logger.Debug("stat failed during scan", slog.String("path", id), slog.String("error", err.Error()))
			return nil
		}

		items = append(items, review.Item{ID: id, Created: info.ModTime(), Size: info.Size()})
		paths[id] = relPath

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("library: scan canceled: %w", ctx.Err())
		}

		return nil, nil, fmt.Errorf("library: walking %s: %w", l.root, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Created.After(items[j].Created)
	})

	return items, paths, nil
}

// matches applies the include and exclude patterns to a slash path.
// Matching is case-insensitive: patterns were lowered at Open.
func (l *Library) matches(id string) bool {
	lower := strings.ToLower(id)

	for _, p := range l.exclude {
		if ok, _ := doublestar.Match(p, lower); ok {
			return false
		}
	}

	for _, p := range l.include {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}

	return false
}

// validatePatterns rejects malformed glob patterns up front so a typo does
// not silently hide the whole library.
func validatePatterns(groups ...[]string) error {
	for _, group := range groups {
		for _, p := range group {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("library: invalid pattern %q", p)
			}
		}
	}

	return nil
}

// itemID converts an OS-relative path into the stable item identifier:
// forward slashes and NFC Unicode, so ids agree across platforms.
func itemID(relPath string) string {
	return norm.NFC.String(filepath.ToSlash(relPath))
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}

	return out
}

// skipEntry returns filepath.SkipDir for directories (to skip the subtree)
// or nil for files (to continue the walk with the next entry).
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
