package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kleen-app/kleen/internal/review"
)

// preflightWorkers bounds concurrent stats while checking a delete batch.
const preflightWorkers = 8

// holdingDirPerms is used for the per-commit holding directory.
const holdingDirPerms = 0o700

// BulkDelete removes every item or none. After optional confirmation it
// checks all files up front, then moves them one by one to the trash (or,
// in permanent mode, into a holding directory that is removed at the end).
// If any move fails the files already moved are put back and the error is
// returned. Items that are already gone count as deleted.
func (l *Library) BulkDelete(ctx context.Context, items []review.Item) error {
	if len(items) == 0 {
		return nil
	}

	if l.confirm != nil {
		ok, err := l.confirm(ctx, items)
		if err != nil {
			return fmt.Errorf("library: confirming delete: %w", err)
		}

		if !ok {
			return review.ErrDeleteCancelled
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	present, err := l.preflight(ctx, items)
	if err != nil {
		return err
	}

	if err := l.moveAll(present); err != nil {
		return err
	}

	deleted := make(map[string]bool, len(items))
	for _, it := range items {
		deleted[it.ID] = true
	}

	l.forgetLocked(deleted)

	l.logger.Info("bulk delete complete",
		slog.Int("requested", len(items)),
		slog.Int("moved", len(present)),
		slog.String("mode", string(l.mode)),
	)

	return nil
}

// preflight stats every item concurrently and returns the absolute paths of
// those still on disk. Any error other than not-exist aborts the delete
// before anything has moved. Caller holds mu.
func (l *Library) preflight(ctx context.Context, items []review.Item) ([]string, error) {
	abs := make([]string, len(items))
	exists := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preflightWorkers)

	for i, it := range items {
		rel, ok := l.current.paths[it.ID]
		if !ok {
			rel = filepath.FromSlash(it.ID)
		}

		abs[i] = filepath.Join(l.root, rel)

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			info, err := os.Lstat(abs[i])
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug("delete: already absent", slog.String("id", it.ID))
				return nil
			}

			if err != nil {
				return fmt.Errorf("library: checking %s: %w", it.ID, err)
			}

			if !info.Mode().IsRegular() {
				return fmt.Errorf("library: %s is not a regular file", it.ID)
			}

			exists[i] = true

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	present := make([]string, 0, len(items))

	for i := range abs {
		if exists[i] {
			present = append(present, abs[i])
		}
	}

	return present, nil
}

// moveAll moves every path out of the library, undoing earlier moves if a
// later one fails.
func (l *Library) moveAll(paths []string) error {
	move := l.trash

	var holding string

	if l.mode == DeletePermanent {
		holding = filepath.Join(l.root, holdingDirPrefix+uuid.NewString())
		if err := os.Mkdir(holding, holdingDirPerms); err != nil {
			return fmt.Errorf("library: creating holding directory: %w", err)
		}

		move = holdInto(holding)
	}

	undos := make([]func() error, 0, len(paths))

	for _, p := range paths {
		undo, err := move(p)
		if err != nil {
			l.rollback(undos)

			if holding != "" {
				os.Remove(holding)
			}

			return fmt.Errorf("library: removing %s: %w", p, err)
		}

		undos = append(undos, undo)
	}

	if holding != "" {
		if err := os.RemoveAll(holding); err != nil {
			// Everything already left the library; leftovers are hidden
			// from scans.
			l.logger.Warn("removing holding directory failed",
				slog.String("path", holding), slog.String("error", err.Error()))
		}
	}

	return nil
}

// rollback applies undos in reverse order. Failures are logged: a file that
// cannot be restored stays in the trash where the user can recover it.
func (l *Library) rollback(undos []func() error) {
	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](); err != nil {
			l.logger.Error("rollback of partial delete failed", slog.String("error", err.Error()))
		}
	}

	l.logger.Warn("partial delete rolled back", slog.Int("restored", len(undos)))
}

// holdInto returns a move function that renames files into dir under unique
// names. Renames stay on the library's filesystem, so they are atomic.
func holdInto(dir string) trashFunc {
	return func(absPath string) (func() error, error) {
		dest := filepath.Join(dir, uuid.NewString()+filepath.Ext(absPath))

		if err := os.Rename(absPath, dest); err != nil {
			return nil, err
		}

		return func() error { return os.Rename(dest, absPath) }, nil
	}
}
