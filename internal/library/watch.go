package library

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kleen-app/kleen/internal/review"
)

// Watcher defaults and error backoff bounds.
const (
	DefaultDebounce           = 500 * time.Millisecond
	DefaultSafetyScanInterval = 5 * time.Minute
	watchErrInitBackoff       = time.Second
	watchErrMaxBackoff        = 30 * time.Second
	watchErrBackoffMult       = 2
)

// FsWatcher is the subset of fsnotify.Watcher the Watcher uses, so tests can
// inject events.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

// WatchOptions configures a Watcher. Zero durations select the defaults.
type WatchOptions struct {
	Debounce           time.Duration
	SafetyScanInterval time.Duration
	Logger             *slog.Logger
}

// Watcher turns filesystem notifications into review.ChangeSet events. Raw
// events only arm a debounce timer; when it fires the library is rescanned
// and any difference is published. A periodic safety scan catches events
// fsnotify missed.
type Watcher struct {
	lib            *Library
	debounce       time.Duration
	safetyInterval time.Duration
	logger         *slog.Logger
	newWatcher     func() (FsWatcher, error)
	sleepFunc      func(ctx context.Context, d time.Duration) error
}

// NewWatcher creates a Watcher for lib.
func NewWatcher(lib *Library, opts WatchOptions) *Watcher {
	w := &Watcher{
		lib:            lib,
		debounce:       opts.Debounce,
		safetyInterval: opts.SafetyScanInterval,
		logger:         opts.Logger,
		newWatcher:     newFsnotifyWatcher,
		sleepFunc:      timeSleep,
	}

	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if w.safetyInterval <= 0 {
		w.safetyInterval = DefaultSafetyScanInterval
	}

	if w.logger == nil {
		w.logger = lib.logger
	}

	return w
}

// Run watches the library tree and sends change sets to out until ctx is
// canceled. out is not closed.
func (w *Watcher) Run(ctx context.Context, out chan<- review.ChangeSet) error {
	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("library: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.lib.root); err != nil {
		return err
	}

	w.logger.Info("watching library", slog.String("root", w.lib.root))

	return w.watchLoop(ctx, watcher, out)
}

// watchLoop is the main select loop for Run. It processes fsnotify events,
// watcher errors, the debounce timer, safety scan ticks, and cancellation.
func (w *Watcher) watchLoop(ctx context.Context, watcher FsWatcher, out chan<- review.ChangeSet) error {
	safetyTicker := time.NewTicker(w.safetyInterval)
	defer safetyTicker.Stop()

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if w.relevant(ev, watcher) {
				debounce.Reset(w.debounce)
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Missed events are possible after an error (e.g. kernel queue
			// overflow); the rescan below picks them up.
			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
			debounce.Reset(w.debounce)

		case <-debounce.C:
			w.rescan(ctx, out)

		case <-safetyTicker.C:
			w.logger.Debug("running safety scan")
			w.rescan(ctx, out)
		}
	}
}

// relevant filters one fsnotify event. New directories are added to the
// watch set. Chmod-only events and hidden entries are ignored.
func (w *Watcher) relevant(ev fsnotify.Event, watcher FsWatcher) bool {
	if isHidden(filepath.Base(ev.Name)) {
		return false
	}

	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if addErr := w.addTree(watcher, ev.Name); addErr != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name), slog.String("error", addErr.Error()))
			}
		}
	}

	return true
}

// rescan asks the library for a new snapshot and forwards the change set.
func (w *Watcher) rescan(ctx context.Context, out chan<- review.ChangeSet) {
	cs, changed, err := w.lib.Rescan(ctx)
	if err != nil {
		w.logger.Warn("rescan failed", slog.String("error", err.Error()))
		return
	}

	if !changed {
		return
	}

	w.logger.Debug("library changed",
		slog.Int("removed", len(cs.Removed)), slog.String("token", cs.Token))

	select {
	case out <- cs:
	case <-ctx.Done():
	}
}

// addTree adds a watch on dir and every non-hidden directory below it.
func (w *Watcher) addTree(watcher FsWatcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("watch walk error", slog.String("path", p), slog.String("error", err.Error()))
			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if p != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}

		if addErr := watcher.Add(p); addErr != nil {
			return fmt.Errorf("library: watching %s: %w", p, addErr)
		}

		return nil
	})
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
