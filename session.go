package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kleen-app/kleen/internal/library"
	"github.com/kleen-app/kleen/internal/review"
	"github.com/kleen-app/kleen/internal/state"
)

// reviewSession bundles the components a command needs to drive the review
// manager: the state-directory lock, the store, the library, and the
// manager itself. Close releases them in reverse order.
type reviewSession struct {
	Store   *state.Store
	Library *library.Library
	Manager *review.Manager

	unlock func() error
	logger *slog.Logger
}

// sessionOptions tunes how a session is opened.
type sessionOptions struct {
	// Confirm replaces the library confirmation prompt. Nil means no
	// confirmation unless confirm_deletes asks for one, in which case
	// commands must supply a prompt.
	Confirm library.ConfirmFunc
}

// errNoLibrary is returned when neither config nor flags name a library.
var errNoLibrary = errors.New("no library directory configured; set library_dir, KLEEN_LIBRARY, or --library")

// openSession acquires the state-directory lock and wires the store,
// library, and manager from the resolved config.
func openSession(ctx context.Context, cc *CLIContext, opts sessionOptions) (*reviewSession, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if cfg.LibraryDir == "" {
		return nil, errNoLibrary
	}

	unlock, err := state.Lock(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("locking state directory: %w", err)
	}

	s := &reviewSession{unlock: unlock, logger: logger}

	s.Store, err = state.Open(state.DatabasePath(cfg.StateDir), logger)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	s.Library, err = library.Open(ctx, library.Options{
		Root:       cfg.LibraryDir,
		Include:    cfg.Include,
		Exclude:    cfg.Exclude,
		DeleteMode: library.DeleteMode(cfg.DeleteMode),
		Confirm:    opts.Confirm,
		Logger:     logger,
	})
	if err != nil {
		s.release()
		return nil, fmt.Errorf("opening library: %w", err)
	}

	s.Manager, err = review.New(ctx, s.Library, s.Store, review.Options{
		BatchSize:    cfg.BatchSize,
		LowWatermark: cfg.LowWatermark,
		Logger:       logger,
	})
	if err != nil {
		s.release()
		return nil, fmt.Errorf("starting review manager: %w", err)
	}

	logger.Debug("session opened",
		slog.String("library", cfg.LibraryDir),
		slog.String("state_dir", cfg.StateDir),
		slog.String("delete_mode", cfg.DeleteMode),
	)

	return s, nil
}

// Close stops the manager, then releases the store and the lock.
func (s *reviewSession) Close() {
	if s.Manager != nil {
		s.Manager.Close()
	}

	s.release()
}

func (s *reviewSession) release() {
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.logger.Warn("closing state database", slog.String("error", err.Error()))
		}
	}

	if s.unlock != nil {
		if err := s.unlock(); err != nil {
			s.logger.Warn("releasing state lock", slog.String("error", err.Error()))
		}
	}
}

// watchOptions maps the watch config onto library.WatchOptions.
func watchOptions(cc *CLIContext) library.WatchOptions {
	return library.WatchOptions{
		Debounce:           cc.Cfg.Debounce(),
		SafetyScanInterval: cc.Cfg.SafetyScan(),
		Logger:             cc.Logger,
	}
}
