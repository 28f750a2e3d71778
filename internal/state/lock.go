package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another kleen process holds the state
// directory.
var ErrLocked = errors.New("state: another kleen process is using this state directory")

const (
	lockFileName  = "kleen.lock"
	stateDirPerms = 0o700
	databaseName  = "kleen.db"
)

// DatabasePath returns the database file inside stateDir.
func DatabasePath(stateDir string) string {
	return filepath.Join(stateDir, databaseName)
}

// Lock creates stateDir if needed and takes an exclusive, non-blocking file
// lock on it. The manager assumes a single writer per ledger, so a second
// process fails fast with ErrLocked. The returned function releases the lock.
func Lock(stateDir string) (func() error, error) {
	if err := os.MkdirAll(stateDir, stateDirPerms); err != nil {
		return nil, fmt.Errorf("state: creating state directory: %w", err)
	}

	fl := flock.New(filepath.Join(stateDir, lockFileName))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("state: locking %s: %w", stateDir, err)
	}

	if !locked {
		return nil, ErrLocked
	}

	return fl.Unlock, nil
}
