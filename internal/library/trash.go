package library

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

const (
	platformDarwin = "darwin"
	platformLinux  = "linux"
	trashDirPerms  = 0o700
	trashInfoPerms = 0o600
)

// trashFunc moves absPath into the OS trash and returns a function that
// puts it back. The undo is used to roll back a partially applied bulk
// delete.
type trashFunc func(absPath string) (undo func() error, err error)

// defaultTrashFunc moves a file to the current user's OS trash: ~/.Trash on
// macOS, the XDG home trash on Linux. Other platforms have no trash and
// must use permanent delete mode.
func defaultTrashFunc(absPath string) (func() error, error) {
	switch runtime.GOOS {
	case platformDarwin:
		return moveToMacOSTrash(absPath)
	case platformLinux:
		return moveToXDGTrash(absPath)
	default:
		return nil, fmt.Errorf("trash not available on %s", runtime.GOOS)
	}
}

// moveToMacOSTrash moves a file to ~/.Trash, handling name collisions by
// appending a numeric suffix.
func moveToMacOSTrash(absPath string) (func() error, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	trashDir := filepath.Join(home, ".Trash")

	if _, statErr := os.Stat(trashDir); statErr != nil {
		return nil, fmt.Errorf("trash directory not found: %w", statErr)
	}

	dest := uniqueName(trashDir, filepath.Base(absPath))

	if err := os.Rename(absPath, dest); err != nil {
		return nil, fmt.Errorf("moving %s to trash: %w", absPath, err)
	}

	return func() error { return os.Rename(dest, absPath) }, nil
}

// moveToXDGTrash implements the freedesktop.org trash layout in the home
// trash ($XDG_DATA_HOME/Trash): the file goes to files/ and a .trashinfo
// record with the original path goes to info/.
func moveToXDGTrash(absPath string) (func() error, error) {
	trashDir, err := xdgTrashDir()
	if err != nil {
		return nil, err
	}

	filesDir := filepath.Join(trashDir, "files")
	infoDir := filepath.Join(trashDir, "info")

	for _, dir := range []string{filesDir, infoDir} {
		if err := os.MkdirAll(dir, trashDirPerms); err != nil {
			return nil, fmt.Errorf("creating trash directory %s: %w", dir, err)
		}
	}

	dest := uniqueName(filesDir, filepath.Base(absPath))
	infoPath := filepath.Join(infoDir, filepath.Base(dest)+".trashinfo")

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		(&url.URL{Path: absPath}).EscapedPath(),
		time.Now().Format("2006-01-02T15:04:05"),
	)

	if err := os.WriteFile(infoPath, []byte(info), trashInfoPerms); err != nil {
		return nil, fmt.Errorf("writing trash info for %s: %w", absPath, err)
	}

	if err := os.Rename(absPath, dest); err != nil {
		os.Remove(infoPath)
		return nil, fmt.Errorf("moving %s to trash: %w", absPath, err)
	}

	return func() error {
		if err := os.Rename(dest, absPath); err != nil {
			return err
		}

		return os.Remove(infoPath)
	}, nil
}

func xdgTrashDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "Trash"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// uniqueName returns dir/name, or dir/"stem N.ext" for the first N >= 2 that
// does not exist yet (matching Finder behavior).
func uniqueName(dir, name string) string {
	dest := filepath.Join(dir, name)
	if _, err := os.Lstat(dest); os.IsNotExist(err) {
		return dest
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	for i := 2; ; i++ {
		candidate := filepath.Join(dir, stem+" "+strconv.Itoa(i)+ext)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
