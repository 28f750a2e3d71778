package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleen-app/kleen/internal/review"
)

type fakeFsWatcher struct {
	mu     sync.Mutex
	added  []string
	events chan fsnotify.Event
	errs   chan error
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{events: make(chan fsnotify.Event, 16), errs: make(chan error, 4)}
}

func (f *fakeFsWatcher) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, name)

	return nil
}

func (f *fakeFsWatcher) Close() error                  { return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error          { return f.errs }

func (f *fakeFsWatcher) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.added...)
}

func startWatcher(t *testing.T, lib *Library, fw *fakeFsWatcher) (<-chan review.ChangeSet, *Watcher) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	w := NewWatcher(lib, WatchOptions{Debounce: 20 * time.Millisecond, Logger: testLogger(t)})
	w.newWatcher = func() (FsWatcher, error) { return fw, nil }
	w.sleepFunc = func(context.Context, time.Duration) error { return nil }

	out := make(chan review.ChangeSet, 4)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, out) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	return out, w
}

func receive(t *testing.T, out <-chan review.ChangeSet) review.ChangeSet {
	t.Helper()

	select {
	case cs := <-out:
		return cs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change set")
		return review.ChangeSet{}
	}
}

func TestWatcher_EmitsChangeSetAfterDebounce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMedia(t, root, "a.jpg", 1)
	writeMedia(t, root, "b.jpg", 2)

	lib := openTestLibrary(t, Options{Root: root})
	fw := newFakeFsWatcher()
	out, _ := startWatcher(t, lib, fw)

	require.NoError(t, os.Remove(filepath.Join(root, "b.jpg")))

	// A burst of events yields a single rescan.
	for range 3 {
		fw.events <- fsnotify.Event{Name: filepath.Join(root, "b.jpg"), Op: fsnotify.Remove}
	}

	cs := receive(t, out)
	assert.Equal(t, []string{"b.jpg"}, cs.Removed)
	assert.True(t, lib.AdoptSnapshot(cs.Token))

	select {
	case extra := <-out:
		t.Fatalf("unexpected second change set: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresHiddenAndChmod(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMedia(t, root, "a.jpg", 1)

	lib := openTestLibrary(t, Options{Root: root})
	fw := newFakeFsWatcher()
	_, w := startWatcher(t, lib, fw)

	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, ".kleen-pending-x"), Op: fsnotify.Create}, fw))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, "a.jpg"), Op: fsnotify.Chmod}, fw))
	assert.True(t, w.relevant(fsnotify.Event{Name: filepath.Join(root, "a.jpg"), Op: fsnotify.Write}, fw))
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMedia(t, root, "a.jpg", 1)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "existing"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0o755))

	lib := openTestLibrary(t, Options{Root: root})
	fw := newFakeFsWatcher()
	out, _ := startWatcher(t, lib, fw)

	require.Eventually(t, func() bool { return len(fw.watched()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{root, filepath.Join(root, "existing")}, fw.watched())

	writeMedia(t, root, "trip/day1/new.jpg", 0)
	fw.events <- fsnotify.Event{Name: filepath.Join(root, "trip"), Op: fsnotify.Create}

	cs := receive(t, out)
	assert.Empty(t, cs.Removed)
	assert.Contains(t, fw.watched(), filepath.Join(root, "trip", "day1"))
}

func TestWatcher_ErrorTriggersRescan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMedia(t, root, "a.jpg", 1)

	lib := openTestLibrary(t, Options{Root: root})
	fw := newFakeFsWatcher()
	out, _ := startWatcher(t, lib, fw)

	require.NoError(t, os.Remove(filepath.Join(root, "a.jpg")))
	fw.errs <- errors.New("queue overflow")

	cs := receive(t, out)
	assert.Equal(t, []string{"a.jpg"}, cs.Removed)
}
