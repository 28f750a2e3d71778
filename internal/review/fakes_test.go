package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// makeItems returns n items named item-000.. ordered newest first.
func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID:      fmt.Sprintf("item-%03d", i),
			Created: baseTime.Add(-time.Duration(i) * time.Minute),
			Size:    int64(100 * (i + 1)),
		}
	}

	return items
}

func named(ids ...string) []Item {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, Created: baseTime.Add(-time.Duration(i) * time.Minute), Size: 1}
	}

	return items
}

// fakeCollection is an in-memory Collection. Setting gate makes Fetch
// signal entered and block until gate is closed.
type fakeCollection struct {
	mu        sync.Mutex
	items     []Item
	token     string
	gen       int
	fetchErr  error
	deleteErr error
	gate      chan struct{}
	entered   chan struct{}
	fetches   int
	deletes   [][]Item
}

func newFakeCollection(items []Item) *fakeCollection {
	return &fakeCollection{items: slices.Clone(items), token: "gen-0"}
}

func (c *fakeCollection) Fetch(ctx context.Context, offset, limit int) ([]Item, error) {
	c.mu.Lock()
	c.fetches++
	gate, entered := c.gate, c.entered
	c.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return nil, c.fetchErr
	}

	if offset >= len(c.items) {
		return nil, nil
	}

	end := min(offset+limit, len(c.items))

	return slices.Clone(c.items[offset:end]), nil
}

func (c *fakeCollection) Size(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return 0, c.fetchErr
	}

	return len(c.items), nil
}

func (c *fakeCollection) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.token
}

func (c *fakeCollection) Resolve(_ context.Context, ids []string) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Item

	for _, id := range ids {
		if i := indexOf(c.items, id); i >= 0 {
			out = append(out, c.items[i])
		}
	}

	return out, nil
}

func (c *fakeCollection) BulkDelete(_ context.Context, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deletes = append(c.deletes, slices.Clone(items))

	if c.deleteErr != nil {
		return c.deleteErr
	}

	ids := make(map[string]bool, len(items))
	for _, it := range items {
		ids[it.ID] = true
	}

	c.items = slices.DeleteFunc(c.items, func(it Item) bool { return ids[it.ID] })
	c.bumpLocked()

	return nil
}

// remove deletes ids externally and returns the matching change set.
func (c *fakeCollection) remove(ids ...string) ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = slices.DeleteFunc(c.items, func(it Item) bool { return slices.Contains(ids, it.ID) })
	c.bumpLocked()

	return ChangeSet{Removed: ids, Token: c.token}
}

// prepend adds items at the front externally and returns the change set.
func (c *fakeCollection) prepend(items ...Item) ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(slices.Clone(items), c.items...)
	c.bumpLocked()

	return ChangeSet{Token: c.token}
}

func (c *fakeCollection) bumpLocked() {
	c.gen++
	c.token = fmt.Sprintf("gen-%d", c.gen)
}

func (c *fakeCollection) setFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchErr = err
}

func (c *fakeCollection) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetches
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	kept    []string
	staged  []string
	commits []CommitRecord
	saveErr error
}

func (s *memStore) KeptIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.kept), nil
}

func (s *memStore) AddKept(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.kept, id) {
		s.kept = append(s.kept, id)
	}

	return nil
}

func (s *memStore) StagedIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.staged), nil
}

func (s *memStore) SaveStaged(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}

	s.staged = slices.Clone(ids)

	return nil
}

func (s *memStore) RecordCommit(_ context.Context, rec CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commits = append(s.commits, rec)

	return nil
}

func (s *memStore) stagedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.staged)
}

func (s *memStore) commitLog() []CommitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.commits)
}

func newTestManager(t *testing.T, coll Collection, store Store, opts Options) *Manager {
	t.Helper()

	opts.Logger = testLogger(t)

	m, err := New(context.Background(), coll, store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(m.Close)

	return m
}

func ids(items []Item) []string {
	return itemIDs(items)
}
