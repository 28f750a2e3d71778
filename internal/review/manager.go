package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Defaults for pagination.
const (
	DefaultBatchSize    = 50
	DefaultLowWatermark = 5
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	BatchSize    int
	LowWatermark int
	Logger       *slog.Logger
	NowFunc      func() time.Time
}

// Manager owns the review queue, the staged-deletion list, the pagination
// cursor, and the commit controller. Every operation takes the owner lock
// for its whole duration, including the collection round trips, so callers
// queue behind an in-flight fetch or commit. The one exception is the busy
// flag: LoadInitial and LoadMore return immediately when a fetch is already
// running.
type Manager struct {
	coll         Collection
	store        Store
	logger       *slog.Logger
	nowFunc      func() time.Time
	batchSize    int
	lowWatermark int

	mu        sync.Mutex // owner lock
	queue     []Item
	staged    []Item
	kept      mapset.Set[string]
	fetched   mapset.Set[string] // ids in [0, cursor.Offset) of the current generation
	cursor    Cursor
	exhausted bool
	phase     Phase
	lastErr   *Failure

	busy    atomic.Bool
	refills sync.WaitGroup
	last    atomic.Pointer[State]

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
	closed  bool
}

// New builds a Manager from persisted state. The ledger is loaded into
// memory and the staged list is re-resolved against the collection; ids
// that no longer resolve are dropped and the trimmed list is persisted.
// New does not fetch: callers invoke LoadInitial once the collection is
// accessible.
func New(ctx context.Context, coll Collection, store Store, opts Options) (*Manager, error) {
	m := &Manager{
		coll:         coll,
		store:        store,
		logger:       opts.Logger,
		nowFunc:      opts.NowFunc,
		batchSize:    opts.BatchSize,
		lowWatermark: opts.LowWatermark,
		kept:         mapset.NewThreadUnsafeSet[string](),
		fetched:      mapset.NewThreadUnsafeSet[string](),
		subs:         make(map[int]chan State),
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}

	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}

	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}

	if m.lowWatermark <= 0 {
		m.lowWatermark = DefaultLowWatermark
	}

	keptIDs, err := store.KeptIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("review: loading decision ledger: %w", err)
	}

	m.kept.Append(keptIDs...)

	if err := m.restoreStaged(ctx); err != nil {
		return nil, err
	}

	m.cursor = Cursor{Token: coll.Token()}

	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("review manager ready",
		slog.Int("kept", len(keptIDs)),
		slog.Int("staged", len(m.staged)),
		slog.Int("batch_size", m.batchSize),
	)

	return m, nil
}

// restoreStaged loads the persisted staged ids and resolves them against
// the collection. Vanished items cannot be deleted twice, so they are
// dropped silently.
func (m *Manager) restoreStaged(ctx context.Context) error {
	ids, err := m.store.StagedIDs(ctx)
	if err != nil {
		return fmt.Errorf("review: loading staged list: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	resolved, err := m.coll.Resolve(ctx, ids)
	if err != nil {
		return fmt.Errorf("review: resolving staged items: %w", err)
	}

	byID := make(map[string]Item, len(resolved))
	for _, it := range resolved {
		byID[it.ID] = it
	}

	staged := make([]Item, 0, len(ids))
	seen := mapset.NewThreadUnsafeSet[string]()

	for _, id := range ids {
		it, ok := byID[id]
		if !ok || seen.Contains(id) || m.kept.Contains(id) {
			continue
		}

		seen.Add(id)
		staged = append(staged, it)
	}

	m.staged = staged

	if len(staged) == len(ids) {
		return nil
	}

	m.logger.Info("dropped staged items that no longer exist",
		slog.Int("persisted", len(ids)),
		slog.Int("resolved", len(staged)),
	)

	if err := m.store.SaveStaged(ctx, itemIDs(staged)); err != nil {
		return fmt.Errorf("review: persisting trimmed staged list: %w", err)
	}

	return nil
}

// Snapshot returns the latest published state.
func (m *Manager) Snapshot() State {
	s := *m.last.Load()
	s.Busy = s.Busy || m.busy.Load()

	return s
}

// Subscribe returns a channel that receives a state snapshot after every
// change, starting with the current one. Slow subscribers only see the most
// recent snapshot. The returned function unsubscribes.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.Snapshot()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()

			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// Wait blocks until all background refills have finished.
func (m *Manager) Wait() {
	m.refills.Wait()
}

// Close waits for background refills and closes all subscriptions.
func (m *Manager) Close() {
	m.Wait()

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.closed = true

	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// publishLocked stores a fresh snapshot and fans it out. Caller holds mu.
func (m *Manager) publishLocked() {
	s := State{
		Queue:     slices.Clone(m.queue),
		Staged:    slices.Clone(m.staged),
		Kept:      m.kept.Cardinality(),
		Cursor:    m.cursor,
		Busy:      m.busy.Load() || m.phase == PhaseCommitting,
		Exhausted: m.exhausted,
		Phase:     m.phase,
	}

	if m.lastErr != nil {
		f := *m.lastErr
		s.LastError = &f
	}

	m.last.Store(&s)

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale snapshot the subscriber has not read yet.
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- s:
			default:
			}
		}
	}
}

// indexOf returns the position of id in items, or -1.
func indexOf(items []Item, id string) int {
	return slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
}

func itemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	return ids
}
