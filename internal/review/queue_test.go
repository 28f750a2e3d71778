package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInitial_FirstBatch(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection(makeItems(120))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 50})

	require.NoError(t, m.LoadInitial(context.Background()))

	st := m.Snapshot()
	assert.Len(t, st.Queue, 50)
	assert.Equal(t, "item-000", st.Queue[0].ID)
	assert.Equal(t, Cursor{Offset: 50, Token: "gen-0"}, st.Cursor)
	assert.False(t, st.Exhausted)
	assert.False(t, st.Busy)
	assert.Nil(t, st.LastError)
}

func TestLoadMore_PaginatesToExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(120))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 50})

	require.NoError(t, m.LoadInitial(ctx))
	assert.Len(t, m.Snapshot().Queue, 50)

	require.NoError(t, m.LoadMore(ctx))
	assert.Len(t, m.Snapshot().Queue, 100)
	assert.Equal(t, 100, m.Snapshot().Cursor.Offset)
	assert.False(t, m.Snapshot().Exhausted)

	require.NoError(t, m.LoadMore(ctx))
	st := m.Snapshot()
	assert.Len(t, st.Queue, 120)
	assert.Equal(t, 120, st.Cursor.Offset)
	assert.True(t, st.Exhausted)

	fetches := coll.fetchCount()

	require.NoError(t, m.LoadMore(ctx))
	st = m.Snapshot()
	assert.Len(t, st.Queue, 120)
	assert.Equal(t, 120, st.Cursor.Offset)
	assert.True(t, st.Exhausted)
	assert.Equal(t, fetches, coll.fetchCount(), "no fetch past the end")
}

func TestLoadInitial_SkipsKeptButAdvancesCursor(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection(makeItems(10))
	store := &memStore{kept: []string{"item-000", "item-002"}}
	m := newTestManager(t, coll, store, Options{BatchSize: 4, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(context.Background()))

	st := m.Snapshot()
	assert.Equal(t, []string{"item-001", "item-003"}, ids(st.Queue))
	assert.Equal(t, 4, st.Cursor.Offset, "cursor counts fetched entries, not admitted ones")
	assert.Equal(t, 2, st.Kept)
}

func TestLoadInitial_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(20))
	coll.gate = make(chan struct{})
	coll.entered = make(chan struct{})

	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 50})

	done := make(chan error, 1)

	go func() { done <- m.LoadInitial(ctx) }()

	<-coll.entered

	assert.True(t, m.Snapshot().Busy)

	// Both return immediately without issuing a second fetch.
	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.LoadMore(ctx))
	assert.Equal(t, 1, coll.fetchCount())

	close(coll.gate)
	require.NoError(t, <-done)

	st := m.Snapshot()
	assert.Len(t, st.Queue, 20)
	assert.False(t, st.Busy)
	assert.Equal(t, 1, coll.fetchCount())
}

func TestLoadInitial_FailureKeepsState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(8))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 5, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	before := m.Snapshot()

	coll.setFetchErr(errors.New("permission denied"))

	err := m.LoadInitial(ctx)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, KindFetchFailed, Kind(err))

	st := m.Snapshot()
	assert.Equal(t, before.Queue, st.Queue)
	assert.Equal(t, before.Cursor, st.Cursor)
	require.NotNil(t, st.LastError)
	assert.Equal(t, KindFetchFailed, st.LastError.Kind)
	assert.Equal(t, "Loading failed: permission denied", st.LastError.Message())
	assert.False(t, st.Busy)

	coll.setFetchErr(nil)

	require.NoError(t, m.LoadMore(ctx))
	assert.Nil(t, m.Snapshot().LastError)
	assert.Len(t, m.Snapshot().Queue, 8)
}

func TestRefill_BelowWatermark(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(30))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 10, LowWatermark: 5})

	require.NoError(t, m.LoadInitial(ctx))
	require.Len(t, m.Snapshot().Queue, 10)

	for i := range 6 {
		require.NoError(t, m.Keep(ctx, makeItems(30)[i].ID))
	}

	m.Wait()

	st := m.Snapshot()
	assert.Len(t, st.Queue, 14)
	assert.Equal(t, 20, st.Cursor.Offset)
	assert.Equal(t, "item-006", st.Queue[0].ID)
}

func TestRefill_ChainsPastKeptPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	kept := make([]string, 0, 10)
	for _, it := range makeItems(10) {
		kept = append(kept, it.ID)
	}

	coll := newFakeCollection(makeItems(15))
	m := newTestManager(t, coll, &memStore{kept: kept}, Options{BatchSize: 5, LowWatermark: 3})

	require.NoError(t, m.LoadInitial(ctx))
	m.Wait()

	st := m.Snapshot()
	assert.Equal(t, []string{"item-010", "item-011", "item-012", "item-013", "item-014"}, ids(st.Queue))
	assert.True(t, st.Exhausted)
}

func TestLoadMore_DedupesItemsShiftedByAdditions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B", "C", "D", "E"))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 2, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	assert.Equal(t, []string{"A", "B"}, ids(m.Snapshot().Queue))

	require.NoError(t, m.Reconcile(ctx, coll.prepend(Item{ID: "N", Created: baseTime.Add(time.Hour)})))

	// Offset 2 now holds B again; it must not be queued twice.
	require.NoError(t, m.LoadMore(ctx))
	assert.Equal(t, []string{"A", "B", "C"}, ids(m.Snapshot().Queue))
}

func TestLoadInitial_ReloadReplacesQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B", "C"))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 10})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.LoadInitial(ctx))
	m.Wait()

	st := m.Snapshot()
	assert.Equal(t, []string{"A", "B", "C"}, ids(st.Queue))
	assert.Equal(t, Cursor{Offset: 3, Token: coll.Token()}, st.Cursor)
	assert.True(t, st.Exhausted)
}

func TestLoadInitial_NotCoalescedByWaitingRefill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B", "C", "D", "E", "F"))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 2, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	coll.prepend(Item{ID: "N", Created: baseTime.Add(time.Hour), Size: 1})

	// Drain the queue under the owner lock so the refill has to wait for it.
	m.mu.Lock()
	m.queue = nil
	m.maybeRefillLocked(ctx)

	done := make(chan error, 1)
	go func() { done <- m.LoadInitial(ctx) }()

	// Only the caller's load may claim the flag while the refill waits.
	require.Eventually(t, m.busy.Load, time.Second, time.Millisecond)
	m.mu.Unlock()

	require.NoError(t, <-done)
	m.Wait()

	st := m.Snapshot()
	assert.Equal(t, []string{"N", "A"}, ids(st.Queue))
	assert.Equal(t, Cursor{Offset: 2, Token: coll.Token()}, st.Cursor)
	assert.False(t, st.Busy)
}
