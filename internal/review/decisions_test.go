package review

import (
	"context"
	"errors"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeep_RemovesAndRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}
	m := newTestManager(t, newFakeCollection(named("A", "B", "C")), store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.Keep(ctx, "B"))

	st := m.Snapshot()
	assert.Equal(t, []string{"A", "C"}, ids(st.Queue))
	assert.Equal(t, 1, st.Kept)
	assert.Equal(t, []string{"B"}, store.kept)
}

func TestKeep_NotInQueueIsMisuse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t, newFakeCollection(named("A")), &memStore{}, Options{})

	require.NoError(t, m.LoadInitial(ctx))

	err := m.Keep(ctx, "Z")
	require.ErrorIs(t, err, ErrNotInQueue)
	assert.True(t, IsMisuse(err))
	assert.Nil(t, m.Snapshot().LastError, "misuse is not published")
	assert.Equal(t, []string{"A"}, ids(m.Snapshot().Queue))
}

func TestStageDelete_AppendsInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}
	m := newTestManager(t, newFakeCollection(named("A", "B", "C")), store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "C"))
	require.NoError(t, m.StageDelete(ctx, "A"))

	st := m.Snapshot()
	assert.Equal(t, []string{"B"}, ids(st.Queue))
	assert.Equal(t, []string{"C", "A"}, ids(st.Staged))
	assert.Equal(t, []string{"C", "A"}, store.stagedIDs())

	require.ErrorIs(t, m.StageDelete(ctx, "A"), ErrNotInQueue)
}

func TestRestore_ReturnsToFront(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}
	m := newTestManager(t, newFakeCollection(named("A", "B", "C")), store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "B"))
	require.NoError(t, m.Restore(ctx, "B"))

	st := m.Snapshot()
	head, ok := st.Head()
	require.True(t, ok)
	assert.Equal(t, "B", head.ID)
	assert.Equal(t, []string{"B", "A", "C"}, ids(st.Queue))
	assert.Empty(t, st.Staged)
	assert.Empty(t, store.stagedIDs())

	require.ErrorIs(t, m.Restore(ctx, "B"), ErrNotStaged)
}

func TestRestoreLast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t, newFakeCollection(named("A", "B", "C")), &memStore{}, Options{BatchSize: 10, LowWatermark: 1})

	_, err := m.RestoreLast(ctx)
	require.ErrorIs(t, err, ErrNothingStaged)

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "A"))
	require.NoError(t, m.StageDelete(ctx, "C"))

	it, err := m.RestoreLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C", it.ID)
	assert.Equal(t, []string{"C", "B"}, ids(m.Snapshot().Queue))
	assert.Equal(t, []string{"A"}, ids(m.Snapshot().Staged))
}

func TestStageDelete_PersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}
	m := newTestManager(t, newFakeCollection(named("A", "B")), store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))

	store.saveErr = errors.New("database is locked")

	err := m.StageDelete(ctx, "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, []string{"A"}, ids(m.Snapshot().Staged))
}

// The three partitions never share an id across any sequence of decisions.
func TestDecisions_PartitionsStayDisjoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(40))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 8, LowWatermark: 3})

	require.NoError(t, m.LoadInitial(ctx))

	check := func() {
		t.Helper()

		m.Wait()
		st := m.Snapshot()

		queue := mapset.NewThreadUnsafeSet(ids(st.Queue)...)
		staged := mapset.NewThreadUnsafeSet(ids(st.Staged)...)

		m.mu.Lock()
		kept := m.kept.Clone()
		m.mu.Unlock()

		assert.Equal(t, len(st.Queue), queue.Cardinality(), "queue has duplicates")
		assert.Equal(t, len(st.Staged), staged.Cardinality(), "staged has duplicates")
		assert.True(t, queue.Intersect(staged).Cardinality() == 0)
		assert.True(t, queue.Intersect(kept).Cardinality() == 0)
		assert.True(t, staged.Intersect(kept).Cardinality() == 0)
	}

	for step := 0; ; step++ {
		m.Wait()

		head, ok := m.Snapshot().Head()
		if !ok {
			break
		}

		switch step % 4 {
		case 0, 2:
			require.NoError(t, m.Keep(ctx, head.ID))
		case 1:
			require.NoError(t, m.StageDelete(ctx, head.ID))
		case 3:
			require.NoError(t, m.StageDelete(ctx, head.ID))
			_, err := m.RestoreLast(ctx)
			require.NoError(t, err)
			require.NoError(t, m.StageDelete(ctx, head.ID))
		}

		check()
	}

	st := m.Snapshot()
	assert.True(t, st.Exhausted)
	assert.Equal(t, 40, st.Kept+len(st.Staged))
}
