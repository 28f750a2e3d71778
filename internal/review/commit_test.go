package review

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommit_SuccessClearsStagedAndReloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B", "C", "D"))
	store := &memStore{}
	m := newTestManager(t, coll, store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "A"))
	require.NoError(t, m.StageDelete(ctx, "C"))
	require.NoError(t, m.Keep(ctx, "B"))

	require.NoError(t, m.Commit(ctx))

	st := m.Snapshot()
	assert.Empty(t, st.Staged)
	assert.Equal(t, []string{"D"}, ids(st.Queue))
	assert.Equal(t, Cursor{Offset: 2, Token: coll.Token()}, st.Cursor)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.LastError)
	assert.Empty(t, store.stagedIDs())

	require.Len(t, coll.deletes, 1)
	assert.Equal(t, []string{"A", "C"}, ids(coll.deletes[0]))

	log := store.commitLog()
	require.Len(t, log, 1)
	assert.Equal(t, OutcomeSucceeded, log[0].Outcome)
	assert.Equal(t, 2, log[0].Items)
	assert.Equal(t, int64(2), log[0].Bytes)
}

func TestCommit_FailureKeepsStagedIntact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(makeItems(10))
	coll.deleteErr = errors.New("read-only file system")
	store := &memStore{}
	m := newTestManager(t, coll, store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))

	for i := range 4 {
		require.NoError(t, m.StageDelete(ctx, fmt.Sprintf("item-%03d", i*2)))
	}

	before := m.Snapshot()

	err := m.Commit(ctx)
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, KindCommitFailed, Kind(err))

	st := m.Snapshot()
	assert.Equal(t, before.Staged, st.Staged)
	assert.Equal(t, before.Queue, st.Queue)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.Busy)
	require.NotNil(t, st.LastError)
	assert.Equal(t, KindCommitFailed, st.LastError.Kind)
	assert.Equal(t, "Deletion failed: read-only file system", st.LastError.Message())
	assert.Equal(t, []string{"item-000", "item-002", "item-004", "item-006"}, store.stagedIDs())

	log := store.commitLog()
	require.Len(t, log, 1)
	assert.Equal(t, OutcomeFailed, log[0].Outcome)
	assert.Equal(t, "read-only file system", log[0].Reason)

	// Retry succeeds once the collection recovers.
	coll.mu.Lock()
	coll.deleteErr = nil
	coll.mu.Unlock()

	require.NoError(t, m.Commit(ctx))
	assert.Empty(t, m.Snapshot().Staged)
	assert.Nil(t, m.Snapshot().LastError)
}

func TestCommit_CancelledByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B"))
	coll.deleteErr = fmt.Errorf("prompt: %w", ErrDeleteCancelled)
	store := &memStore{}
	m := newTestManager(t, coll, store, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "B"))

	err := m.Commit(ctx)
	require.ErrorIs(t, err, ErrCommitCancelled)
	assert.False(t, errors.Is(err, ErrCommitFailed))

	st := m.Snapshot()
	assert.Equal(t, []string{"B"}, ids(st.Staged))
	require.NotNil(t, st.LastError)
	assert.Equal(t, KindCommitCancelled, st.LastError.Kind)
	assert.Equal(t, "Deletion cancelled. You can try again when ready.", st.LastError.Message())
	assert.Equal(t, OutcomeCancelled, store.commitLog()[0].Outcome)
}

func TestCommit_NothingStaged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A"))
	store := &memStore{}
	m := newTestManager(t, coll, store, Options{})

	require.NoError(t, m.LoadInitial(ctx))

	err := m.Commit(ctx)
	require.ErrorIs(t, err, ErrNothingStaged)
	assert.True(t, IsMisuse(err))
	assert.Nil(t, m.Snapshot().LastError)
	assert.Empty(t, coll.deletes)
	assert.Empty(t, store.commitLog())
}

func TestCommit_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection(named("A", "B"))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(context.Background()))
	require.NoError(t, m.StageDelete(context.Background(), "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.Commit(ctx))
	assert.Empty(t, m.Snapshot().Staged)
	assert.Equal(t, []string{"B"}, ids(m.Snapshot().Queue))
}

func TestCommit_PublishesCommittingPhase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection(named("A", "B"))
	m := newTestManager(t, coll, &memStore{}, Options{BatchSize: 10, LowWatermark: 1})

	require.NoError(t, m.LoadInitial(ctx))
	require.NoError(t, m.StageDelete(ctx, "A"))

	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	<-states // current snapshot

	var seen []Phase

	done := make(chan struct{})

	go func() {
		defer close(done)

		for st := range states {
			seen = append(seen, st.Phase)
			if st.Phase == PhaseIdle {
				return
			}
		}
	}()

	require.NoError(t, m.Commit(ctx))
	<-done

	require.NotEmpty(t, seen)
	assert.Equal(t, PhaseIdle, seen[len(seen)-1])
}
