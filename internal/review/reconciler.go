package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Reconcile applies an external change to the collection. It adopts the new
// snapshot, pulls the cursor back by the number of removed items it had
// already passed, and drops removed items from the queue and the staged
// list. Removed staged items are discarded silently: an item that is gone
// cannot be deleted again. The decision ledger is never touched.
func (m *Manager) Reconcile(ctx context.Context, cs ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if adopter, ok := m.coll.(SnapshotAdopter); ok && cs.Token != "" {
		if !adopter.AdoptSnapshot(cs.Token) {
			m.logger.Debug("snapshot already superseded", slog.String("token", cs.Token))
		}
	}

	removed := mapset.NewThreadUnsafeSet(cs.Removed...)
	m.recomputeCursorLocked(ctx, removed)

	gone := func(it Item) bool { return removed.Contains(it.ID) }

	queueBefore := len(m.queue)
	m.queue = slices.DeleteFunc(m.queue, gone)

	stagedBefore := len(m.staged)
	m.staged = slices.DeleteFunc(m.staged, gone)

	var err error

	if len(m.staged) != stagedBefore {
		if saveErr := m.store.SaveStaged(ctx, itemIDs(m.staged)); saveErr != nil {
			err = fmt.Errorf("review: persisting reconciled staged list: %w", saveErr)
		}
	}

	m.maybeRefillLocked(ctx)
	m.publishLocked()

	if removed.Cardinality() > 0 {
		m.logger.Info("reconciled external removals",
			slog.Int("removed", removed.Cardinality()),
			slog.Int("dropped_from_queue", queueBefore-len(m.queue)),
			slog.Int("dropped_from_staged", stagedBefore-len(m.staged)),
			slog.Int("cursor", m.cursor.Offset),
		)
	}

	return err
}

// recomputeCursorLocked maps the cursor onto the new snapshot. Every removed
// item inside the fetched prefix sat before the cursor, so the offset moves
// back by that count. The result is clamped to [0, size]. Caller holds mu.
func (m *Manager) recomputeCursorLocked(ctx context.Context, removed mapset.Set[string]) {
	shift := 0

	for _, id := range removed.ToSlice() {
		if m.fetched.Contains(id) {
			m.fetched.Remove(id)
			shift++
		}
	}

	m.cursor.Offset = max(0, m.cursor.Offset-shift)
	m.cursor.Token = m.coll.Token()

	size, err := m.coll.Size(ctx)
	if err != nil {
		m.logger.Warn("reading collection size during reconcile",
			slog.String("error", err.Error()))

		return
	}

	m.cursor.Offset = min(m.cursor.Offset, size)
	m.exhausted = m.cursor.Offset >= size && m.fetched.Cardinality() > 0
}

// Run feeds change sets from the collection's change feed into Reconcile
// until ctx is done or the channel closes.
func (m *Manager) Run(ctx context.Context, changes <-chan ChangeSet) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case cs, ok := <-changes:
			if !ok {
				return nil
			}

			if err := m.Reconcile(ctx, cs); err != nil {
				m.logger.Warn("reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}
