package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Keep removes id from the queue and records it in the decision ledger.
// The ledger is persisted after the in-memory change. Any queued item may be
// kept, not only the head.
func (m *Manager) Keep(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOf(m.queue, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotInQueue, id)
	}

	m.queue = slices.Delete(m.queue, idx, idx+1)
	m.kept.Add(id)

	err := m.store.AddKept(ctx, id)

	m.maybeRefillLocked(ctx)
	m.publishLocked()

	if err != nil {
		return fmt.Errorf("review: persisting kept %s: %w", id, err)
	}

	m.logger.Debug("item kept", slog.String("id", id), slog.Int("queue", len(m.queue)))

	return nil
}

// StageDelete moves id from the queue to the end of the staged-deletion
// list and persists the list.
func (m *Manager) StageDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOf(m.queue, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotInQueue, id)
	}

	it := m.queue[idx]
	m.queue = slices.Delete(m.queue, idx, idx+1)
	m.staged = append(m.staged, it)

	err := m.store.SaveStaged(ctx, itemIDs(m.staged))

	m.maybeRefillLocked(ctx)
	m.publishLocked()

	if err != nil {
		return fmt.Errorf("review: persisting staged list: %w", err)
	}

	m.logger.Debug("item staged", slog.String("id", id), slog.Int("staged", len(m.staged)))

	return nil
}

// Restore takes id off the staged-deletion list and puts it at the front of
// the queue, so it is the next item to decide on.
func (m *Manager) Restore(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.restoreLocked(ctx, id)
}

// RestoreLast restores the most recently staged item. It is the undo
// shortcut used by interactive front ends.
func (m *Manager) RestoreLast(ctx context.Context) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.staged) == 0 {
		return Item{}, ErrNothingStaged
	}

	last := m.staged[len(m.staged)-1]

	return last, m.restoreLocked(ctx, last.ID)
}

func (m *Manager) restoreLocked(ctx context.Context, id string) error {
	idx := indexOf(m.staged, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotStaged, id)
	}

	it := m.staged[idx]
	m.staged = slices.Delete(m.staged, idx, idx+1)

	if indexOf(m.queue, id) < 0 {
		m.queue = slices.Insert(m.queue, 0, it)
	}

	err := m.store.SaveStaged(ctx, itemIDs(m.staged))

	m.publishLocked()

	if err != nil {
		return fmt.Errorf("review: persisting staged list: %w", err)
	}

	m.logger.Debug("item restored", slog.String("id", id), slog.Int("staged", len(m.staged)))

	return nil
}
