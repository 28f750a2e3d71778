package review

import (
	"context"
	"fmt"
	"log/slog"
)

// LoadInitial resets the cursor, fetches the first batch from the start of
// the collection, and installs the items that are neither kept nor staged
// as the review queue. A call made while another fetch is in flight is a
// no-op. On fetch failure the previous queue and cursor are left intact and
// the failure is published as LastError.
func (m *Manager) LoadInitial(ctx context.Context) error {
	return m.runLoad(ctx, "initial", m.loadInitialLocked)
}

// LoadMore fetches the next batch after the cursor and appends the admitted
// items to the queue. The cursor advances by the number of collection
// entries fetched, regardless of how many were admitted. At the end of the
// collection it is a no-op that marks the manager exhausted.
func (m *Manager) LoadMore(ctx context.Context) error {
	return m.runLoad(ctx, "more", m.loadMoreLocked)
}

// runLoad applies the busy-flag coalescing rule and the owner lock around a
// load step, then schedules a refill if the queue is still short.
func (m *Manager) runLoad(ctx context.Context, kind string, load func(context.Context) error) error {
	if !m.busy.CompareAndSwap(false, true) {
		m.logger.Debug("load coalesced with in-flight fetch", slog.String("kind", kind))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.publishLocked()

	err := load(ctx)

	m.busy.Store(false)

	if err == nil {
		m.maybeRefillLocked(ctx)
	}

	m.publishLocked()

	return err
}

// loadInitialLocked fetches page zero and, on success, replaces the queue,
// the cursor, and the fetched-prefix set. Caller holds mu.
func (m *Manager) loadInitialLocked(ctx context.Context) error {
	token := m.coll.Token()

	page, size, err := m.fetchPage(ctx, 0)
	if err != nil {
		return m.fetchFailedLocked(err)
	}

	// The reload replaces the queue, so admission must not filter against
	// the entries it is about to discard.
	m.fetched.Clear()
	m.queue = nil
	m.queue = m.admitLocked(page)
	m.cursor = Cursor{Offset: len(page), Token: token}
	m.exhausted = m.cursor.Offset >= size
	m.lastErr = nil

	m.logger.Debug("initial page loaded",
		slog.Int("fetched", len(page)),
		slog.Int("admitted", len(m.queue)),
		slog.Int("size", size),
	)

	return nil
}

// loadMoreLocked fetches the page at the cursor. Caller holds mu.
func (m *Manager) loadMoreLocked(ctx context.Context) error {
	if token := m.coll.Token(); token != m.cursor.Token {
		// A snapshot swap without a reconcile pass: adopt it and rely on the
		// fetched-prefix set to reject anything seen already.
		m.logger.Debug("cursor token changed without reconciliation",
			slog.String("old", m.cursor.Token), slog.String("new", token))
		m.cursor.Token = token
	}

	page, size, err := m.fetchPage(ctx, m.cursor.Offset)
	if err != nil {
		return m.fetchFailedLocked(err)
	}

	if len(page) == 0 {
		m.cursor.Offset = min(m.cursor.Offset, size)
		m.exhausted = true
		m.logger.Debug("collection exhausted", slog.Int("cursor", m.cursor.Offset))

		return nil
	}

	admitted := m.admitLocked(page)
	m.queue = append(m.queue, admitted...)
	m.cursor.Offset += len(page)
	m.exhausted = m.cursor.Offset >= size

	if m.lastErr != nil && m.lastErr.Kind == KindFetchFailed {
		m.lastErr = nil
	}

	m.logger.Debug("page loaded",
		slog.Int("fetched", len(page)),
		slog.Int("admitted", len(admitted)),
		slog.Int("cursor", m.cursor.Offset),
		slog.Int("size", size),
	)

	return nil
}

// fetchPage reads the current size and, when offset is inside the
// collection, one batch starting at offset.
func (m *Manager) fetchPage(ctx context.Context, offset int) ([]Item, int, error) {
	size, err := m.coll.Size(ctx)
	if err != nil {
		return nil, 0, err
	}

	if offset >= size {
		return nil, size, nil
	}

	page, err := m.coll.Fetch(ctx, offset, m.batchSize)
	if err != nil {
		return nil, size, err
	}

	return page, size, nil
}

func (m *Manager) fetchFailedLocked(err error) error {
	m.lastErr = &Failure{Kind: KindFetchFailed, Reason: err.Error()}

	m.logger.Warn("fetch failed", slog.String("error", err.Error()))

	return fmt.Errorf("%w: %w", ErrFetchFailed, err)
}

// admitLocked records every fetched id in the fetched-prefix set and returns
// the items eligible for the queue: not kept, not staged, not already
// queued, and not seen earlier in this cursor generation. Caller holds mu.
func (m *Manager) admitLocked(page []Item) []Item {
	admitted := make([]Item, 0, len(page))

	for _, it := range page {
		if m.fetched.Contains(it.ID) {
			continue
		}

		m.fetched.Add(it.ID)

		if m.kept.Contains(it.ID) || indexOf(m.staged, it.ID) >= 0 || indexOf(m.queue, it.ID) >= 0 {
			continue
		}

		admitted = append(admitted, it)
	}

	return admitted
}

// needsRefillLocked reports whether the queue is below the low watermark
// and the collection has more to offer. Caller holds mu.
func (m *Manager) needsRefillLocked() bool {
	return len(m.queue) < m.lowWatermark && !m.exhausted && m.phase != PhaseCommitting
}

// maybeRefillLocked starts a background refill when the queue is short.
// The decision that triggered it returns without waiting. Caller holds mu.
func (m *Manager) maybeRefillLocked(ctx context.Context) {
	if !m.needsRefillLocked() {
		return
	}

	bg := context.WithoutCancel(ctx)

	m.refills.Add(1)

	go func() {
		defer m.refills.Done()

		if err := m.refill(bg); err != nil {
			m.logger.Warn("background refill failed", slog.String("error", err.Error()))
		}
	}()
}

// refill is the background form of LoadMore. It claims the busy flag only
// once it holds the owner lock, so a refill waiting for the lock never
// causes a caller's LoadInitial or LoadMore to be coalesced away. The
// refill is skipped when a caller's load already claimed the flag or the
// queue no longer needs topping up.
func (m *Manager) refill(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.needsRefillLocked() {
		return nil
	}

	if !m.busy.CompareAndSwap(false, true) {
		m.logger.Debug("refill deferred to pending load")
		return nil
	}

	m.publishLocked()

	err := m.loadMoreLocked(ctx)

	m.busy.Store(false)

	if err == nil {
		m.maybeRefillLocked(ctx)
	}

	m.publishLocked()

	return err
}
