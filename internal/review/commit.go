package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Commit hands the full staged-deletion list to the collection's bulk
// delete. The call is detached from ctx cancellation: once started, a commit
// runs to completion so the staged list is never torn.
//
// On success the staged list is cleared and persisted, and the queue is
// rebuilt with a fresh LoadInitial pass. On failure the staged list is left
// exactly as it was, the failure is published as LastError, and the commit
// may be retried.
func (m *Manager) Commit(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.staged) == 0 {
		return ErrNothingStaged
	}

	batch := slices.Clone(m.staged)
	rec := CommitRecord{Started: m.nowFunc(), Items: len(batch)}

	for _, it := range batch {
		rec.Bytes += it.Size
	}

	m.phase = PhaseCommitting
	m.lastErr = nil
	m.publishLocked()

	m.logger.Info("committing staged deletions", slog.Int("items", len(batch)))

	deleteErr := m.coll.BulkDelete(ctx, batch)
	rec.Finished = m.nowFunc()

	if deleteErr != nil {
		return m.commitFailedLocked(ctx, rec, deleteErr)
	}

	m.staged = nil

	var errs []error

	if err := m.store.SaveStaged(ctx, nil); err != nil {
		errs = append(errs, fmt.Errorf("review: persisting cleared staged list: %w", err))
	}

	rec.Outcome = OutcomeSucceeded
	m.recordCommitLocked(ctx, rec)

	m.logger.Info("staged deletions committed",
		slog.Int("items", rec.Items),
		slog.Duration("duration", rec.Finished.Sub(rec.Started)),
	)

	if err := m.loadInitialLocked(ctx); err != nil {
		errs = append(errs, err)
	}

	m.phase = PhaseIdle
	m.maybeRefillLocked(ctx)
	m.publishLocked()

	return errors.Join(errs...)
}

// commitFailedLocked classifies a bulk-delete failure and returns the
// manager to idle with the staged list untouched. Caller holds mu.
func (m *Manager) commitFailedLocked(ctx context.Context, rec CommitRecord, deleteErr error) error {
	sentinel := ErrCommitFailed
	kind := KindCommitFailed
	rec.Outcome = OutcomeFailed

	if errors.Is(deleteErr, ErrDeleteCancelled) {
		sentinel = ErrCommitCancelled
		kind = KindCommitCancelled
		rec.Outcome = OutcomeCancelled
	}

	rec.Reason = deleteErr.Error()
	m.lastErr = &Failure{Kind: kind, Reason: deleteErr.Error()}
	m.phase = PhaseIdle
	m.recordCommitLocked(ctx, rec)
	m.publishLocked()

	m.logger.Warn("commit did not complete",
		slog.String("outcome", rec.Outcome),
		slog.Int("staged", len(m.staged)),
		slog.String("error", deleteErr.Error()),
	)

	return fmt.Errorf("%w: %w", sentinel, deleteErr)
}

// recordCommitLocked appends the attempt to the commit history. History is
// informational, so a write failure is logged and otherwise ignored.
func (m *Manager) recordCommitLocked(ctx context.Context, rec CommitRecord) {
	if err := m.store.RecordCommit(ctx, rec); err != nil {
		m.logger.Warn("recording commit history failed", slog.String("error", err.Error()))
	}
}
