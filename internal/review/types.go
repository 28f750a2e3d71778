// Package review implements the review queue and staged-deletion manager.
// It paginates an ordered, externally mutable collection into a small working
// queue, records keep decisions in a persisted ledger, stages items for a
// single bulk delete, and reconciles its state when the collection changes
// underneath it. All mutable state is owned by one lock; see Manager.
package review

import (
	"context"
	"fmt"
	"time"
)

// Item is a single entry of the backing collection. ID is stable and unique;
// Created is the ordering key (newest first). The manager never looks at
// anything but identity and order; Size is carried for display only.
type Item struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Size    int64     `json:"size"`
}

// ChangeSet describes an external change to the backing collection: the ids
// removed since the previous snapshot and the token of the new snapshot.
type ChangeSet struct {
	Removed []string `json:"removed"`
	Token   string   `json:"token"`
}

// Cursor is the manager's bookmark into the collection's unfiltered order.
// Offset counts fetched collection entries, not admitted queue items.
type Cursor struct {
	Offset int    `json:"offset"`
	Token  string `json:"token"`
}

// Phase is the commit controller state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*p = PhaseIdle
	case "committing":
		*p = PhaseCommitting
	default:
		return fmt.Errorf("review: unknown phase %q", text)
	}

	return nil
}

// State is an immutable snapshot of the manager's published state. Slices
// are owned by the snapshot and must not be modified by observers.
type State struct {
	Queue     []Item   `json:"queue"`
	Staged    []Item   `json:"staged"`
	Kept      int      `json:"kept"`
	Cursor    Cursor   `json:"cursor"`
	Busy      bool     `json:"busy"`
	Exhausted bool     `json:"exhausted"`
	Phase     Phase    `json:"phase"`
	LastError *Failure `json:"last_error,omitempty"`
}

// Head returns the next item to decide on, if any.
func (s State) Head() (Item, bool) {
	if len(s.Queue) == 0 {
		return Item{}, false
	}

	return s.Queue[0], true
}

// Collection is the narrow view of the backing collection the manager
// consumes. Fetch returns items newest-first from a stable snapshot.
type Collection interface {
	Fetch(ctx context.Context, offset, limit int) ([]Item, error)
	Size(ctx context.Context) (int, error)
	Token() string
	// Resolve maps persisted ids back to items, in the order given.
	// Ids that no longer exist are omitted.
	Resolve(ctx context.Context, ids []string) ([]Item, error)
	// BulkDelete removes all items or none. ErrDeleteCancelled signals that
	// the user declined the deletion.
	BulkDelete(ctx context.Context, items []Item) error
}

// SnapshotAdopter is implemented by collections that hold rescanned
// snapshots back until the manager has reconciled against them. The
// reconciler calls AdoptSnapshot under the owner lock so that fetches never
// observe a snapshot whose removals have not been applied yet.
type SnapshotAdopter interface {
	AdoptSnapshot(token string) bool
}

// Store persists the decision ledger, the staged-deletion list, and the
// commit history.
type Store interface {
	KeptIDs(ctx context.Context) ([]string, error)
	AddKept(ctx context.Context, id string) error
	StagedIDs(ctx context.Context) ([]string, error)
	SaveStaged(ctx context.Context, ids []string) error
	RecordCommit(ctx context.Context, rec CommitRecord) error
}

// Commit outcomes recorded in the history.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// CommitRecord is one row of the commit history.
type CommitRecord struct {
	ID       int64     `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Items    int       `json:"items"`
	Bytes    int64     `json:"bytes"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
}
