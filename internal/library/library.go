// Package library exposes a local media directory as an ordered, snapshotted
// collection for the review manager. Items are identified by their
// NFC-normalized slash path relative to the library root and ordered newest
// first by modification time. Rescans produce new snapshots that are held
// back until the manager adopts them, and bulk deletes are all-or-nothing.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/kleen-app/kleen/internal/review"
)

// ErrNotDirectory is returned by Open when the library root is not a
// readable directory.
var ErrNotDirectory = errors.New("library: root is not a directory")

// DeleteMode selects how committed items leave the library.
type DeleteMode string

const (
	DeleteTrash     DeleteMode = "trash"
	DeletePermanent DeleteMode = "permanent"
)

// rescanAttempts bounds how often Rescan repeats a walk that overlapped a
// delete.
const rescanAttempts = 3

// ConfirmFunc asks the user to approve a bulk delete. Returning false
// cancels the delete with review.ErrDeleteCancelled.
type ConfirmFunc func(ctx context.Context, items []review.Item) (bool, error)

// Options configures a Library.
type Options struct {
	Root       string
	Include    []string // doublestar patterns; empty selects DefaultInclude
	Exclude    []string
	DeleteMode DeleteMode
	Confirm    ConfirmFunc
	Logger     *slog.Logger
}

// DefaultInclude matches common photo and video formats.
var DefaultInclude = []string{
	"**/*.{jpg,jpeg,png,gif,heic,heif,webp,tif,tiff,dng,raw,cr2,nef,arw}",
	"**/*.{mp4,mov,m4v,avi,3gp}",
}

// snapshot is an immutable view of the library at one point in time.
type snapshot struct {
	token string
	seq   uint64
	items []review.Item
	index map[string]int    // id -> position in items
	paths map[string]string // id -> path relative to root, as found on disk
}

func newSnapshot(token string, seq uint64, items []review.Item, paths map[string]string) *snapshot {
	index := make(map[string]int, len(items))
	for i := range items {
		index[items[i].ID] = i
	}

	return &snapshot{token: token, seq: seq, items: items, index: index, paths: paths}
}

// without returns a copy of s minus ids, under the given token.
func (s *snapshot) without(ids map[string]bool, token string, seq uint64) *snapshot {
	items := slices.DeleteFunc(slices.Clone(s.items), func(it review.Item) bool { return ids[it.ID] })

	paths := make(map[string]string, len(items))
	for _, it := range items {
		paths[it.ID] = s.paths[it.ID]
	}

	return newSnapshot(token, seq, items, paths)
}

// sameAs reports whether o lists the same items in the same order.
func (s *snapshot) sameAs(o *snapshot) bool {
	return slices.EqualFunc(s.items, o.items, func(a, b review.Item) bool {
		return a.ID == b.ID && a.Created.Equal(b.Created)
	})
}

// Library is a review.Collection over a directory tree. Fetch, Size, and
// Resolve read the adopted snapshot; Rescan stages newer snapshots that
// AdoptSnapshot promotes.
type Library struct {
	root    string
	include []string
	exclude []string
	mode    DeleteMode
	confirm ConfirmFunc
	logger  *slog.Logger
	trash   trashFunc
	walk    func(context.Context) ([]review.Item, map[string]string, error)

	mu      sync.RWMutex
	seq     uint64
	current *snapshot            // served to the manager
	latest  *snapshot            // most recent scan; Rescan diffs against it
	pending map[string]*snapshot // scanned but not yet adopted, by token
}

var (
	_ review.Collection      = (*Library)(nil)
	_ review.SnapshotAdopter = (*Library)(nil)
)

// Open scans root and returns a Library serving that first snapshot. It
// fails when root is missing or unreadable, which is the point at which a
// caller learns it has no access to the collection.
func Open(ctx context.Context, opts Options) (*Library, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("library: opening %s: %w", opts.Root, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, opts.Root)
	}

	l := &Library{
		root:    opts.Root,
		include: lowerAll(opts.Include),
		exclude: lowerAll(opts.Exclude),
		mode:    opts.DeleteMode,
		confirm: opts.Confirm,
		logger:  opts.Logger,
		trash:   defaultTrashFunc,
		pending: make(map[string]*snapshot),
	}

	if l.logger == nil {
		l.logger = slog.Default()
	}

	l.walk = l.scan

	if len(l.include) == 0 {
		l.include = lowerAll(DefaultInclude)
	}

	if l.mode == "" {
		l.mode = DeleteTrash
	}

	if err := validatePatterns(l.include, l.exclude); err != nil {
		return nil, err
	}

	items, paths, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}

	l.seq++
	l.current = newSnapshot(uuid.NewString(), l.seq, items, paths)
	l.latest = l.current

	l.logger.Info("library opened",
		slog.String("root", l.root),
		slog.Int("items", len(items)),
		slog.String("delete_mode", string(l.mode)),
	)

	return l, nil
}

// Root returns the library root directory.
func (l *Library) Root() string {
	return l.root
}

// Fetch returns up to limit items starting at offset in the adopted
// snapshot, newest first.
func (l *Library) Fetch(ctx context.Context, offset, limit int) ([]review.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("library: fetch: %w", err)
	}

	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("library: invalid range offset=%d limit=%d", offset, limit)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	items := l.current.items
	if offset >= len(items) {
		return nil, nil
	}

	end := min(offset+limit, len(items))

	return slices.Clone(items[offset:end]), nil
}

// Size returns the number of items in the adopted snapshot.
func (l *Library) Size(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.current.items), nil
}

// Token identifies the adopted snapshot.
func (l *Library) Token() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.current.token
}

// Resolve maps ids to items in the adopted snapshot, preserving the order of
// ids and omitting ids that no longer exist.
func (l *Library) Resolve(_ context.Context, ids []string) ([]review.Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]review.Item, 0, len(ids))

	for _, id := range ids {
		if i, ok := l.current.index[id]; ok {
			out = append(out, l.current.items[i])
		}
	}

	return out, nil
}

// AdoptSnapshot makes the pending snapshot with token the served one and
// forgets older pending snapshots. It returns false for unknown tokens.
func (l *Library) AdoptSnapshot(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.pending[token]
	if !ok {
		return false
	}

	l.current = s

	for tok, p := range l.pending {
		if p.seq <= s.seq {
			delete(l.pending, tok)
		}
	}

	l.logger.Debug("snapshot adopted", slog.String("token", token), slog.Int("items", len(s.items)))

	return true
}

// Rescan walks the library again. When the result differs from the latest
// scan it is staged as a pending snapshot and the returned change set lists
// the ids that disappeared; changed is false when nothing moved. A walk that
// overlapped a delete may have seen files that are gone now, so it is
// thrown away and the walk repeated.
func (l *Library) Rescan(ctx context.Context) (cs review.ChangeSet, changed bool, err error) {
	for range rescanAttempts {
		l.mu.RLock()
		gen := l.seq
		l.mu.RUnlock()

		items, paths, err := l.walk(ctx)
		if err != nil {
			return review.ChangeSet{}, false, err
		}

		l.mu.Lock()

		if l.seq != gen {
			l.mu.Unlock()
			l.logger.Debug("library changed during rescan, discarding walk",
				slog.Uint64("started", gen), slog.Uint64("now", l.seq))

			continue
		}

		cs, changed = l.stageLocked(items, paths)
		l.mu.Unlock()

		return cs, changed, nil
	}

	l.logger.Warn("rescan kept racing with deletes, skipping", slog.Int("attempts", rescanAttempts))

	return review.ChangeSet{}, false, nil
}

// stageLocked diffs a finished walk against the latest scan and stages it
// as a pending snapshot when anything moved. Caller holds mu for writing.
func (l *Library) stageLocked(items []review.Item, paths map[string]string) (review.ChangeSet, bool) {
	next := newSnapshot("", 0, items, paths)
	if next.sameAs(l.latest) {
		return review.ChangeSet{}, false
	}

	var removed []string

	for _, it := range l.latest.items {
		if _, ok := next.index[it.ID]; !ok {
			removed = append(removed, it.ID)
		}
	}

	l.seq++
	next.token = uuid.NewString()
	next.seq = l.seq
	l.latest = next
	l.pending[next.token] = next

	l.logger.Debug("rescan staged new snapshot",
		slog.String("token", next.token),
		slog.Int("items", len(items)),
		slog.Int("removed", len(removed)),
	)

	return review.ChangeSet{Removed: removed, Token: next.token}, true
}

// forgetLocked drops ids from every snapshot after a successful delete. The
// served snapshot gets a new token; staged ones keep theirs so pending
// change sets can still be adopted. Caller holds mu for writing.
func (l *Library) forgetLocked(ids map[string]bool) {
	latestWasCurrent := l.latest == l.current

	l.seq++
	l.current = l.current.without(ids, uuid.NewString(), l.seq)

	if latestWasCurrent {
		l.latest = l.current
	} else {
		l.latest = l.latest.without(ids, l.latest.token, l.latest.seq)
	}

	for tok, p := range l.pending {
		if p.token == l.latest.token {
			l.pending[tok] = l.latest
			continue
		}

		l.pending[tok] = p.without(ids, p.token, p.seq)
	}
}
