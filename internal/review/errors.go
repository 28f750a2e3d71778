package review

import (
	"errors"
	"fmt"
)

// Sentinel errors. Misuse guards (ErrNotInQueue, ErrNotStaged,
// ErrNothingStaged) are returned to the caller but never published as
// LastError.
var (
	ErrNotInQueue      = errors.New("review: item not in queue")
	ErrNotStaged       = errors.New("review: item not staged")
	ErrNothingStaged   = errors.New("review: nothing staged")
	ErrFetchFailed     = errors.New("review: fetch failed")
	ErrCommitCancelled = errors.New("review: commit cancelled")
	ErrCommitFailed    = errors.New("review: commit failed")

	// ErrDeleteCancelled is returned by Collection.BulkDelete when the user
	// declines the deletion at the collection level.
	ErrDeleteCancelled = errors.New("review: deletion declined by user")
)

// ErrorKind classifies errors produced by the manager.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotInQueue
	KindNotStaged
	KindNothingStaged
	KindFetchFailed
	KindCommitCancelled
	KindCommitFailed
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotInQueue:
		return "not_in_queue"
	case KindNotStaged:
		return "not_staged"
	case KindNothingStaged:
		return "nothing_staged"
	case KindFetchFailed:
		return "fetch_failed"
	case KindCommitCancelled:
		return "commit_cancelled"
	case KindCommitFailed:
		return "commit_failed"
	default:
		return "other"
	}
}

// MarshalText renders the kind by name in JSON output.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name written by MarshalText. Unknown names
// decode as KindOther.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for c := KindNone; c <= KindOther; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}

	*k = KindOther

	return nil
}

// Kind returns the ErrorKind of err, KindNone for nil.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotInQueue):
		return KindNotInQueue
	case errors.Is(err, ErrNotStaged):
		return KindNotStaged
	case errors.Is(err, ErrNothingStaged):
		return KindNothingStaged
	case errors.Is(err, ErrFetchFailed):
		return KindFetchFailed
	case errors.Is(err, ErrCommitCancelled), errors.Is(err, ErrDeleteCancelled):
		return KindCommitCancelled
	case errors.Is(err, ErrCommitFailed):
		return KindCommitFailed
	default:
		return KindOther
	}
}

// IsMisuse reports whether err is a caller-misuse guard rather than a
// failure worth showing to a user.
func IsMisuse(err error) bool {
	switch Kind(err) {
	case KindNotInQueue, KindNotStaged, KindNothingStaged:
		return true
	default:
		return false
	}
}

// Failure is the published form of the last user-visible error.
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// Message returns the text shown to the user.
func (f *Failure) Message() string {
	if f == nil {
		return ""
	}

	switch f.Kind {
	case KindCommitCancelled:
		return "Deletion cancelled. You can try again when ready."
	case KindCommitFailed:
		return fmt.Sprintf("Deletion failed: %s", f.Reason)
	case KindFetchFailed:
		return fmt.Sprintf("Loading failed: %s", f.Reason)
	default:
		return f.Reason
	}
}
