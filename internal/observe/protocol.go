package observe

import (
	"context"
	"fmt"

	"github.com/kleen-app/kleen/internal/review"
)

// Operations accepted from clients.
const (
	OpReload      = "reload"
	OpLoadMore    = "load_more"
	OpKeep        = "keep"
	OpStage       = "stage"
	OpRestore     = "restore"
	OpRestoreLast = "restore_last"
	OpCommit      = "commit"
)

// Message types sent to clients.
const (
	TypeState  = "state"
	TypeResult = "result"
)

// Request is a client operation. Ref is echoed in the result.
type Request struct {
	Ref  string `json:"ref,omitempty"`
	Op   string `json:"op"`
	Item string `json:"item,omitempty"`
}

// Message is everything the server sends.
type Message struct {
	Type  string        `json:"type"`
	Ref   string        `json:"ref,omitempty"`
	Op    string        `json:"op,omitempty"`
	OK    bool          `json:"ok,omitempty"`
	Item  *review.Item  `json:"item,omitempty"`
	Error *ErrorBody    `json:"error,omitempty"`
	State *review.State `json:"state,omitempty"`
}

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// dispatch runs one request against the reviewer and builds its result.
func (s *Server) dispatch(ctx context.Context, req Request) Message {
	res := Message{Type: TypeResult, Ref: req.Ref, Op: req.Op}

	var err error

	switch req.Op {
	case OpReload:
		err = s.reviewer.LoadInitial(ctx)
	case OpLoadMore:
		err = s.reviewer.LoadMore(ctx)
	case OpKeep:
		err = s.reviewer.Keep(ctx, req.Item)
	case OpStage:
		err = s.reviewer.StageDelete(ctx, req.Item)
	case OpRestore:
		err = s.reviewer.Restore(ctx, req.Item)
	case OpRestoreLast:
		var it review.Item

		if it, err = s.reviewer.RestoreLast(ctx); err == nil {
			res.Item = &it
		}
	case OpCommit:
		err = s.reviewer.Commit(ctx)
	default:
		res.Error = &ErrorBody{Kind: "bad_request", Message: fmt.Sprintf("unknown op %q", req.Op)}
		return res
	}

	if err != nil {
		res.Error = &ErrorBody{Kind: review.Kind(err).String(), Message: err.Error()}
		return res
	}

	res.OK = true

	return res
}
