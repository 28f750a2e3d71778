// Package observe serves the review manager's published state over a
// websocket. Each connection receives a state message after every change and
// may send operation requests, which are answered with a result message.
// GET /state returns the latest snapshot as plain JSON.
package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kleen-app/kleen/internal/review"
)

const (
	writeTimeout      = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxRequestSize    = 64 * 1024
	resultBuffer      = 16
)

var errSubscriptionClosed = errors.New("observe: state subscription closed")

// Reviewer is the part of review.Manager the server drives.
type Reviewer interface {
	Snapshot() review.State
	Subscribe() (<-chan review.State, func())
	LoadInitial(ctx context.Context) error
	LoadMore(ctx context.Context) error
	Keep(ctx context.Context, id string) error
	StageDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	RestoreLast(ctx context.Context) (review.Item, error)
	Commit(ctx context.Context) error
}

// Server exposes a Reviewer over HTTP and websocket.
type Server struct {
	reviewer Reviewer
	logger   *slog.Logger
}

// NewServer creates a Server for reviewer.
func NewServer(reviewer Reviewer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{reviewer: reviewer, logger: logger}
}

// Handler returns the HTTP handler serving /ws and /state.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /state", s.handleState)

	return mux
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observe: listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("state server listening", slog.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observe: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(s.reviewer.Snapshot()); err != nil {
		s.logger.Warn("writing state response", slog.String("error", err.Error()))
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	conn.SetReadLimit(maxRequestSize)

	connID := uuid.NewString()[:8]
	logger := s.logger.With(slog.String("conn", connID))

	logger.Debug("websocket client connected", slog.String("remote", r.RemoteAddr))

	err = s.serveConn(r.Context(), conn, logger)

	switch status := websocket.CloseStatus(err); {
	case err == nil, status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway,
		errors.Is(err, errSubscriptionClosed), errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		conn.Close(websocket.StatusNormalClosure, "")
		logger.Debug("websocket client disconnected")
	default:
		conn.Close(websocket.StatusInternalError, "")
		logger.Warn("websocket connection failed", slog.String("error", err.Error()))
	}
}

// serveConn runs a reader and a writer for one connection. The writer owns
// every write to conn; the reader hands results to it over a channel.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) error {
	states, unsubscribe := s.reviewer.Subscribe()
	defer unsubscribe()

	results := make(chan Message, resultBuffer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return writeLoop(gctx, conn, states, results)
	})

	g.Go(func() error {
		for {
			var req Request
			if err := wsjson.Read(gctx, conn, &req); err != nil {
				return err
			}

			logger.Debug("request received", slog.String("op", req.Op), slog.String("item", req.Item))

			select {
			case results <- s.dispatch(gctx, req):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

func writeLoop(ctx context.Context, conn *websocket.Conn, states <-chan review.State, results <-chan Message) error {
	for {
		var msg Message

		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-states:
			if !ok {
				return errSubscriptionClosed
			}

			msg = Message{Type: TypeState, State: &st}

		case msg = <-results:
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, conn, msg)
		cancel()

		if err != nil {
			return err
		}
	}
}
