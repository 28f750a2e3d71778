package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kleen-app/kleen/internal/observe"
	"github.com/kleen-app/kleen/internal/review"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow library changes and reconcile the review state",
		Long: `Load the review queue and keep it consistent with the library until
interrupted. Files removed outside kleen are dropped from the queue and the
staged list, and each reconciliation is logged.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	sess, err := openSession(ctx, cc, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Manager.LoadInitial(ctx); err != nil {
		return fmt.Errorf("loading review queue: %w", err)
	}

	return runWithWatcher(ctx, cc, sess, func(ctx context.Context) error {
		logStates(ctx, sess.Manager, cc.Logger)
		return nil
	})
}

// logStates logs a summary line for each published state until ctx is done.
func logStates(ctx context.Context, mgr *review.Manager, logger *slog.Logger) {
	states, cancel := mgr.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}

			logger.Info("review state",
				slog.Int("queued", len(st.Queue)),
				slog.Int("staged", len(st.Staged)),
				slog.Int("kept", st.Kept),
				slog.Int("offset", st.Cursor.Offset),
				slog.Bool("exhausted", st.Exhausted),
			)
		}
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve review state and operations over a websocket",
		Long: `Start an HTTP server exposing the review manager. GET /state returns the
current state as JSON; GET /ws upgrades to a websocket that streams every
state change and accepts operation requests.

Commits requested over the websocket are not confirmed on the terminal; the
client is expected to confirm with the user first.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (overrides listen_addr)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	addr := cc.Cfg.ListenAddr
	if cmd.Flags().Changed("listen") {
		addr, _ = cmd.Flags().GetString("listen")
	}

	sess, err := openSession(ctx, cc, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Manager.LoadInitial(ctx); err != nil {
		return fmt.Errorf("loading review queue: %w", err)
	}

	srv := observe.NewServer(sess.Manager, cc.Logger)

	return runWithWatcher(ctx, cc, sess, func(ctx context.Context) error {
		return srv.ListenAndServe(ctx, addr)
	})
}
