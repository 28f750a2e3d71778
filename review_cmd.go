package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kleen-app/kleen/internal/library"
	"github.com/kleen-app/kleen/internal/review"
)

// changeBuffer is the capacity of the channel between the library watcher
// and the reconciler.
const changeBuffer = 8

func newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review the library one item at a time",
		Long: `Show library items newest first and decide on each one.

Keys (followed by Enter):
  k  keep the item; it is never shown again
  d  stage the item for deletion
  u  undo the most recent staging
  c  commit: delete everything staged
  s  show a summary
  q  quit

Staged items survive restarts until they are committed or restored. Files
removed outside kleen while reviewing drop out of the queue automatically.`,
		RunE: runReview,
	}
}

func runReview(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	in := newLineReader(cmd.InOrStdin())

	var confirm library.ConfirmFunc
	if cc.Cfg.ConfirmDeletes {
		confirm = confirmDelete(in, cc.Out, cc.Cfg.DeleteMode)
	}

	sess, err := openSession(ctx, cc, sessionOptions{Confirm: confirm})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Manager.LoadInitial(ctx); err != nil {
		return fmt.Errorf("loading review queue: %w", err)
	}

	return runWithWatcher(ctx, cc, sess, func(ctx context.Context) error {
		return reviewLoop(ctx, sess.Manager, in, cc.Out, time.Now)
	})
}

// runWithWatcher runs fn alongside the library watcher and the reconciler.
// When fn returns, the watcher and reconciler are stopped.
func runWithWatcher(ctx context.Context, cc *CLIContext, sess *reviewSession, fn func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	changes := make(chan review.ChangeSet, changeBuffer)

	fnCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return library.NewWatcher(sess.Library, watchOptions(cc)).Run(fnCtx, changes)
	})

	g.Go(func() error {
		return sess.Manager.Run(fnCtx, changes)
	})

	g.Go(func() error {
		defer stop()
		return fn(fnCtx)
	})

	return g.Wait()
}

// reviewLoop prompts for a decision on the queue head until the user quits,
// input ends, or ctx is canceled. Operation errors are reported and the
// loop continues.
func reviewLoop(ctx context.Context, mgr *review.Manager, in *lineReader, out io.Writer, now func() time.Time) error {
	for {
		st := nextState(ctx, mgr)
		printPrompt(out, st, now())

		line, err := in.ReadLine(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(out)
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		head, hasHead := st.Head()

		switch line {
		case "":
			continue
		case "q", "quit":
			return nil
		case "s", "status":
			printSummary(out, st)
		case "k", "keep":
			if !hasHead {
				fmt.Fprintln(out, "Nothing to keep.")
				continue
			}

			reportErr(out, mgr.Keep(ctx, head.ID))
		case "d", "delete":
			if !hasHead {
				fmt.Fprintln(out, "Nothing to stage.")
				continue
			}

			if err := mgr.StageDelete(ctx, head.ID); err != nil {
				reportErr(out, err)
				continue
			}

			fmt.Fprintf(out, "Staged %s.\n", head.ID)
		case "u", "undo":
			it, err := mgr.RestoreLast(ctx)
			if err != nil {
				reportErr(out, err)
				continue
			}

			fmt.Fprintf(out, "Restored %s.\n", it.ID)
		case "c", "commit":
			commitStaged(ctx, mgr, out, st.Staged)
		default:
			fmt.Fprintf(out, "Unknown command %q. Use k, d, u, c, s, or q.\n", line)
		}
	}
}

// nextState waits for pending refills and pulls another page when the
// queue has run dry before the end of the library.
func nextState(ctx context.Context, mgr *review.Manager) review.State {
	mgr.Wait()

	st := mgr.Snapshot()
	if len(st.Queue) > 0 || st.Exhausted {
		return st
	}

	if err := mgr.LoadMore(ctx); err != nil {
		return mgr.Snapshot()
	}

	mgr.Wait()

	return mgr.Snapshot()
}

func printPrompt(out io.Writer, st review.State, now time.Time) {
	head, ok := st.Head()
	if !ok {
		if st.LastError != nil && st.LastError.Kind == review.KindFetchFailed {
			fmt.Fprintf(out, "Could not load more items: %s\n", st.LastError.Message())
		} else {
			fmt.Fprintf(out, "Nothing left to review. %d staged.\n", len(st.Staged))
		}

		fmt.Fprint(out, "[u]ndo [c]ommit [s]tatus [q]uit > ")

		return
	}

	fmt.Fprintf(out, "%s  %s  %s  (%d queued, %d staged)\n",
		head.ID, formatSize(head.Size), formatAge(head.Created, now), len(st.Queue), len(st.Staged))
	fmt.Fprint(out, "[k]eep [d]elete [u]ndo [c]ommit [s]tatus [q]uit > ")
}

func printSummary(out io.Writer, st review.State) {
	var staged int64
	for _, it := range st.Staged {
		staged += it.Size
	}

	fmt.Fprintf(out, "Queued: %d  Staged: %d (%s)  Kept: %d\n", len(st.Queue), len(st.Staged), formatSize(staged), st.Kept)

	if st.Exhausted {
		fmt.Fprintln(out, "The whole library has been loaded.")
	}
}

// commitStaged commits and reports the outcome in user terms.
func commitStaged(ctx context.Context, mgr *review.Manager, out io.Writer, staged []review.Item) {
	var total int64
	for _, it := range staged {
		total += it.Size
	}

	err := mgr.Commit(ctx)

	switch review.Kind(err) {
	case review.KindNone:
		fmt.Fprintf(out, "Deleted %d item(s), %s.\n", len(staged), formatSize(total))
	case review.KindCommitCancelled:
		fmt.Fprintln(out, "Commit cancelled. Staged items are unchanged.")
	default:
		reportErr(out, err)
	}
}

func reportErr(out io.Writer, err error) {
	switch {
	case err == nil:
		return
	case review.IsMisuse(err):
		fmt.Fprintln(out, misuseMessage(err))
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

func misuseMessage(err error) string {
	switch review.Kind(err) {
	case review.KindNothingStaged:
		return "Nothing is staged."
	case review.KindNotStaged:
		return "That item is not staged."
	default:
		return "That item is no longer in the queue."
	}
}
