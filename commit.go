package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kleen-app/kleen/internal/library"
	"github.com/kleen-app/kleen/internal/review"
)

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Delete all staged items",
		Long: `Delete every staged item in one all-or-nothing pass. With delete_mode =
"trash" files go to the system trash; with "permanent" they are removed.

Unless --yes is given (or confirm_deletes is false) the items are listed and
you are asked to confirm. Declining leaves the staged list unchanged.`,
		Args: cobra.NoArgs,
		RunE: runCommit,
	}

	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func runCommit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	var confirm library.ConfirmFunc
	if cc.Cfg.ConfirmDeletes && !yes {
		confirm = confirmDelete(newLineReader(cmd.InOrStdin()), cc.Err, cc.Cfg.DeleteMode)
	}

	sess, err := openSession(ctx, cc, sessionOptions{Confirm: confirm})
	if err != nil {
		return err
	}
	defer sess.Close()

	staged := sess.Manager.Snapshot().Staged
	if len(staged) == 0 {
		cc.Statusf("Nothing staged.\n")
		return nil
	}

	var total int64
	for _, it := range staged {
		total += it.Size
	}

	err = sess.Manager.Commit(ctx)

	switch review.Kind(err) {
	case review.KindNone:
		cc.Statusf("Deleted %d item(s), %s.\n", len(staged), formatSize(total))
		return nil
	case review.KindCommitCancelled:
		cc.Statusf("Commit cancelled. Staged items are unchanged.\n")
		return nil
	default:
		return fmt.Errorf("committing staged deletions: %w", err)
	}
}
