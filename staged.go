package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kleen-app/kleen/internal/review"
	"github.com/kleen-app/kleen/internal/state"
)

func newStagedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "staged",
		Short: "List items staged for deletion",
		Args:  cobra.NoArgs,
		RunE:  runStaged,
	}
}

// stagedRow is one staged item as printed by `kleen staged`.
type stagedRow struct {
	ID       string    `json:"id"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	StagedAt time.Time `json:"staged_at"`
}

func runStaged(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := openSession(ctx, cc, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	entries, err := sess.Store.StagedEntries(ctx)
	if err != nil {
		return err
	}

	rows := stagedRows(sess.Manager.Snapshot().Staged, entries)

	if cc.Flags.JSON {
		return printJSON(cc.Out, rows)
	}

	printStagedText(cc.Out, rows, time.Now())

	return nil
}

// stagedRows joins the manager's staged items with their persisted staging
// times. Manager order wins.
func stagedRows(items []review.Item, entries []state.StagedEntry) []stagedRow {
	stagedAt := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		stagedAt[e.ID] = e.StagedAt
	}

	rows := make([]stagedRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, stagedRow{ID: it.ID, Size: it.Size, Created: it.Created, StagedAt: stagedAt[it.ID]})
	}

	return rows
}

func printStagedText(w io.Writer, rows []stagedRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "Nothing staged.")
		return
	}

	var total int64

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		total += r.Size
		out = append(out, []string{r.ID, formatSize(r.Size), formatAge(r.Created, now), formatAge(r.StagedAt, now)})
	}

	printTable(w, []string{"path", "size", "modified", "staged"}, out, alignLeft, alignRight)
	fmt.Fprintf(w, "%d item(s), %s\n", len(rows), formatSize(total))
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>...",
		Short: "Take items off the staged-deletion list",
		Long: `Remove one or more items from the staged-deletion list. Restored items
come back to the front of the review queue.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRestore,
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := openSession(ctx, cc, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	var failed int

	for _, id := range args {
		if err := sess.Manager.Restore(ctx, id); err != nil {
			failed++

			if review.IsMisuse(err) {
				fmt.Fprintf(cc.Err, "%s is not staged\n", id)
				continue
			}

			return fmt.Errorf("restoring %s: %w", id, err)
		}

		cc.Statusf("Restored %s\n", id)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d item(s) were not staged", failed, len(args))
	}

	return nil
}
