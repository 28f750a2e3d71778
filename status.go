package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kleen-app/kleen/internal/review"
	"github.com/kleen-app/kleen/internal/state"
)

// recentCommitLimit is how many commit attempts status shows.
const recentCommitLimit = 5

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library size, decisions, and recent commits",
		Long: `Display the library being reviewed, how many items have been kept or
staged, and the outcome of the most recent commits.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the JSON shape of `kleen status --json`.
type statusReport struct {
	Library     string                `json:"library"`
	StateDir    string                `json:"state_dir"`
	DeleteMode  string                `json:"delete_mode"`
	Items       int                   `json:"items"`
	Kept        int                   `json:"kept"`
	Staged      int                   `json:"staged"`
	StagedBytes int64                 `json:"staged_bytes"`
	Commits     int                   `json:"commits"`
	Recent      []review.CommitRecord `json:"recent_commits"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := openSession(ctx, cc, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	size, err := sess.Library.Size(ctx)
	if err != nil {
		return fmt.Errorf("reading library size: %w", err)
	}

	counts, err := sess.Store.Counts(ctx)
	if err != nil {
		return err
	}

	recent, err := sess.Store.RecentCommits(ctx, recentCommitLimit)
	if err != nil {
		return err
	}

	report := buildStatusReport(cc, size, counts, sess.Manager.Snapshot(), recent)

	if cc.Flags.JSON {
		return printJSON(cc.Out, report)
	}

	printStatusText(cc.Out, report, time.Now())

	return nil
}

func buildStatusReport(cc *CLIContext, size int, counts state.Counts, st review.State, recent []review.CommitRecord) statusReport {
	r := statusReport{
		Library:    cc.Cfg.LibraryDir,
		StateDir:   cc.Cfg.StateDir,
		DeleteMode: cc.Cfg.DeleteMode,
		Items:      size,
		Kept:       counts.Kept,
		Staged:     len(st.Staged),
		Commits:    counts.Commits,
		Recent:     recent,
	}

	if r.Recent == nil {
		r.Recent = []review.CommitRecord{}
	}

	for _, it := range st.Staged {
		r.StagedBytes += it.Size
	}

	return r
}

func printStatusText(w io.Writer, r statusReport, now time.Time) {
	fmt.Fprintf(w, "Library:     %s\n", r.Library)
	fmt.Fprintf(w, "Items:       %d\n", r.Items)
	fmt.Fprintf(w, "Kept:        %d\n", r.Kept)
	fmt.Fprintf(w, "Staged:      %d (%s)\n", r.Staged, formatSize(r.StagedBytes))
	fmt.Fprintf(w, "Delete mode: %s\n", r.DeleteMode)

	if len(r.Recent) == 0 {
		fmt.Fprintln(w, "No commits yet.")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(r.Recent))
	for _, c := range r.Recent {
		rows = append(rows, []string{
			formatAge(c.Finished, now),
			c.Outcome,
			fmt.Sprintf("%d", c.Items),
			formatSize(c.Bytes),
			c.Reason,
		})
	}

	printTable(w, []string{"when", "outcome", "items", "size", "reason"}, rows,
		alignLeft, alignLeft, alignRight, alignRight, alignLeft)
}
