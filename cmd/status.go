package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"githubtriage/db"
	"githubtriage/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync metadata, recent errors and cached item counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// openDatabase opens storage for one-shot commands.
func openDatabase(ctx context.Context) (*db.DB, error) {
	database, err := db.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	last, err := database.LastSyncTime(ctx)
	if err != nil {
		return err
	}
	meta, err := database.ListSyncMetadata(ctx)
	if err != nil {
		return err
	}
	counts, err := database.CountItems(ctx)
	if err != nil {
		return err
	}
	errs, err := database.RecentErrors(ctx, 5)
	if err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), time.Now(), last, meta, counts, errs)
	return nil
}

func printStatus(out io.Writer, now time.Time, last *time.Time, meta []models.SyncMetadata, counts []models.ItemCount, errs []models.SyncHistory) {
	if last == nil {
		fmt.Fprintln(out, "Last sync: never")
	} else {
		fmt.Fprintf(out, "Last sync: %s (%s)\n", last.Format(time.RFC3339), humanize.RelTime(*last, now, "ago", "from now"))
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nREPOSITORY\tTYPE\tSTATUS\tCURSOR\tLAST SUCCESS\tITEMS")
	for _, m := range meta {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Repo, m.SyncType, m.Status, formatTime(m.Cursor, now), formatTime(m.LastSuccessAt, now),
			humanize.Comma(int64(m.ItemsSynced)))
	}
	tw.Flush()

	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nREPOSITORY\tTYPE\tSTATE\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Repo, c.SyncType, c.State, humanize.Comma(int64(c.Count)))
	}
	tw.Flush()

	if len(errs) > 0 {
		fmt.Fprintln(out, "\nRecent errors:")
		for _, h := range errs {
			fmt.Fprintf(out, "  %s %s %s: %s\n", humanize.RelTime(h.StartedAt, now, "ago", "from now"), h.Repo, h.SyncType, h.ErrorMessage)
		}
	}
}

func formatTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}
