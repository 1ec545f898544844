package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"githubtriage/service"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync session in the foreground and print its summary",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.NewService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.LoadRepositories(ctx); err != nil {
		return err
	}
	summary, err := svc.Sync().RunSync(ctx)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	if summary.Errors > 0 {
		return fmt.Errorf("%d sync attempts failed", summary.Errors)
	}
	return nil
}

func printSummary(out io.Writer, s *service.Summary) {
	fmt.Fprintf(out, "Session %s: %s repositories in %s\n",
		s.SessionID, humanize.Comma(int64(s.Repositories)), s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  new %s, updated %s, unchanged %s, closed %s\n",
		humanize.Comma(int64(s.Stats.New)),
		humanize.Comma(int64(s.Stats.Updated)),
		humanize.Comma(int64(s.Stats.Unchanged)),
		humanize.Comma(int64(s.Closed)))
	if s.Deferred > 0 || s.Errors > 0 || s.Retried > 0 || s.Enriched > 0 {
		fmt.Fprintf(out, "  deferred %d, errors %d, retried %d, enriched %d\n", s.Deferred, s.Errors, s.Retried, s.Enriched)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tTYPE\tSTATUS\tNEW\tUPDATED\tTOTAL\tCLOSED\tERROR")
	for _, h := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			h.Repo, h.SyncType, h.Status, h.NewCount, h.UpdatedCount, h.TotalCount, h.ClosedCount, h.ErrorMessage)
	}
	tw.Flush()
}

// withTimeout bounds one-shot database commands.
func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
