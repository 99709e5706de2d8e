package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/notionsync"
)

// Notion's API is slow on large databases; cap the whole sync.
const syncTimeout = 10 * time.Minute

func newSyncNotionCommand(opts *rootOptions) *cobra.Command {
	var startDate, endDate string
	var token, databaseID string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync-notion",
		Short: "Mirror a date range of transactions into a Notion database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncNotion(opts, startDate, endDate, token, databaseID, dryRun)
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "start of the range, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("start-date")
	cmd.Flags().StringVar(&endDate, "end-date", "", "end of the range, YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&token, "notion-token", "", "Notion integration token (defaults to NOTION_TOKEN)")
	cmd.Flags().StringVar(&databaseID, "notion-db-id", "", "Notion database ID (required)")
	_ = cmd.MarkFlagRequired("notion-db-id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing to Notion")

	return cmd
}

func runSyncNotion(opts *rootOptions, startDate, endDate, token, databaseID string, dryRun bool) error {
	ctx, cancel := context.WithTimeout(opts.context(), syncTimeout)
	defer cancel()

	start, err := civil.ParseDate(startDate)
	if err != nil {
		return fmt.Errorf("invalid --start-date %q: %w", startDate, err)
	}
	end := civil.DateOf(time.Now())
	if endDate != "" {
		end, err = civil.ParseDate(endDate)
		if err != nil {
			return fmt.Errorf("invalid --end-date %q: %w", endDate, err)
		}
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", end, start)
	}

	if token == "" {
		token = os.Getenv("NOTION_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no Notion token: use --notion-token or NOTION_TOKEN")
	}

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	syncer := notionsync.NewSyncer(st, notionsync.NewNotionClient(token), databaseID)
	stats, err := syncer.SyncTransactions(ctx, start, end, dryRun)
	if err != nil {
		return err
	}

	prefix := ""
	if dryRun {
		prefix = "[dry run] "
	}
	fmt.Printf("%s%d transactions: %d created, %d updated, %d archived\n",
		prefix, stats.Total, stats.Created, stats.Updated, stats.Deleted)
	return nil
}
