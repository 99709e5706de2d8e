package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/domain"
)

func newReviewCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "review",
		Short: "List transactions flagged for manual review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(opts, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transactions to list")

	return cmd
}

func runReview(opts *rootOptions, limit int) error {
	ctx := opts.context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	txns, err := st.GetFlaggedTransactions(ctx, limit)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		fmt.Println("No transactions pending review.")
		return nil
	}

	fmt.Printf("Transactions pending review (%d):\n", len(txns))
	for _, t := range txns {
		fmt.Println(reviewLine(t))
	}
	return nil
}

func reviewLine(t *domain.Transaction) string {
	conf := "n/a"
	if t.Confidence != nil {
		conf = fmt.Sprintf("%.0f%%", *t.Confidence*100)
	}
	return fmt.Sprintf("  %s  %10.2f  %-18s  %-30.30s  %s",
		t.Date, t.Amount, t.AccountID, t.RawDescription, conf)
}
