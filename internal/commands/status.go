package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show transaction counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}
	return cmd
}

func runStatus(opts *rootOptions) error {
	ctx := opts.context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Transactions:  %d\n", counts.TotalTransactions)
	fmt.Printf("  categorized: %d\n", counts.Categorized)
	fmt.Printf("  pending:     %d\n", counts.Pending)
	fmt.Printf("  flagged:     %d\n", counts.Flagged)
	fmt.Printf("Transfers:     %d\n", counts.Transfers)
	fmt.Printf("Imports:       %d\n", counts.Imports)

	month := time.Now().Format("2006-01")
	cost, err := st.GetMonthlyCost(ctx, month)
	if err != nil {
		return err
	}
	fmt.Println(costLine(month, cost))
	return nil
}

func costLine(month string, cents int) string {
	return fmt.Sprintf("API cost (%s): $%.2f", month, float64(cents)/100)
}
