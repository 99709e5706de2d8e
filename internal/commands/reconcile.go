package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/domain"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare statement balances against computed running balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, account)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "reconcile a single account instead of all")

	return cmd
}

func runReconcile(opts *rootOptions, account string) error {
	ctx := opts.context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	accounts := []string{account}
	if account == "" {
		accounts = accounts[:0]
		for _, a := range cfg.Accounts {
			accounts = append(accounts, a.ID)
		}
	}

	discrepancies := 0
	for _, id := range accounts {
		rec, err := st.GetReconciliation(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(reconcileLine(id, rec))
		if rec != nil && !rec.Balanced {
			discrepancies++
		}
	}

	if discrepancies > 0 {
		return fmt.Errorf("%d account(s) have balance discrepancies", discrepancies)
	}
	return nil
}

// reconcileLine renders one account's reconciliation result. A nil
// result means the account never reported a statement balance.
func reconcileLine(accountID string, rec *domain.Reconciliation) string {
	if rec == nil {
		return fmt.Sprintf("  %-20s  No balance data", accountID)
	}
	marker := "OK"
	if !rec.Balanced {
		marker = "MISMATCH"
	}
	return fmt.Sprintf("  %-20s  [%s]  statement=%.2f  computed=%.2f  diff=%.2f  as of %s",
		accountID, marker, rec.StatementBalance, rec.ComputedBalance, rec.Difference, rec.Date)
}
