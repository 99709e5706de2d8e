package bigquery

import (
	"context"
	"fmt"
	"math"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
)

// GetReconciliation compares the account's most recent statement balance
// against the running sum of its transactions up to that date. Transfer
// participants are excluded from the sum. Returns nil when the account
// has no balance data.
func (s *Store) GetReconciliation(ctx context.Context, accountID string) (*domain.Reconciliation, error) {
	query := fmt.Sprintf(`
		WITH last_balance AS (
			SELECT date, balance
			FROM %[1]s.%[2]s
			WHERE account_id = @account_id AND balance IS NOT NULL
			ORDER BY date DESC, created_ts DESC
			LIMIT 1
		)
		SELECT
			lb.date AS balance_date,
			lb.balance AS statement_balance,
			(
				SELECT COALESCE(SUM(t.amount), 0)
				FROM %[1]s.%[2]s t
				WHERE t.account_id = @account_id
				  AND t.date <= lb.date
				  AND NOT EXISTS (
					SELECT 1 FROM %[1]s.%[3]s tr
					WHERE tr.from_transaction_id = t.transaction_id
					   OR tr.to_transaction_id = t.transaction_id
				  )
			) AS computed_balance
		FROM last_balance lb
	`, s.dataset, transactionsTable, transfersTable)

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetReconciliation: query read: %w", err)
	}

	var row struct {
		BalanceDate      civil.Date `bigquery:"balance_date"`
		StatementBalance float64    `bigquery:"statement_balance"`
		ComputedBalance  float64    `bigquery:"computed_balance"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReconciliation: iter next: %w", err)
	}

	diff := math.Abs(row.ComputedBalance - row.StatementBalance)
	return &domain.Reconciliation{
		AccountID:        accountID,
		Date:             row.BalanceDate,
		StatementBalance: row.StatementBalance,
		ComputedBalance:  row.ComputedBalance,
		Difference:       diff,
		Balanced:         diff < 0.01,
	}, nil
}
