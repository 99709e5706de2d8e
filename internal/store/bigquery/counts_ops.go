package bigquery

import (
	"context"
	"fmt"

	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
)

// GetStatusCounts aggregates the dashboard counters in one query.
func (s *Store) GetStatusCounts(ctx context.Context) (*domain.StatusCounts, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %[1]s.%[2]s) AS total_txns,
			(SELECT COUNT(*) FROM %[1]s.%[2]s WHERE status = 'categorized') AS categorized,
			(SELECT COUNT(*) FROM %[1]s.%[2]s WHERE status = 'pending') AS pending,
			(SELECT COUNT(*) FROM %[1]s.%[2]s WHERE status = 'flagged') AS flagged,
			(SELECT COUNT(*) FROM %[1]s.%[3]s) AS transfers,
			(SELECT COUNT(*) FROM %[1]s.%[4]s) AS imports
	`, s.dataset, transactionsTable, transfersTable, importsTable))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetStatusCounts: query read: %w", err)
	}

	var row struct {
		TotalTxns   int64 `bigquery:"total_txns"`
		Categorized int64 `bigquery:"categorized"`
		Pending     int64 `bigquery:"pending"`
		Flagged     int64 `bigquery:"flagged"`
		Transfers   int64 `bigquery:"transfers"`
		Imports     int64 `bigquery:"imports"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return &domain.StatusCounts{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetStatusCounts: iter next: %w", err)
	}

	return &domain.StatusCounts{
		TotalTransactions: int(row.TotalTxns),
		Categorized:       int(row.Categorized),
		Pending:           int(row.Pending),
		Flagged:           int(row.Flagged),
		Transfers:         int(row.Transfers),
		Imports:           int(row.Imports),
	}, nil
}
