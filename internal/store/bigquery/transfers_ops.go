package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/store"
)

// InsertTransfer links two transactions. Returns store.ErrTransferExists
// when either transaction is already part of a transfer; the existing
// link is left untouched.
func (s *Store) InsertTransfer(ctx context.Context, xfer *domain.Transfer) error {
	for _, id := range []string{xfer.FromTransactionID, xfer.ToTransactionID} {
		existing, err := s.GetTransferByTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("InsertTransfer: checking existing link: %w", err)
		}
		if existing != nil {
			return store.ErrTransferExists
		}
	}

	query := fmt.Sprintf(`
		INSERT %s.%s (
			transfer_id,
			from_transaction_id,
			to_transaction_id,
			transfer_type,
			match_method,
			confidence,
			created_ts
		)
		VALUES (
			@transfer_id,
			@from_transaction_id,
			@to_transaction_id,
			@transfer_type,
			@match_method,
			@confidence,
			@created_ts
		)
	`, s.dataset, transfersTable)

	params := []bigquery.QueryParameter{
		{Name: "transfer_id", Value: xfer.ID},
		{Name: "from_transaction_id", Value: xfer.FromTransactionID},
		{Name: "to_transaction_id", Value: xfer.ToTransactionID},
		{Name: "transfer_type", Value: xfer.TransferType},
		{Name: "match_method", Value: xfer.MatchMethod},
		{Name: "confidence", Value: nullFloatPtr(xfer.Confidence)},
		{Name: "created_ts", Value: xfer.CreatedAt},
	}
	return s.runDML(ctx, "InsertTransfer", query, params)
}

// GetTransferByTransaction finds the transfer a transaction participates
// in, on either side. Returns nil when there is none.
func (s *Store) GetTransferByTransaction(ctx context.Context, txnID string) (*domain.Transfer, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			transfer_id,
			from_transaction_id,
			to_transaction_id,
			transfer_type,
			match_method,
			confidence,
			created_ts
		FROM %s.%s
		WHERE from_transaction_id = @transaction_id
		   OR to_transaction_id = @transaction_id
		LIMIT 1
	`, s.dataset, transfersTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: txnID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTransferByTransaction: query read: %w", err)
	}

	var r TransferRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransferByTransaction: iter next: %w", err)
	}
	return r.toDomain(), nil
}

// FindTransferCandidates returns unlinked transactions in other accounts
// whose amount offsets the given transaction within a cent, dated within
// the given window, closest date first.
func (s *Store) FindTransferCandidates(ctx context.Context, txn *domain.Transaction, days int) ([]*domain.Transaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %[1]s
		FROM %[2]s.%[3]s AS t
		WHERE t.account_id != @account_id
		  AND ABS(t.amount + @amount) < 0.01
		  AND t.date BETWEEN DATE_SUB(@date, INTERVAL @days DAY)
		                 AND DATE_ADD(@date, INTERVAL @days DAY)
		  AND t.transaction_id != @transaction_id
		  AND NOT EXISTS (
			SELECT 1 FROM %[2]s.%[4]s x
			WHERE x.from_transaction_id = t.transaction_id
			   OR x.to_transaction_id = t.transaction_id
		  )
		ORDER BY ABS(DATE_DIFF(t.date, @date, DAY))
	`, prefixedTransactionColumns("t"), s.dataset, transactionsTable, transfersTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: txn.AccountID},
		{Name: "amount", Value: txn.Amount},
		{Name: "date", Value: txn.Date},
		{Name: "days", Value: int64(days)},
		{Name: "transaction_id", Value: txn.ID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindTransferCandidates: query read: %w", err)
	}

	var out []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindTransferCandidates: iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}
