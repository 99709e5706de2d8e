package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
)

var transactionColumnNames = []string{
	"transaction_id",
	"account_id",
	"date",
	"amount",
	"raw_description",
	"normalized_description",
	"memo",
	"txn_type",
	"check_num",
	"balance",
	"external_id",
	"import_id",
	"import_hash",
	"dedup_key",
	"source",
	"status",
	"confidence",
	"categorization_method",
	"receipt_lookup_status",
	"created_ts",
	"updated_ts",
}

var transactionColumns = strings.Join(transactionColumnNames, ", ")

func prefixedTransactionColumns(alias string) string {
	cols := make([]string, len(transactionColumnNames))
	for i, c := range transactionColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// InsertTransactions writes a batch of transactions. Rows go in one DML
// statement at a time so that status updates in the same run are not
// blocked by the streaming buffer.
func (s *Store) InsertTransactions(ctx context.Context, txns []*domain.Transaction) error {
	for _, t := range txns {
		r := transactionRow(t)
		query := fmt.Sprintf(`
			INSERT %s.%s (%s)
			VALUES (
				@transaction_id, @account_id, @date, @amount,
				@raw_description, @normalized_description, @memo, @txn_type,
				@check_num, @balance, @external_id,
				@import_id, @import_hash, @dedup_key, @source,
				@status, @confidence, @categorization_method, @receipt_lookup_status,
				@created_ts, NULL
			)
		`, s.dataset, transactionsTable, transactionColumns)

		params := []bigquery.QueryParameter{
			{Name: "transaction_id", Value: r.TransactionID},
			{Name: "account_id", Value: r.AccountID},
			{Name: "date", Value: r.Date},
			{Name: "amount", Value: r.Amount},
			{Name: "raw_description", Value: r.RawDescription},
			{Name: "normalized_description", Value: r.NormalizedDescription},
			{Name: "memo", Value: r.Memo},
			{Name: "txn_type", Value: r.TxnType},
			{Name: "check_num", Value: r.CheckNum},
			{Name: "balance", Value: r.Balance},
			{Name: "external_id", Value: r.ExternalID},
			{Name: "import_id", Value: r.ImportID},
			{Name: "import_hash", Value: r.ImportHash},
			{Name: "dedup_key", Value: r.DedupKey},
			{Name: "source", Value: r.Source},
			{Name: "status", Value: r.Status},
			{Name: "confidence", Value: r.Confidence},
			{Name: "categorization_method", Value: r.CategorizationMethod},
			{Name: "receipt_lookup_status", Value: r.ReceiptLookupStatus},
			{Name: "created_ts", Value: r.CreatedTS},
		}
		if err := s.runDML(ctx, "InsertTransactions", query, params); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, op, where, order string, params []bigquery.QueryParameter, limit int) ([]*domain.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s", transactionColumns, s.dataset, transactionsTable, where)
	if order != "" {
		query += " ORDER BY " + order
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var out []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetTransaction fetches a single transaction by ID. Returns nil when
// the transaction does not exist.
func (s *Store) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	rows, err := s.queryTransactions(ctx, "GetTransaction", "transaction_id = @transaction_id", "", []bigquery.QueryParameter{
		{Name: "transaction_id", Value: txnID},
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetTransactionByExternalID finds a transaction by bank-assigned ID
// within one account. Returns nil when none exists.
func (s *Store) GetTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, nil
	}
	rows, err := s.queryTransactions(ctx, "GetTransactionByExternalID",
		"account_id = @account_id AND external_id = @external_id", "created_ts",
		[]bigquery.QueryParameter{
			{Name: "account_id", Value: accountID},
			{Name: "external_id", Value: externalID},
		}, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetTransactionsByImportHash returns all transactions sharing a content
// fingerprint.
func (s *Store) GetTransactionsByImportHash(ctx context.Context, importHash string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByImportHash", "import_hash = @import_hash", "created_ts",
		[]bigquery.QueryParameter{{Name: "import_hash", Value: importHash}}, 0)
}

// GetTransactionsByDedupKey returns all transactions sharing an
// account/date/amount key.
func (s *Store) GetTransactionsByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByDedupKey", "dedup_key = @dedup_key", "created_ts",
		[]bigquery.QueryParameter{{Name: "dedup_key", Value: dedupKey}}, 0)
}

// GetTransactionsByAccountAndDate returns all transactions for one
// account on one day.
func (s *Store) GetTransactionsByAccountAndDate(ctx context.Context, accountID string, date civil.Date) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByAccountAndDate",
		"account_id = @account_id AND date = @date", "created_ts",
		[]bigquery.QueryParameter{
			{Name: "account_id", Value: accountID},
			{Name: "date", Value: date},
		}, 0)
}

// GetTransactionsByDateRange returns all transactions posted between
// start and end inclusive, oldest first.
func (s *Store) GetTransactionsByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByDateRange",
		"date >= @start_date AND date <= @end_date", "date, created_ts",
		[]bigquery.QueryParameter{
			{Name: "start_date", Value: start},
			{Name: "end_date", Value: end},
		}, 0)
}

// GetPendingTransactions returns transactions awaiting categorization,
// oldest first. A limit of 0 means no limit.
func (s *Store) GetPendingTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetPendingTransactions", "status = @status", "date, created_ts",
		[]bigquery.QueryParameter{{Name: "status", Value: domain.StatusPending}}, limit)
}

// GetFlaggedTransactions returns transactions awaiting manual review,
// newest first. A limit of 0 means no limit.
func (s *Store) GetFlaggedTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetFlaggedTransactions", "status = @status", "date DESC, created_ts DESC",
		[]bigquery.QueryParameter{{Name: "status", Value: domain.StatusFlagged}}, limit)
}

// UpdateTransactionStatus sets status, confidence and categorization
// method on one transaction.
func (s *Store) UpdateTransactionStatus(ctx context.Context, txnID, status string, confidence *float64, method string) error {
	query := fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    confidence = @confidence,
		    categorization_method = @categorization_method,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id
	`, s.dataset, transactionsTable)

	params := []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "confidence", Value: nullFloatPtr(confidence)},
		{Name: "categorization_method", Value: nullStr(method)},
		{Name: "transaction_id", Value: txnID},
	}
	return s.runDML(ctx, "UpdateTransactionStatus", query, params)
}

// SetReceiptLookupStatus records the outcome of a receipt email lookup.
func (s *Store) SetReceiptLookupStatus(ctx context.Context, txnID, status string) error {
	query := fmt.Sprintf(`
		UPDATE %s.%s
		SET receipt_lookup_status = @receipt_lookup_status,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @transaction_id
	`, s.dataset, transactionsTable)

	params := []bigquery.QueryParameter{
		{Name: "receipt_lookup_status", Value: status},
		{Name: "transaction_id", Value: txnID},
	}
	return s.runDML(ctx, "SetReceiptLookupStatus", query, params)
}
