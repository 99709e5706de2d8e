package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
)

// InsertAllocation appends one category allocation.
func (s *Store) InsertAllocation(ctx context.Context, alloc *domain.Allocation) error {
	row := &AllocationRow{
		AllocationID:  alloc.ID,
		TransactionID: alloc.TransactionID,
		CategoryID:    alloc.CategoryID,
		Amount:        alloc.Amount,
		Memo:          nullStr(alloc.Memo),
		Tags:          nullStr(alloc.Tags),
		Source:        alloc.Source,
		Confidence:    nullFloatPtr(alloc.Confidence),
		CreatedTS:     alloc.CreatedAt,
	}
	inserter := s.table(allocationsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertAllocation: inserting row: %w", err)
	}
	return nil
}

// GetAllocationsByTransaction returns the allocations of one transaction
// in insertion order.
func (s *Store) GetAllocationsByTransaction(ctx context.Context, txnID string) ([]*domain.Allocation, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			allocation_id,
			transaction_id,
			category_id,
			amount,
			memo,
			tags,
			source,
			confidence,
			created_ts
		FROM %s.%s
		WHERE transaction_id = @transaction_id
		ORDER BY created_ts
	`, s.dataset, allocationsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: txnID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAllocationsByTransaction: query read: %w", err)
	}

	var out []*domain.Allocation
	for {
		var r AllocationRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("GetAllocationsByTransaction: iter next: %w", err)
		}
		alloc := &domain.Allocation{
			ID:            r.AllocationID,
			TransactionID: r.TransactionID,
			CategoryID:    r.CategoryID,
			Amount:        r.Amount,
			Memo:          r.Memo.StringVal,
			Tags:          r.Tags.StringVal,
			Source:        r.Source,
			CreatedAt:     r.CreatedTS,
		}
		if r.Confidence.Valid {
			v := r.Confidence.Float64
			alloc.Confidence = &v
		}
		out = append(out, alloc)
	}
	return out, nil
}

// InsertReceiptMatch records a matched receipt email.
func (s *Store) InsertReceiptMatch(ctx context.Context, m *domain.ReceiptMatch) error {
	row := &ReceiptMatchRow{
		MatchID:        m.ID,
		TransactionID:  m.TransactionID,
		GmailMessageID: m.GmailMessageID,
		MatchType:      m.MatchType,
		MatchedItems:   m.MatchedItems,
		Confidence:     m.Confidence,
		CreatedTS:      m.CreatedAt,
	}
	inserter := s.table(receiptsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertReceiptMatch: inserting row: %w", err)
	}
	return nil
}

// GetHistoricalCategoryCounts aggregates how categorized transactions
// with the given normalized description were allocated, grouped by
// category and amount, with user-set allocations broken out.
func (s *Store) GetHistoricalCategoryCounts(ctx context.Context, normalizedDescription string) ([]domain.CategoryCount, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			a.category_id AS category_id,
			ROUND(t.amount, 2) AS amount,
			COUNT(*) AS cnt,
			COUNTIF(a.source = @user_source) AS user_cnt
		FROM %[1]s.%[2]s t
		INNER JOIN %[1]s.%[3]s a
		  ON a.transaction_id = t.transaction_id
		WHERE t.normalized_description = @normalized_description
		  AND t.status = @status
		GROUP BY category_id, amount
		ORDER BY cnt DESC
	`, s.dataset, transactionsTable, allocationsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "normalized_description", Value: normalizedDescription},
		{Name: "status", Value: domain.StatusCategorized},
		{Name: "user_source", Value: domain.SourceUser},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetHistoricalCategoryCounts: query read: %w", err)
	}

	var out []domain.CategoryCount
	for {
		var r categoryCountRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("GetHistoricalCategoryCounts: iter next: %w", err)
		}
		out = append(out, domain.CategoryCount{
			CategoryID: r.CategoryID,
			Amount:     r.Amount,
			Count:      int(r.Cnt),
			UserCount:  int(r.UserCnt),
		})
	}
	return out, nil
}
