package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// IncrementAPIUsage adds request and cost counts to the month/service
// accumulator, creating the row on first use.
func (s *Store) IncrementAPIUsage(ctx context.Context, month, service string, requests, costCents int) error {
	query := fmt.Sprintf(`
		MERGE %s.%s u
		USING (SELECT @month AS month, @service AS service) src
		ON u.month = src.month AND u.service = src.service
		WHEN MATCHED THEN UPDATE SET
			request_count = u.request_count + @requests,
			estimated_cost_cents = u.estimated_cost_cents + @cost_cents
		WHEN NOT MATCHED THEN INSERT (month, service, request_count, estimated_cost_cents)
			VALUES (@month, @service, @requests, @cost_cents)
	`, s.dataset, usageTable)

	params := []bigquery.QueryParameter{
		{Name: "month", Value: month},
		{Name: "service", Value: service},
		{Name: "requests", Value: int64(requests)},
		{Name: "cost_cents", Value: int64(costCents)},
	}
	return s.runDML(ctx, "IncrementAPIUsage", query, params)
}

// GetMonthlyCost sums the estimated cost in cents across all services
// for one month.
func (s *Store) GetMonthlyCost(ctx context.Context, month string) (int, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT COALESCE(SUM(estimated_cost_cents), 0) AS total
		FROM %s.%s
		WHERE month = @month
	`, s.dataset, usageTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "month", Value: month},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("GetMonthlyCost: query read: %w", err)
	}

	var row struct {
		Total int64 `bigquery:"total"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("GetMonthlyCost: iter next: %w", err)
	}
	return int(row.Total), nil
}
