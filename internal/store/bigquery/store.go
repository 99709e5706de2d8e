package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/momoney/internal/store"
)

const (
	transactionsTable = "transactions"
	importsTable      = "imports"
	allocationsTable  = "allocations"
	transfersTable    = "transfers"
	receiptsTable     = "receipt_matches"
	usageTable        = "api_usage"
)

// Store implements store.Store on a BigQuery dataset.
type Store struct {
	client  *bigquery.Client
	dataset string
}

// New creates a BigQuery-backed store. The caller owns the client passed
// via NewWithClient; New creates its own.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: bigquery client: %w", err)
	}
	return NewWithClient(client, datasetID), nil
}

// NewWithClient wraps an existing BigQuery client.
func NewWithClient(client *bigquery.Client, datasetID string) *Store {
	return &Store{client: client, dataset: datasetID}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) table(name string) *bigquery.Table {
	return s.client.Dataset(s.dataset).Table(name)
}

// runDML executes a parameterized DML statement and waits for the job.
func (s *Store) runDML(ctx context.Context, op, query string, params []bigquery.QueryParameter) error {
	q := s.client.Query(query)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
