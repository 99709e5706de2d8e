package bigquery

import (
	"context"
	"fmt"
)

// tableDDL maps table name to its CREATE TABLE body. %[1]s is the
// dataset. Statements are idempotent so EnsureSchema can run on every
// deploy.
var tableDDL = map[string]string{
	transactionsTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.transactions (
			transaction_id        STRING NOT NULL,
			account_id            STRING NOT NULL,
			date                  DATE NOT NULL,
			amount                FLOAT64 NOT NULL,
			raw_description       STRING NOT NULL,
			normalized_description STRING NOT NULL,
			memo                  STRING,
			txn_type              STRING,
			check_num             STRING,
			balance               FLOAT64,
			external_id           STRING,
			import_id             STRING NOT NULL,
			import_hash           STRING NOT NULL,
			dedup_key             STRING NOT NULL,
			source                STRING NOT NULL,
			status                STRING NOT NULL,
			confidence            FLOAT64,
			categorization_method STRING,
			receipt_lookup_status STRING,
			created_ts            TIMESTAMP NOT NULL,
			updated_ts            TIMESTAMP
		)
		PARTITION BY date
		CLUSTER BY account_id
	`,
	importsTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.imports (
			import_id     STRING NOT NULL,
			file_name     STRING NOT NULL,
			file_hash     STRING NOT NULL,
			file_size     INT64 NOT NULL,
			account_id    STRING NOT NULL,
			status        STRING NOT NULL,
			record_count  INT64,
			error_message STRING,
			created_ts    TIMESTAMP NOT NULL,
			completed_ts  TIMESTAMP
		)
	`,
	allocationsTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.allocations (
			allocation_id  STRING NOT NULL,
			transaction_id STRING NOT NULL,
			category_id    STRING NOT NULL,
			amount         FLOAT64 NOT NULL,
			memo           STRING,
			tags           STRING,
			source         STRING NOT NULL,
			confidence     FLOAT64,
			created_ts     TIMESTAMP NOT NULL
		)
	`,
	transfersTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.transfers (
			transfer_id         STRING NOT NULL,
			from_transaction_id STRING NOT NULL,
			to_transaction_id   STRING NOT NULL,
			transfer_type       STRING NOT NULL,
			match_method        STRING NOT NULL,
			confidence          FLOAT64,
			created_ts          TIMESTAMP NOT NULL
		)
	`,
	receiptsTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.receipt_matches (
			match_id         STRING NOT NULL,
			transaction_id   STRING NOT NULL,
			gmail_message_id STRING NOT NULL,
			match_type       STRING NOT NULL,
			matched_items    STRING NOT NULL,
			confidence       FLOAT64 NOT NULL,
			created_ts       TIMESTAMP NOT NULL
		)
	`,
	usageTable: `
		CREATE TABLE IF NOT EXISTS %[1]s.api_usage (
			month                STRING NOT NULL,
			service              STRING NOT NULL,
			request_count        INT64 NOT NULL,
			estimated_cost_cents INT64 NOT NULL
		)
	`,
}

// EnsureSchema creates the dataset and every table this store reads or
// writes. Existing tables are left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.runDML(ctx, "EnsureSchema", fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.dataset), nil); err != nil {
		return err
	}
	for name, ddl := range tableDDL {
		op := fmt.Sprintf("EnsureSchema(%s)", name)
		if err := s.runDML(ctx, op, fmt.Sprintf(ddl, s.dataset), nil); err != nil {
			return err
		}
	}
	return nil
}
