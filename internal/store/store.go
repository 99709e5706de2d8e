// Package store defines the persistence contract the reconciliation core
// requires. Two implementations exist: store/bigquery for production and
// store/memory for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
)

// ErrDuplicateImport is returned by InsertImport when a file with the
// same content hash was already imported.
var ErrDuplicateImport = errors.New("store: import with this file hash already exists")

// ErrTransferExists is returned by InsertTransfer when either participant
// transaction is already linked. The existing link is never mutated.
var ErrTransferExists = errors.New("store: transaction already participates in a transfer")

// ImportUpdate carries the optional fields of an import-status update.
// Nil pointers leave the column untouched.
type ImportUpdate struct {
	RecordCount  *int
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Store is the full persistence contract. Consumer packages declare
// narrower interfaces for the subset they use; both implementations
// satisfy all of them.
type Store interface {
	// Imports.
	InsertImport(ctx context.Context, imp *domain.Import) error
	GetImportByHash(ctx context.Context, fileHash string) (*domain.Import, error)
	UpdateImportStatus(ctx context.Context, importID, status string, upd ImportUpdate) error

	// Transactions.
	InsertTransactions(ctx context.Context, txns []*domain.Transaction) error
	GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error)
	GetTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error)
	GetTransactionsByImportHash(ctx context.Context, importHash string) ([]*domain.Transaction, error)
	GetTransactionsByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Transaction, error)
	GetTransactionsByAccountAndDate(ctx context.Context, accountID string, date civil.Date) ([]*domain.Transaction, error)
	GetPendingTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error)
	GetFlaggedTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error)
	GetTransactionsByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txnID, status string, confidence *float64, method string) error
	SetReceiptLookupStatus(ctx context.Context, txnID, status string) error

	// Allocations.
	InsertAllocation(ctx context.Context, alloc *domain.Allocation) error
	GetAllocationsByTransaction(ctx context.Context, txnID string) ([]*domain.Allocation, error)

	// Transfers.
	InsertTransfer(ctx context.Context, xfer *domain.Transfer) error
	GetTransferByTransaction(ctx context.Context, txnID string) (*domain.Transfer, error)
	FindTransferCandidates(ctx context.Context, txn *domain.Transaction, days int) ([]*domain.Transaction, error)

	// Receipt matches.
	InsertReceiptMatch(ctx context.Context, m *domain.ReceiptMatch) error

	// Historical aggregation: (category, amount) counts over categorized
	// transactions sharing a normalized description, user allocations
	// broken out.
	GetHistoricalCategoryCounts(ctx context.Context, normalizedDescription string) ([]domain.CategoryCount, error)

	// Monthly external-API accounting.
	IncrementAPIUsage(ctx context.Context, month, service string, requests, costCents int) error
	GetMonthlyCost(ctx context.Context, month string) (int, error)

	// Dashboard counts for the status command.
	GetStatusCounts(ctx context.Context) (*domain.StatusCounts, error)

	// Balance reconciliation for one account. Returns nil when no
	// transaction carries a statement balance.
	GetReconciliation(ctx context.Context, accountID string) (*domain.Reconciliation, error)
}
