package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Transaction status lifecycle: pending → categorized | flagged | reviewed.
// Flagged transactions may later move to categorized or reviewed once a
// human confirms them.
const (
	StatusPending     = "pending"
	StatusCategorized = "categorized"
	StatusFlagged     = "flagged"
	StatusReviewed    = "reviewed"
)

// Source values recorded on transactions and allocations.
const (
	SourceBank      = "bank"
	SourceBudgetApp = "budget_app"
	SourceAuto      = "auto"
	SourceUser      = "user"
	SourceReceipt   = "gmail_receipt"
)

// RawTransaction is the normalized intermediate record produced by a file
// parser. It is ephemeral: the dedup engine decides whether it becomes a
// persisted Transaction at all.
type RawTransaction struct {
	AccountID      string
	Date           civil.Date
	Amount         float64 // signed: negative = outflow, positive = inflow
	RawDescription string
	Memo           string
	TxnType        string // DEBIT, CREDIT, CHECK, INT, TRANSFER, ...
	ExternalID     string // bank-issued identifier (FITID or export timestamp)
	CheckNum       string
	Balance        *float64

	// Pre-mapped category carried by budget-app exports. Other parsers
	// leave this empty.
	BudgetAppCategoryID string
}

// Transaction is the persisted record. Identity is a generated UUID.
type Transaction struct {
	ID        string
	AccountID string
	Date      civil.Date
	Amount    float64

	RawDescription        string
	NormalizedDescription string
	Memo                  string
	TxnType               string
	CheckNum              string
	Balance               *float64
	ExternalID            string

	ImportID   string
	ImportHash string
	DedupKey   string
	Source     string

	Status               string
	Confidence           *float64
	CategorizationMethod string
	ReceiptLookupStatus  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Allocation assigns (part of) a transaction's amount to a category. A
// whole-amount categorization has one allocation; a receipt split has one
// per line item. When split, allocation amounts should sum to the
// transaction amount, though user overrides may violate that temporarily.
type Allocation struct {
	ID            string
	TransactionID string
	CategoryID    string
	Amount        float64
	Memo          string
	Tags          string
	Source        string // "auto", "user", "gmail_receipt"
	Confidence    *float64
	CreatedAt     time.Time
}

// Transfer links exactly two transactions representing one real-world
// movement of funds. A transaction participates in at most one transfer.
type Transfer struct {
	ID                string
	FromTransactionID string
	ToTransactionID   string
	TransferType      string // cc-payment, savings-transfer, loan-payment, internal-transfer
	MatchMethod       string
	Confidence        *float64
	CreatedAt         time.Time
}

// Import records one ingested file, keyed by its content hash. A repeated
// file hash rejects the whole file before any per-row work.
type Import struct {
	ID           string
	FileName     string
	FileHash     string
	FileSize     int64
	AccountID    string
	RecordCount  int
	Status       string // pending, completed, failed
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// ReceiptMatch is the audit record of a successful receipt lookup.
type ReceiptMatch struct {
	ID             string
	TransactionID  string
	GmailMessageID string
	MatchType      string
	MatchedItems   string // JSON array of {name, amount, category_id}
	Confidence     float64
	CreatedAt      time.Time
}

// APIUsage accumulates request counts and estimated cost per calendar
// month and external service. Month format: "2006-01".
type APIUsage struct {
	ID                 string
	Month              string
	Service            string
	RequestCount       int
	InputTokens        int
	OutputTokens       int
	EstimatedCostCents int
	UpdatedAt          time.Time
}

// CategoryCount is one row of the historical-pattern aggregation: how
// often a (category, amount) pair was assigned to transactions sharing a
// normalized description, with the user-corrected share broken out.
type CategoryCount struct {
	CategoryID string
	Amount     float64
	Count      int
	UserCount  int
}

// Reconciliation compares the most recent statement balance reported
// for an account against the running sum of its transactions up to that
// date. Transfer-linked transactions are excluded from the sum: they
// move money between tracked accounts without changing the real balance.
type Reconciliation struct {
	AccountID        string
	Date             civil.Date
	StatementBalance float64
	ComputedBalance  float64
	Difference       float64
	Balanced         bool
}

// StatusCounts is the dashboard summary shown by the status command.
type StatusCounts struct {
	TotalTransactions int
	Categorized       int
	Pending           int
	Flagged           int
	Transfers         int
	Imports           int
}

// NewID returns a fresh UUID string for any persisted record.
func NewID() string {
	return uuid.NewString()
}

// Float64Ptr is a convenience for optional numeric fields.
func Float64Ptr(v float64) *float64 { return &v }
