// Package bigquery implements store.Store on BigQuery. Transactions,
// imports and transfers are written with DML so that status updates work
// immediately after insert; append-only rows (allocations, receipt
// matches) go through the streaming inserter.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
)

// TransactionRow represents a transaction record in BigQuery.
type TransactionRow struct {
	TransactionID string     `bigquery:"transaction_id"`
	AccountID     string     `bigquery:"account_id"`
	Date          civil.Date `bigquery:"date"`
	Amount        float64    `bigquery:"amount"`

	RawDescription        string              `bigquery:"raw_description"`
	NormalizedDescription string              `bigquery:"normalized_description"`
	Memo                  bigquery.NullString `bigquery:"memo"`
	TxnType               bigquery.NullString `bigquery:"txn_type"`
	CheckNum              bigquery.NullString `bigquery:"check_num"`
	Balance               bigquery.NullFloat64 `bigquery:"balance"`
	ExternalID            bigquery.NullString `bigquery:"external_id"`

	ImportID   string `bigquery:"import_id"`
	ImportHash string `bigquery:"import_hash"`
	DedupKey   string `bigquery:"dedup_key"`
	Source     string `bigquery:"source"`

	Status               string               `bigquery:"status"`
	Confidence           bigquery.NullFloat64 `bigquery:"confidence"`
	CategorizationMethod bigquery.NullString  `bigquery:"categorization_method"`
	ReceiptLookupStatus  bigquery.NullString  `bigquery:"receipt_lookup_status"`

	CreatedTS time.Time              `bigquery:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

func transactionRow(t *domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:         t.ID,
		AccountID:             t.AccountID,
		Date:                  t.Date,
		Amount:                t.Amount,
		RawDescription:        t.RawDescription,
		NormalizedDescription: t.NormalizedDescription,
		Memo:                  nullStr(t.Memo),
		TxnType:               nullStr(t.TxnType),
		CheckNum:              nullStr(t.CheckNum),
		Balance:               nullFloatPtr(t.Balance),
		ExternalID:            nullStr(t.ExternalID),
		ImportID:              t.ImportID,
		ImportHash:            t.ImportHash,
		DedupKey:              t.DedupKey,
		Source:                t.Source,
		Status:                t.Status,
		Confidence:            nullFloatPtr(t.Confidence),
		CategorizationMethod:  nullStr(t.CategorizationMethod),
		ReceiptLookupStatus:   nullStr(t.ReceiptLookupStatus),
		CreatedTS:             t.CreatedAt,
	}
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	t := &domain.Transaction{
		ID:                    r.TransactionID,
		AccountID:             r.AccountID,
		Date:                  r.Date,
		Amount:                r.Amount,
		RawDescription:        r.RawDescription,
		NormalizedDescription: r.NormalizedDescription,
		Memo:                  r.Memo.StringVal,
		TxnType:               r.TxnType.StringVal,
		CheckNum:              r.CheckNum.StringVal,
		ExternalID:            r.ExternalID.StringVal,
		ImportID:              r.ImportID,
		ImportHash:            r.ImportHash,
		DedupKey:              r.DedupKey,
		Source:                r.Source,
		Status:                r.Status,
		CategorizationMethod:  r.CategorizationMethod.StringVal,
		ReceiptLookupStatus:   r.ReceiptLookupStatus.StringVal,
		CreatedAt:             r.CreatedTS,
	}
	if r.Balance.Valid {
		v := r.Balance.Float64
		t.Balance = &v
	}
	if r.Confidence.Valid {
		v := r.Confidence.Float64
		t.Confidence = &v
	}
	if r.UpdatedTS.Valid {
		t.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return t
}

// ImportRow represents an import record in BigQuery.
type ImportRow struct {
	ImportID     string                 `bigquery:"import_id"`
	FileName     string                 `bigquery:"file_name"`
	FileHash     string                 `bigquery:"file_hash"`
	FileSize     int64                  `bigquery:"file_size"`
	AccountID    string                 `bigquery:"account_id"`
	Status       string                 `bigquery:"status"`
	RecordCount  bigquery.NullInt64     `bigquery:"record_count"`
	ErrorMessage bigquery.NullString    `bigquery:"error_message"`
	CreatedTS    time.Time              `bigquery:"created_ts"`
	CompletedTS  bigquery.NullTimestamp `bigquery:"completed_ts"`
}

func (r *ImportRow) toDomain() *domain.Import {
	imp := &domain.Import{
		ID:           r.ImportID,
		FileName:     r.FileName,
		FileHash:     r.FileHash,
		FileSize:     r.FileSize,
		AccountID:    r.AccountID,
		Status:       r.Status,
		RecordCount:  int(r.RecordCount.Int64),
		ErrorMessage: r.ErrorMessage.StringVal,
		CreatedAt:    r.CreatedTS,
	}
	if r.CompletedTS.Valid {
		ts := r.CompletedTS.Timestamp
		imp.CompletedAt = &ts
	}
	return imp
}

// AllocationRow represents a category allocation record in BigQuery.
type AllocationRow struct {
	AllocationID  string               `bigquery:"allocation_id"`
	TransactionID string               `bigquery:"transaction_id"`
	CategoryID    string               `bigquery:"category_id"`
	Amount        float64              `bigquery:"amount"`
	Memo          bigquery.NullString  `bigquery:"memo"`
	Tags          bigquery.NullString  `bigquery:"tags"`
	Source        string               `bigquery:"source"`
	Confidence    bigquery.NullFloat64 `bigquery:"confidence"`
	CreatedTS     time.Time            `bigquery:"created_ts"`
}

// TransferRow represents a linked transfer pair in BigQuery.
type TransferRow struct {
	TransferID        string               `bigquery:"transfer_id"`
	FromTransactionID string               `bigquery:"from_transaction_id"`
	ToTransactionID   string               `bigquery:"to_transaction_id"`
	TransferType      string               `bigquery:"transfer_type"`
	MatchMethod       string               `bigquery:"match_method"`
	Confidence        bigquery.NullFloat64 `bigquery:"confidence"`
	CreatedTS         time.Time            `bigquery:"created_ts"`
}

func (r *TransferRow) toDomain() *domain.Transfer {
	x := &domain.Transfer{
		ID:                r.TransferID,
		FromTransactionID: r.FromTransactionID,
		ToTransactionID:   r.ToTransactionID,
		TransferType:      r.TransferType,
		MatchMethod:       r.MatchMethod,
		CreatedAt:         r.CreatedTS,
	}
	if r.Confidence.Valid {
		v := r.Confidence.Float64
		x.Confidence = &v
	}
	return x
}

// ReceiptMatchRow represents a matched receipt email in BigQuery.
type ReceiptMatchRow struct {
	MatchID        string    `bigquery:"match_id"`
	TransactionID  string    `bigquery:"transaction_id"`
	GmailMessageID string    `bigquery:"gmail_message_id"`
	MatchType      string    `bigquery:"match_type"`
	MatchedItems   string    `bigquery:"matched_items"`
	Confidence     float64   `bigquery:"confidence"`
	CreatedTS      time.Time `bigquery:"created_ts"`
}

// categoryCountRow mirrors the historical aggregation query output.
type categoryCountRow struct {
	CategoryID string  `bigquery:"category_id"`
	Amount     float64 `bigquery:"amount"`
	Cnt        int64   `bigquery:"cnt"`
	UserCnt    int64   `bigquery:"user_cnt"`
}

func nullStr(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullFloatPtr(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}
