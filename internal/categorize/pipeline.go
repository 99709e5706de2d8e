package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
	"github.com/dvloznov/momoney/internal/store"
)

// transferCandidateDays is the window for counterpart search when
// linking a detected transfer.
const transferCandidateDays = 5

// Repository is the store slice the pipeline needs.
type Repository interface {
	HistoryRepository
	UsageRepository
	GetPendingTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error)
	InsertAllocation(ctx context.Context, alloc *domain.Allocation) error
	UpdateTransactionStatus(ctx context.Context, txnID, status string, confidence *float64, method string) error
	GetTransferByTransaction(ctx context.Context, txnID string) (*domain.Transfer, error)
	FindTransferCandidates(ctx context.Context, txn *domain.Transaction, days int) ([]*domain.Transaction, error)
	InsertTransfer(ctx context.Context, xfer *domain.Transfer) error
}

// Result is the outcome of categorizing one transaction.
type Result struct {
	CategoryID   string
	Confidence   float64
	Method       string
	IsTransfer   bool
	TransferType string
	FromAccount  string
	ToAccount    string

	receipt *ReceiptResult
}

// Summary aggregates one pipeline run.
type Summary struct {
	Total         int
	MethodCounts  map[string]int
	TransferCount int
}

// Pipeline runs the categorization fallback chain. Receipts and ai are
// optional; nil skips those steps.
type Pipeline struct {
	repo     Repository
	cfg      *config.Config
	receipts *ReceiptLookup
	ai       AIClient
}

// NewPipeline wires a pipeline.
func NewPipeline(repo Repository, cfg *config.Config, receipts *ReceiptLookup, ai AIClient) *Pipeline {
	return &Pipeline{repo: repo, cfg: cfg, receipts: receipts, ai: ai}
}

func isCompatible(categoryID string, filter *config.CategoryFilter) bool {
	for _, p := range filter.CompatiblePrefixes {
		if strings.HasPrefix(categoryID, p) {
			return true
		}
	}
	for _, id := range filter.CompatibleIDs {
		if categoryID == id {
			return true
		}
	}
	return false
}

// applyFilter overrides categories an account may not receive with its
// default. Business accounts keep business categories this way.
func applyFilter(categoryID string, filter *config.CategoryFilter) string {
	if filter == nil || isCompatible(categoryID, filter) {
		return categoryID
	}
	if filter.DefaultCategory != "" {
		return filter.DefaultCategory
	}
	return categoryID
}

// Categorize runs the fallback chain on one transaction and returns the
// first match. The final fallback flags for manual review.
func (p *Pipeline) Categorize(ctx context.Context, txn *domain.Transaction) (*Result, error) {
	log := logger.FromContext(ctx)
	desc := txn.RawDescription
	filter := p.cfg.CategoryFilterFor(txn.AccountID)
	transferCats := p.cfg.Rules.TransferCategories
	fallback := p.cfg.FallbackCategory()

	// Transfer patterns, then txn-type inference.
	transfer := DetectTransfer(desc, txn.AccountID, p.cfg)
	transferMethod := "transfer"
	if transfer == nil {
		transfer = DetectTransferByTxnType(txn.TxnType, desc, txn.Amount, txn.AccountID, p.cfg)
		transferMethod = "transfer_inferred"
	}
	if transfer != nil {
		catID, ok := transferCats[transfer.TransferType]
		if !ok {
			catID, ok = transferCats["internal-transfer"]
			if !ok {
				catID = fallback
			}
			if catID == "" {
				catID = "uncategorized"
			}
			log.Warn().
				Str("transfer_type", transfer.TransferType).
				Str("category_id", catID).
				Msg("transfer type missing from transfer_categories")
		}
		return &Result{
			CategoryID:   catID,
			Confidence:   1.0,
			Method:       transferMethod,
			IsTransfer:   true,
			TransferType: transfer.TransferType,
			FromAccount:  transfer.FromAccount,
			ToAccount:    transfer.ToAccount,
		}, nil
	}

	if catID := DetectInterest(txn.ExternalID, txn.AccountID, p.cfg); catID != "" {
		return &Result{CategoryID: catID, Confidence: 1.0, Method: "interest_detection"}, nil
	}

	if m := MatchMerchantAuto(desc, p.cfg); m != nil {
		return &Result{
			CategoryID: applyFilter(m.CategoryID, filter),
			Confidence: m.Confidence,
			Method:     "merchant_auto",
		}, nil
	}

	if txn.NormalizedDescription != "" {
		hist, err := MatchHistorical(ctx, p.repo, txn.NormalizedDescription, txn.Amount)
		if err != nil {
			return nil, fmt.Errorf("Categorize: %w", err)
		}
		if hist != nil {
			return &Result{
				CategoryID: applyFilter(hist.CategoryID, filter),
				Confidence: hist.Confidence,
				Method:     "historical_pattern",
			}, nil
		}
	}

	if m := MatchAmountRule(desc, txn.Amount, txn.AccountID, p.cfg); m != nil {
		return &Result{
			CategoryID: applyFilter(m.CategoryID, filter),
			Confidence: m.Confidence,
			Method:     "amount_rule",
		}, nil
	}

	if m := MatchAccountRule(txn.AccountID, p.cfg); m != nil {
		return &Result{
			CategoryID: applyFilter(m.CategoryID, filter),
			Confidence: m.Confidence,
			Method:     "account_rule",
		}, nil
	}

	if m := MatchMerchantHigh(desc, p.cfg); m != nil {
		return &Result{
			CategoryID: applyFilter(m.CategoryID, filter),
			Confidence: m.Confidence,
			Method:     "merchant_high",
		}, nil
	}

	if p.receipts != nil {
		receiptResult, err := p.receipts.Resolve(ctx, txn)
		if err != nil {
			return nil, fmt.Errorf("Categorize: %w", err)
		}
		if receiptResult != nil && receiptResult.Matched {
			primary := fallback
			if len(receiptResult.Items) > 0 && receiptResult.Items[0].CategoryID != "" {
				primary = receiptResult.Items[0].CategoryID
			}
			return &Result{
				CategoryID: applyFilter(primary, filter),
				Confidence: receiptResult.Confidence,
				Method:     "gmail_receipt",
				receipt:    receiptResult,
			}, nil
		}
	}

	if p.ai != nil {
		suggestion, err := CategorizeWithAI(ctx, txn, p.cfg, p.ai, p.repo)
		if err != nil {
			return nil, fmt.Errorf("Categorize: %w", err)
		}
		if suggestion != nil {
			return &Result{
				CategoryID: applyFilter(suggestion.CategoryID, filter),
				Confidence: suggestion.Confidence,
				Method:     "claude_ai",
			}, nil
		}
	}

	return &Result{CategoryID: fallback, Confidence: 0.0, Method: "manual_review"}, nil
}

// Apply persists a categorization: allocation first, then the status
// update, so a failed insert leaves the transaction pending. Receipt
// results delegate to the split-allocation path. Transfer results also
// try to link the counterpart; link failures are logged, never fatal.
func (p *Pipeline) Apply(ctx context.Context, txn *domain.Transaction, result *Result) error {
	log := logger.FromContext(ctx)

	if result.Method == "gmail_receipt" && result.receipt != nil && p.receipts != nil {
		return p.receipts.ApplyResult(ctx, txn, result.receipt)
	}

	status := domain.StatusCategorized
	if result.Method == "manual_review" {
		status = domain.StatusFlagged
	}

	conf := result.Confidence
	if err := p.repo.InsertAllocation(ctx, &domain.Allocation{
		ID:            domain.NewID(),
		TransactionID: txn.ID,
		CategoryID:    result.CategoryID,
		Amount:        txn.Amount,
		Source:        domain.SourceAuto,
		Confidence:    &conf,
	}); err != nil {
		return fmt.Errorf("Apply: inserting allocation: %w", err)
	}

	if err := p.repo.UpdateTransactionStatus(ctx, txn.ID, status, &conf, result.Method); err != nil {
		return fmt.Errorf("Apply: updating status: %w", err)
	}

	if result.IsTransfer && result.TransferType != "" {
		if err := p.tryLinkTransfer(ctx, txn, result); err != nil {
			log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("failed to link transfer")
		}
	}
	return nil
}

// ApplyPreMapped records a category carried by a budget-app export
// directly, bypassing the fallback chain. Dedup-flagged transactions
// keep their flagged status so review still happens. Transfer rows get
// the same counterpart linking as pipeline results.
func (p *Pipeline) ApplyPreMapped(ctx context.Context, txn *domain.Transaction, categoryID string) error {
	log := logger.FromContext(ctx)

	status := domain.StatusCategorized
	if txn.Status == domain.StatusFlagged {
		status = domain.StatusFlagged
	}

	conf := 1.0
	if err := p.repo.InsertAllocation(ctx, &domain.Allocation{
		ID:            domain.NewID(),
		TransactionID: txn.ID,
		CategoryID:    categoryID,
		Amount:        txn.Amount,
		Source:        domain.SourceBudgetApp,
		Confidence:    &conf,
	}); err != nil {
		return fmt.Errorf("ApplyPreMapped: inserting allocation: %w", err)
	}

	if err := p.repo.UpdateTransactionStatus(ctx, txn.ID, status, &conf, "budget_app_import"); err != nil {
		return fmt.Errorf("ApplyPreMapped: updating status: %w", err)
	}

	match := DetectTransfer(txn.RawDescription, txn.AccountID, p.cfg)
	if match == nil {
		match = DetectTransferByTxnType(txn.TxnType, txn.RawDescription, txn.Amount, txn.AccountID, p.cfg)
	}
	if match != nil {
		result := &Result{
			IsTransfer:   true,
			TransferType: match.TransferType,
			FromAccount:  match.FromAccount,
			ToAccount:    match.ToAccount,
		}
		if err := p.tryLinkTransfer(ctx, txn, result); err != nil {
			log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("failed to link transfer")
		}
	}
	return nil
}

// CategorizePending categorizes pending transactions up to limit and
// returns per-method counts.
func (p *Pipeline) CategorizePending(ctx context.Context, limit int) (*Summary, error) {
	pending, err := p.repo.GetPendingTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("CategorizePending: %w", err)
	}

	summary := &Summary{Total: len(pending), MethodCounts: make(map[string]int)}
	for _, txn := range pending {
		result, err := p.Categorize(ctx, txn)
		if err != nil {
			return nil, err
		}
		if err := p.Apply(ctx, txn, result); err != nil {
			return nil, err
		}
		summary.MethodCounts[result.Method]++
		if result.IsTransfer {
			summary.TransferCount++
		}
	}
	return summary, nil
}

// tryLinkTransfer searches other accounts for the counterpart of a
// detected transfer (offsetting amount within a cent, within five days)
// and records the pair. Direction comes from the matched pattern when it
// names this account, else from the amount sign.
func (p *Pipeline) tryLinkTransfer(ctx context.Context, txn *domain.Transaction, result *Result) error {
	log := logger.FromContext(ctx)

	existing, err := p.repo.GetTransferByTransaction(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("tryLinkTransfer: %w", err)
	}
	if existing != nil {
		return nil
	}

	candidates, err := p.repo.FindTransferCandidates(ctx, txn, transferCandidateDays)
	if err != nil {
		return fmt.Errorf("tryLinkTransfer: %w", err)
	}
	if len(candidates) == 0 {
		log.Debug().
			Str("transaction_id", txn.ID).
			Str("transfer_type", result.TransferType).
			Msg("no transfer counterpart found")
		return nil
	}
	counterpart := candidates[0]

	fromID, toID := "", ""
	switch {
	case result.FromAccount != "" && txn.AccountID == result.FromAccount:
		fromID, toID = txn.ID, counterpart.ID
	case result.ToAccount != "" && txn.AccountID == result.ToAccount:
		fromID, toID = counterpart.ID, txn.ID
	case txn.Amount < 0:
		fromID, toID = txn.ID, counterpart.ID
	default:
		fromID, toID = counterpart.ID, txn.ID
	}

	transferType := result.TransferType
	if transferType == "" {
		transferType = "internal-transfer"
	}
	conf := 0.9
	if err := p.repo.InsertTransfer(ctx, &domain.Transfer{
		ID:                domain.NewID(),
		FromTransactionID: fromID,
		ToTransactionID:   toID,
		TransferType:      transferType,
		MatchMethod:       "pattern_auto_link",
		Confidence:        &conf,
	}); err != nil {
		if errors.Is(err, store.ErrTransferExists) {
			return nil
		}
		return fmt.Errorf("tryLinkTransfer: %w", err)
	}
	log.Info().
		Str("from", fromID).
		Str("to", toID).
		Str("transfer_type", transferType).
		Msg("auto-linked transfer")
	return nil
}
