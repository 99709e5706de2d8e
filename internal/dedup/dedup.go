// Package dedup rejects transactions that were already imported.
//
// Checks run in tiers, first match wins:
//
//	1    file hash      whole-file re-import
//	2    external ID    bank-assigned ID per account
//	3    import hash    exact account/date/amount/description match
//	3.5  cross format   same dedup key, bank vs budget-app source
//	3.6  split sum      opposite-source splits summing to a bank total
//	4    fuzzy          same dedup key with similar descriptions
//
// Budget-app exports carry user-edited payee names while bank files carry
// bank-provided ones, so cross-format duplicates share a dedup key
// (account+date+amount) but not a description. Count-based matching keeps
// legitimate same-day same-amount transactions alive: with N bank rows and
// M budget-app rows on one key, only min(N, M) are deduped.
//
// Tier 4 flags for review instead of rejecting, since same-amount same-day
// charges do happen (4x $25 Amazon with distinct timestamps).
package dedup

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/match"
)

// FuzzyThreshold is the description similarity at or above which a
// same-key transaction is flagged for review.
const FuzzyThreshold = 0.85

// maxSplitCandidates caps the subset-sum search; beyond this the tier is
// skipped rather than searched.
const maxSplitCandidates = 20

// Result statuses.
const (
	StatusNew       = "new"
	StatusDuplicate = "duplicate"
	StatusFlagged   = "flagged"
)

// Result tiers.
const (
	TierFile        = "file"
	TierExternalID  = "external_id"
	TierImportHash  = "import_hash"
	TierCrossFormat = "cross_format"
	TierSplitSum    = "split_sum"
	TierFuzzy       = "fuzzy"
)

// Repository is the slice of the store the engine reads and writes.
type Repository interface {
	GetImportByHash(ctx context.Context, fileHash string) (*domain.Import, error)
	GetTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error)
	GetTransactionsByImportHash(ctx context.Context, importHash string) ([]*domain.Transaction, error)
	GetTransactionsByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Transaction, error)
	GetTransactionsByAccountAndDate(ctx context.Context, accountID string, date civil.Date) ([]*domain.Transaction, error)
	InsertTransactions(ctx context.Context, txns []*domain.Transaction) error
}

// Result is the outcome of the dedup check for one transaction.
type Result struct {
	Status        string
	Tier          string
	Match         *domain.Transaction
	Confidence    float64
	MatchedSplits []*domain.Transaction
}

// BatchResult summarizes one deduplicate-and-insert run.
type BatchResult struct {
	NewCount       int
	DuplicateCount int
	FlaggedCount   int
	Transactions   []*domain.Transaction
}

// Engine runs the tiered checks against a repository.
type Engine struct {
	repo Repository
}

// NewEngine creates an Engine backed by the given repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// CheckFileDuplicate reports whether a file with this content hash has
// already been imported (tier 1).
func (e *Engine) CheckFileDuplicate(ctx context.Context, fileHash string) (bool, error) {
	existing, err := e.repo.GetImportByHash(ctx, fileHash)
	if err != nil {
		return false, fmt.Errorf("CheckFileDuplicate: %w", err)
	}
	return existing != nil, nil
}

// checkExternalID returns the existing transaction with the same
// account and external ID, if any (tier 2).
func (e *Engine) checkExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, nil
	}
	return e.repo.GetTransactionByExternalID(ctx, accountID, externalID)
}

// checkImportHash returns an existing transaction with the same import
// hash (tier 3).
//
// When the incoming transaction has an external ID, only rows that share
// it or carry none count. Rows with a different external ID are
// legitimately distinct even with identical content.
func (e *Engine) checkImportHash(ctx context.Context, importHash, externalID string) (*domain.Transaction, error) {
	matches, err := e.repo.GetTransactionsByImportHash(ctx, importHash)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if externalID != "" {
		for _, m := range matches {
			if m.ExternalID == "" || m.ExternalID == externalID {
				return m, nil
			}
		}
		return nil, nil
	}
	return matches[0], nil
}

// checkCrossFormat returns existing opposite-source transactions sharing
// a dedup key (tier 3.5). Bank rows carry an external ID, budget-app
// rows do not; importing one kind matches only the other.
func (e *Engine) checkCrossFormat(ctx context.Context, dedupKey string, hasExternalID bool) ([]*domain.Transaction, error) {
	candidates, err := e.repo.GetTransactionsByDedupKey(ctx, dedupKey)
	if err != nil {
		return nil, err
	}
	var matches []*domain.Transaction
	for _, c := range candidates {
		if hasExternalID == (c.ExternalID == "") {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// checkSplitSum looks for opposite-source rows on the same account and
// date whose amounts sum to the incoming amount (tier 3.6). Only rows
// with related descriptions participate, and a subset must have at least
// two members.
func (e *Engine) checkSplitSum(ctx context.Context, raw *domain.RawTransaction, hasExternalID bool) ([]*domain.Transaction, error) {
	candidates, err := e.repo.GetTransactionsByAccountAndDate(ctx, raw.AccountID, raw.Date)
	if err != nil {
		return nil, err
	}
	var opposite []*domain.Transaction
	for _, c := range candidates {
		if hasExternalID == (c.ExternalID == "") {
			opposite = append(opposite, c)
		}
	}
	if len(opposite) < 2 {
		return nil, nil
	}
	var related []*domain.Transaction
	for _, c := range opposite {
		if match.DescriptionsRelated(raw.RawDescription, c.RawDescription) {
			related = append(related, c)
		}
	}
	if len(related) < 2 || len(related) > maxSplitCandidates {
		return nil, nil
	}
	amounts := make([]float64, len(related))
	for i, c := range related {
		amounts[i] = c.Amount
	}
	indices := match.SubsetSumAbs(amounts, raw.Amount, 0.01, 2)
	if indices == nil {
		return nil, nil
	}
	splits := make([]*domain.Transaction, len(indices))
	for i, idx := range indices {
		splits[i] = related[idx]
	}
	return splits, nil
}

// checkFuzzy compares the incoming description against existing rows
// sharing a dedup key (tier 4). A score at or above the threshold flags
// the transaction for review.
func (e *Engine) checkFuzzy(ctx context.Context, dedupKey, rawDescription string) (Result, error) {
	candidates, err := e.repo.GetTransactionsByDedupKey(ctx, dedupKey)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Status: StatusNew}, nil
	}

	normDesc := match.NormalizeDescription(rawDescription)
	var best *domain.Transaction
	bestScore := 0.0
	for _, c := range candidates {
		existing := c.NormalizedDescription
		if existing == "" {
			existing = match.NormalizeDescription(c.RawDescription)
		}
		score := match.Similarity(normDesc, existing)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if bestScore >= FuzzyThreshold {
		return Result{Status: StatusFlagged, Tier: TierFuzzy, Match: best, Confidence: bestScore}, nil
	}
	return Result{Status: StatusNew}, nil
}

// Deduplicate runs tiers 2 through 4 on one raw transaction. Tier 1 is
// checked per file via CheckFileDuplicate before any of this runs.
func (e *Engine) Deduplicate(ctx context.Context, raw *domain.RawTransaction) (Result, error) {
	existing, err := e.checkExternalID(ctx, raw.AccountID, raw.ExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("Deduplicate: external ID check: %w", err)
	}
	if existing != nil {
		return Result{Status: StatusDuplicate, Tier: TierExternalID, Match: existing}, nil
	}

	importHash := match.ImportHash(raw.AccountID, raw.Date, raw.Amount, raw.RawDescription)
	existing, err = e.checkImportHash(ctx, importHash, raw.ExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("Deduplicate: import hash check: %w", err)
	}
	if existing != nil {
		return Result{Status: StatusDuplicate, Tier: TierImportHash, Match: existing}, nil
	}

	dedupKey := match.DedupKey(raw.AccountID, raw.Date, raw.Amount)
	crossMatches, err := e.checkCrossFormat(ctx, dedupKey, raw.ExternalID != "")
	if err != nil {
		return Result{}, fmt.Errorf("Deduplicate: cross-format check: %w", err)
	}
	if len(crossMatches) > 0 {
		return Result{Status: StatusDuplicate, Tier: TierCrossFormat, Match: crossMatches[0]}, nil
	}

	splits, err := e.checkSplitSum(ctx, raw, raw.ExternalID != "")
	if err != nil {
		return Result{}, fmt.Errorf("Deduplicate: split-sum check: %w", err)
	}
	if len(splits) > 0 {
		return Result{Status: StatusDuplicate, Tier: TierSplitSum, Match: splits[0], MatchedSplits: splits}, nil
	}

	// A fresh external ID already passed tier 2, so same-key charges with
	// distinct IDs are genuinely separate. Fuzzy applies only without one.
	if raw.ExternalID == "" {
		fuzzy, err := e.checkFuzzy(ctx, dedupKey, raw.RawDescription)
		if err != nil {
			return Result{}, fmt.Errorf("Deduplicate: fuzzy check: %w", err)
		}
		if fuzzy.Status == StatusFlagged {
			return fuzzy, nil
		}
	}

	return Result{Status: StatusNew}, nil
}

// ProcessBatch deduplicates parsed transactions and inserts the
// survivors. New rows go in as pending, fuzzy matches as flagged;
// duplicates are counted and dropped.
func (e *Engine) ProcessBatch(ctx context.Context, raws []*domain.RawTransaction, importID, source string) (*BatchResult, error) {
	var newTxns, flagged []*domain.Transaction
	duplicateCount := 0

	// Intra-batch bookkeeping. Caught here because nothing is persisted
	// until the end of the batch.
	seenExternalIDs := make(map[[2]string]bool)
	seenImportHashes := make(map[string]bool)
	// Cross-format slots consumed per dedup key. With N existing matches
	// only the first N incoming rows on that key are deduped.
	crossFormatUsed := make(map[string]int)
	// Split rows already matched by an earlier incoming transaction.
	splitSumConsumed := make(map[string]bool)

	for _, raw := range raws {
		if raw.ExternalID != "" {
			batchKey := [2]string{raw.AccountID, raw.ExternalID}
			if seenExternalIDs[batchKey] {
				duplicateCount++
				continue
			}
		}

		importHash := match.ImportHash(raw.AccountID, raw.Date, raw.Amount, raw.RawDescription)
		if seenImportHashes[importHash] && raw.ExternalID == "" {
			duplicateCount++
			continue
		}

		result, err := e.Deduplicate(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("ProcessBatch: %w", err)
		}

		if result.Status == StatusDuplicate && result.Tier == TierCrossFormat {
			dk := match.DedupKey(raw.AccountID, raw.Date, raw.Amount)
			crossMatches, err := e.checkCrossFormat(ctx, dk, raw.ExternalID != "")
			if err != nil {
				return nil, fmt.Errorf("ProcessBatch: cross-format recount: %w", err)
			}
			if crossFormatUsed[dk] < len(crossMatches) {
				crossFormatUsed[dk]++
				duplicateCount++
				continue
			}
			// All slots consumed, e.g. a third budget-app entry when only
			// two bank entries exist. Insert as new.
			result = Result{Status: StatusNew}
		}

		if result.Status == StatusDuplicate && result.Tier == TierSplitSum {
			anyConsumed := false
			for _, t := range result.MatchedSplits {
				if splitSumConsumed[t.ID] {
					anyConsumed = true
					break
				}
			}
			if !anyConsumed {
				for _, t := range result.MatchedSplits {
					splitSumConsumed[t.ID] = true
				}
				duplicateCount++
				continue
			}
			result = Result{Status: StatusNew}
		}

		if result.Status == StatusDuplicate {
			duplicateCount++
			continue
		}

		if raw.ExternalID != "" {
			seenExternalIDs[[2]string{raw.AccountID, raw.ExternalID}] = true
		}
		seenImportHashes[importHash] = true

		status := domain.StatusPending
		if result.Status == StatusFlagged {
			status = domain.StatusFlagged
		}
		txn := &domain.Transaction{
			ID:                    domain.NewID(),
			AccountID:             raw.AccountID,
			Date:                  raw.Date,
			Amount:                raw.Amount,
			RawDescription:        raw.RawDescription,
			NormalizedDescription: match.NormalizeDescription(raw.RawDescription),
			Memo:                  raw.Memo,
			TxnType:               raw.TxnType,
			CheckNum:              raw.CheckNum,
			Balance:               raw.Balance,
			ExternalID:            raw.ExternalID,
			ImportID:              importID,
			ImportHash:            importHash,
			DedupKey:              match.DedupKey(raw.AccountID, raw.Date, raw.Amount),
			Source:                source,
			Status:                status,
			CreatedAt:             time.Now().UTC(),
		}
		if status == domain.StatusFlagged {
			flagged = append(flagged, txn)
		} else {
			newTxns = append(newTxns, txn)
		}
	}

	inserted := append(append([]*domain.Transaction{}, newTxns...), flagged...)
	if len(inserted) > 0 {
		if err := e.repo.InsertTransactions(ctx, inserted); err != nil {
			return nil, fmt.Errorf("ProcessBatch: inserting transactions: %w", err)
		}
	}

	return &BatchResult{
		NewCount:       len(newTxns),
		DuplicateCount: duplicateCount,
		FlaggedCount:   len(flagged),
		Transactions:   inserted,
	}, nil
}
