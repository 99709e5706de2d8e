package dedup

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/match"
	"github.com/dvloznov/momoney/internal/store/memory"
)

var testDate = civil.Date{Year: 2024, Month: 3, Day: 15}

func newRaw(account string, amount float64, desc, extID string) *domain.RawTransaction {
	return &domain.RawTransaction{
		AccountID:      account,
		Date:           testDate,
		Amount:         amount,
		RawDescription: desc,
		ExternalID:     extID,
	}
}

// seed inserts an already-imported transaction directly.
func seed(t *testing.T, s *memory.Store, raw *domain.RawTransaction, source string) *domain.Transaction {
	t.Helper()
	txn := &domain.Transaction{
		ID:                    domain.NewID(),
		AccountID:             raw.AccountID,
		Date:                  raw.Date,
		Amount:                raw.Amount,
		RawDescription:        raw.RawDescription,
		NormalizedDescription: match.NormalizeDescription(raw.RawDescription),
		ExternalID:            raw.ExternalID,
		ImportHash:            match.ImportHash(raw.AccountID, raw.Date, raw.Amount, raw.RawDescription),
		DedupKey:              match.DedupKey(raw.AccountID, raw.Date, raw.Amount),
		Source:                source,
		Status:                domain.StatusPending,
	}
	if err := s.InsertTransactions(context.Background(), []*domain.Transaction{txn}); err != nil {
		t.Fatal(err)
	}
	return txn
}

func TestCheckFileDuplicate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)

	dup, err := e.CheckFileDuplicate(ctx, "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("unseen hash reported as duplicate")
	}

	if err := s.InsertImport(ctx, &domain.Import{ID: domain.NewID(), FileHash: "hash-1"}); err != nil {
		t.Fatal(err)
	}
	dup, err = e.CheckFileDuplicate(ctx, "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("imported hash not reported as duplicate")
	}
}

func TestDeduplicateExternalID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	seed(t, s, newRaw("wf-checking", -20, "COFFEE SHOP", "fitid-1"), domain.SourceBank)

	got, err := e.Deduplicate(ctx, newRaw("wf-checking", -20, "COFFEE SHOP RENAMED", "fitid-1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDuplicate || got.Tier != TierExternalID {
		t.Errorf("got %+v, want external_id duplicate", got)
	}

	// Same external ID in a different account is unrelated.
	got, err = e.Deduplicate(ctx, newRaw("capone-credit", -20, "COFFEE SHOP", "fitid-1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusNew {
		t.Errorf("cross-account external ID: got %+v, want new", got)
	}
}

func TestDeduplicateImportHashGuard(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	// Same content, distinct bank IDs: four $25 charges with different
	// timestamps are four real transactions.
	seed(t, s, newRaw("mercury-checking", -25, "AMAZON.COM", "ts-100"), domain.SourceBank)

	got, err := e.Deduplicate(ctx, newRaw("mercury-checking", -25, "AMAZON.COM", "ts-200"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusNew {
		t.Errorf("distinct external IDs: got %+v, want new", got)
	}

	// No external ID on the existing row: content match wins.
	s2 := memory.New()
	e2 := NewEngine(s2)
	seed(t, s2, newRaw("wf-checking", -42.5, "TRADER JOE S", ""), domain.SourceBank)
	got, err = e2.Deduplicate(ctx, newRaw("wf-checking", -42.5, "TRADER JOE S", "fitid-9"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDuplicate || got.Tier != TierImportHash {
		t.Errorf("got %+v, want import_hash duplicate", got)
	}
}

func TestDeduplicateCrossFormat(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	// Budget-app row with a user-edited payee, no external ID.
	seed(t, s, newRaw("wf-checking", -55.25, "Whole Foods", ""), domain.SourceBudgetApp)

	// Bank row, bank-mangled description, same account+date+amount.
	got, err := e.Deduplicate(ctx, newRaw("wf-checking", -55.25, "WHOLEFDS MKT #10372", "fitid-7"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDuplicate || got.Tier != TierCrossFormat {
		t.Errorf("got %+v, want cross_format duplicate", got)
	}

	// Same-source rows never cross-format match.
	got, err = e.Deduplicate(ctx, newRaw("wf-checking", -55.25, "Whole Foods Again", ""))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier == TierCrossFormat {
		t.Errorf("same-source rows matched cross-format: %+v", got)
	}
}

func TestProcessBatchCrossFormatCountLimit(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	// Two existing budget-app rows on one dedup key.
	seed(t, s, newRaw("wf-checking", -25, "Amazon", ""), domain.SourceBudgetApp)
	seed(t, s, newRaw("wf-checking", -25, "Amazon", ""), domain.SourceBudgetApp)

	// Three incoming bank rows on that key: two consume the budget-app
	// slots, the third is genuinely new.
	batch := []*domain.RawTransaction{
		newRaw("wf-checking", -25, "AMAZON.COM*A1", "ts-1"),
		newRaw("wf-checking", -25, "AMAZON.COM*A2", "ts-2"),
		newRaw("wf-checking", -25, "AMAZON.COM*A3", "ts-3"),
	}
	res, err := e.ProcessBatch(ctx, batch, "imp-1", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if res.DuplicateCount != 2 || res.NewCount != 1 {
		t.Errorf("got new=%d dup=%d, want new=1 dup=2", res.NewCount, res.DuplicateCount)
	}
}

func TestProcessBatchSplitSum(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	// Budget app split one Apple charge into two line items.
	seed(t, s, newRaw("capone-credit", -99.99, "Apple", ""), domain.SourceBudgetApp)
	seed(t, s, newRaw("capone-credit", -16.99, "Apple", ""), domain.SourceBudgetApp)

	res, err := e.ProcessBatch(ctx, []*domain.RawTransaction{
		newRaw("capone-credit", -116.98, "APPLE.COM/BILL", "fitid-a"),
	}, "imp-1", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if res.DuplicateCount != 1 || res.NewCount != 0 {
		t.Errorf("got new=%d dup=%d, want new=0 dup=1", res.NewCount, res.DuplicateCount)
	}
}

func TestProcessBatchSplitSumConsumedWithinBatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	seed(t, s, newRaw("capone-credit", -99.99, "Apple", ""), domain.SourceBudgetApp)
	seed(t, s, newRaw("capone-credit", -16.99, "Apple", ""), domain.SourceBudgetApp)

	res, err := e.ProcessBatch(ctx, []*domain.RawTransaction{
		newRaw("capone-credit", -116.98, "APPLE.COM/BILL", "fitid-a"),
		newRaw("capone-credit", -116.98, "APPLE.COM/BILL", "fitid-b"),
	}, "imp-1", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if res.DuplicateCount != 1 || res.NewCount != 1 {
		t.Errorf("got new=%d dup=%d, want new=1 dup=1", res.NewCount, res.DuplicateCount)
	}
}

func TestDeduplicateFuzzyFlagged(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	seed(t, s, newRaw("wf-checking", -42.50, "TRADER JOES STORE 123", ""), domain.SourceBank)

	got, err := e.Deduplicate(ctx, newRaw("wf-checking", -42.50, "TRADER JOES STORE 456", ""))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFlagged || got.Tier != TierFuzzy {
		t.Fatalf("got %+v, want flagged fuzzy", got)
	}
	if got.Confidence < FuzzyThreshold {
		t.Errorf("confidence %v below threshold", got.Confidence)
	}

	// An external ID suppresses the fuzzy tier entirely.
	got, err = e.Deduplicate(ctx, newRaw("wf-checking", -42.50, "TRADER JOES STORE 789", "fitid-z"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusNew {
		t.Errorf("fuzzy with external ID: got %+v, want new", got)
	}
}

func TestProcessBatchFlaggedInserted(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)
	seed(t, s, newRaw("wf-checking", -42.50, "TRADER JOES STORE 123", ""), domain.SourceBank)

	res, err := e.ProcessBatch(ctx, []*domain.RawTransaction{
		newRaw("wf-checking", -42.50, "TRADER JOES STORE 456", ""),
	}, "imp-1", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if res.FlaggedCount != 1 || res.NewCount != 0 {
		t.Fatalf("got %+v, want one flagged", res)
	}
	if res.Transactions[0].Status != domain.StatusFlagged {
		t.Errorf("persisted status = %s, want flagged", res.Transactions[0].Status)
	}
}

func TestProcessBatchIntraBatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)

	t.Run("repeated external ID", func(t *testing.T) {
		res, err := e.ProcessBatch(ctx, []*domain.RawTransaction{
			newRaw("mercury-checking", -10, "SOFTWARE SUB", "ts-1"),
			newRaw("mercury-checking", -10, "SOFTWARE SUB", "ts-1"),
		}, "imp-1", domain.SourceBank)
		if err != nil {
			t.Fatal(err)
		}
		if res.NewCount != 1 || res.DuplicateCount != 1 {
			t.Errorf("got new=%d dup=%d, want 1/1", res.NewCount, res.DuplicateCount)
		}
	})

	t.Run("repeated content without external ID", func(t *testing.T) {
		res, err := e.ProcessBatch(ctx, []*domain.RawTransaction{
			newRaw("wf-savings", -5, "FEE", ""),
			newRaw("wf-savings", -5, "FEE", ""),
		}, "imp-2", domain.SourceBank)
		if err != nil {
			t.Fatal(err)
		}
		if res.NewCount != 1 || res.DuplicateCount != 1 {
			t.Errorf("got new=%d dup=%d, want 1/1", res.NewCount, res.DuplicateCount)
		}
	})
}

func TestProcessBatchIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := NewEngine(s)

	batch := []*domain.RawTransaction{
		newRaw("wf-checking", -20, "COFFEE SHOP", "fitid-1"),
		newRaw("wf-checking", -42.50, "TRADER JOE S", "fitid-2"),
		newRaw("wf-savings", 0.42, "INTEREST PAYMENT", ""),
	}
	first, err := e.ProcessBatch(ctx, batch, "imp-1", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if first.NewCount != 3 {
		t.Fatalf("first run: got new=%d, want 3", first.NewCount)
	}

	second, err := e.ProcessBatch(ctx, batch, "imp-2", domain.SourceBank)
	if err != nil {
		t.Fatal(err)
	}
	if second.NewCount != 0 || second.DuplicateCount != 3 {
		t.Errorf("second run: got new=%d dup=%d, want 0/3", second.NewCount, second.DuplicateCount)
	}
}
