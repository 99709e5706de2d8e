package memory

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/store"
)

func newTxn(account string, date civil.Date, amount float64, desc string) *domain.Transaction {
	return &domain.Transaction{
		ID:                    domain.NewID(),
		AccountID:             account,
		Date:                  date,
		Amount:                amount,
		RawDescription:        desc,
		NormalizedDescription: desc,
		Status:                domain.StatusPending,
	}
}

func TestInsertImportDuplicateHash(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := &domain.Import{ID: domain.NewID(), FileHash: "abc123", Status: "in_progress"}
	if err := s.InsertImport(ctx, first); err != nil {
		t.Fatalf("InsertImport: %v", err)
	}

	second := &domain.Import{ID: domain.NewID(), FileHash: "abc123", Status: "in_progress"}
	if err := s.InsertImport(ctx, second); !errors.Is(err, store.ErrDuplicateImport) {
		t.Errorf("InsertImport duplicate: got %v, want ErrDuplicateImport", err)
	}

	got, err := s.GetImportByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetImportByHash: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Errorf("GetImportByHash returned %+v, want import %s", got, first.ID)
	}
}

func TestUpdateImportStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	imp := &domain.Import{ID: domain.NewID(), FileHash: "h", Status: "in_progress"}
	if err := s.InsertImport(ctx, imp); err != nil {
		t.Fatal(err)
	}

	n := 42
	msg := "boom"
	if err := s.UpdateImportStatus(ctx, imp.ID, "failed", store.ImportUpdate{RecordCount: &n, ErrorMessage: &msg}); err != nil {
		t.Fatalf("UpdateImportStatus: %v", err)
	}
	got, _ := s.GetImportByHash(ctx, "h")
	if got.Status != "failed" || got.RecordCount != 42 || got.ErrorMessage != "boom" {
		t.Errorf("got %+v, want failed/42/boom", got)
	}
}

func TestExternalIDLookupScopedToAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := civil.Date{Year: 2024, Month: 3, Day: 15}

	a := newTxn("wf-checking", d, -10, "COFFEE")
	a.ExternalID = "ext-1"
	b := newTxn("capone-credit", d, -10, "COFFEE")
	b.ExternalID = "ext-1"
	if err := s.InsertTransactions(ctx, []*domain.Transaction{a, b}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetTransactionByExternalID(ctx, "capone-credit", "ext-1")
	if got == nil || got.ID != b.ID {
		t.Errorf("lookup returned %+v, want %s", got, b.ID)
	}
	if got, _ := s.GetTransactionByExternalID(ctx, "wf-savings", "ext-1"); got != nil {
		t.Errorf("lookup in unrelated account returned %+v, want nil", got)
	}
	// Empty external IDs never match each other.
	if got, _ := s.GetTransactionByExternalID(ctx, "wf-checking", ""); got != nil {
		t.Errorf("empty external ID matched %+v, want nil", got)
	}
}

func TestPendingLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := civil.Date{Year: 2024, Month: 1, Day: 1}
	for i := 0; i < 5; i++ {
		if err := s.InsertTransactions(ctx, []*domain.Transaction{newTxn("a", d, -1, "X")}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.GetPendingTransactions(ctx, 3)
	if len(got) != 3 {
		t.Errorf("got %d pending, want 3", len(got))
	}
	got, _ = s.GetPendingTransactions(ctx, 0)
	if len(got) != 5 {
		t.Errorf("got %d pending with no limit, want 5", len(got))
	}
}

func TestTransferLinkIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := civil.Date{Year: 2024, Month: 2, Day: 1}
	x := newTxn("wf-checking", d, -500, "TRANSFER OUT")
	y := newTxn("wf-savings", d, 500, "TRANSFER IN")
	z := newTxn("capone-credit", d, 500, "PAYMENT")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{x, y, z}); err != nil {
		t.Fatal(err)
	}

	conf := 0.9
	if err := s.InsertTransfer(ctx, &domain.Transfer{
		ID: domain.NewID(), FromTransactionID: x.ID, ToTransactionID: y.ID,
		TransferType: "savings-transfer", MatchMethod: "pattern_auto_link", Confidence: &conf,
	}); err != nil {
		t.Fatalf("InsertTransfer: %v", err)
	}

	err := s.InsertTransfer(ctx, &domain.Transfer{
		ID: domain.NewID(), FromTransactionID: x.ID, ToTransactionID: z.ID,
	})
	if !errors.Is(err, store.ErrTransferExists) {
		t.Errorf("second link: got %v, want ErrTransferExists", err)
	}

	got, _ := s.GetTransferByTransaction(ctx, y.ID)
	if got == nil || got.ToTransactionID != y.ID {
		t.Errorf("original link lost: %+v", got)
	}
}

func TestFindTransferCandidates(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := civil.Date{Year: 2024, Month: 6, Day: 10}

	out := newTxn("wf-checking", base, -200, "TRANSFER TO SAVINGS")
	near := newTxn("wf-savings", base.AddDays(1), 200, "TRANSFER IN")
	far := newTxn("wf-savings", base.AddDays(4), 200, "TRANSFER IN")
	tooFar := newTxn("wf-savings", base.AddDays(9), 200, "TRANSFER IN")
	wrongAmt := newTxn("wf-savings", base, 199.5, "DEPOSIT")
	sameAcct := newTxn("wf-checking", base, 200, "REFUND")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{out, far, near, tooFar, wrongAmt, sameAcct}); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindTransferCandidates(ctx, out, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].ID != near.ID || got[1].ID != far.ID {
		t.Errorf("candidates not ordered by date proximity: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestHistoricalCategoryCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := civil.Date{Year: 2024, Month: 4, Day: 2}

	insert := func(amount float64, category, source string) {
		txn := newTxn("wf-checking", d, amount, "TRADER JOE S")
		txn.Status = domain.StatusCategorized
		if err := s.InsertTransactions(ctx, []*domain.Transaction{txn}); err != nil {
			t.Fatal(err)
		}
		if err := s.InsertAllocation(ctx, &domain.Allocation{
			ID: domain.NewID(), TransactionID: txn.ID, CategoryID: category, Amount: amount, Source: source,
		}); err != nil {
			t.Fatal(err)
		}
	}
	insert(-42.50, "groceries", domain.SourceAuto)
	insert(-42.50, "groceries", domain.SourceUser)
	insert(-9.99, "coffee-d", domain.SourceAuto)

	// Pending rows with the same description never count.
	pending := newTxn("wf-checking", d, -42.50, "TRADER JOE S")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{pending}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.GetHistoricalCategoryCounts(ctx, "TRADER JOE S")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(counts), counts)
	}
	g := counts[0]
	if g.CategoryID != "groceries" || g.Count != 2 || g.UserCount != 1 {
		t.Errorf("groceries group = %+v, want count 2 user 1", g)
	}
}

func TestAPIUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.IncrementAPIUsage(ctx, "2024-06", "claude_receipt_parse", 1, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementAPIUsage(ctx, "2024-06", "gmail_search", 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementAPIUsage(ctx, "2024-06", "claude_receipt_parse", 1, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementAPIUsage(ctx, "2024-07", "claude_receipt_parse", 1, 3); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMonthlyCost(ctx, "2024-06")
	if err != nil {
		t.Fatal(err)
	}
	if got != 6 {
		t.Errorf("monthly cost = %d, want 6", got)
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	txn := newTxn("wf-checking", civil.Date{Year: 2024, Month: 1, Day: 5}, -12, "NETFLIX.COM")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{txn}); err != nil {
		t.Fatal(err)
	}

	conf := 0.95
	if err := s.UpdateTransactionStatus(ctx, txn.ID, domain.StatusCategorized, &conf, "merchant_auto"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetTransaction(ctx, txn.ID)
	if got.Status != domain.StatusCategorized || got.Confidence == nil || *got.Confidence != 0.95 || got.CategorizationMethod != "merchant_auto" {
		t.Errorf("after update: %+v", got)
	}
}

func TestTransactionsByDateRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	txns := []*domain.Transaction{
		newTxn("wf-checking", civil.Date{Year: 2024, Month: 2, Day: 28}, -5, "EARLY"),
		newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, -10, "FIRST"),
		newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 31}, -20, "LAST"),
		newTxn("wf-checking", civil.Date{Year: 2024, Month: 4, Day: 1}, -30, "LATE"),
	}
	if err := s.InsertTransactions(ctx, txns); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTransactionsByDateRange(ctx,
		civil.Date{Year: 2024, Month: 3, Day: 1},
		civil.Date{Year: 2024, Month: 3, Day: 31})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2 (range is inclusive)", len(got))
	}
	if got[0].RawDescription != "FIRST" || got[1].RawDescription != "LAST" {
		t.Errorf("range returned %q, %q", got[0].RawDescription, got[1].RawDescription)
	}
}

func TestStatusCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	date := civil.Date{Year: 2024, Month: 3, Day: 15}

	a := newTxn("wf-checking", date, -10, "A")
	b := newTxn("wf-checking", date, -20, "B")
	c := newTxn("wf-savings", date, 10, "C")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{a, b, c}); err != nil {
		t.Fatal(err)
	}
	conf := 0.9
	if err := s.UpdateTransactionStatus(ctx, a.ID, domain.StatusCategorized, &conf, "merchant_auto"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTransactionStatus(ctx, b.ID, domain.StatusFlagged, nil, "manual_review"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertImport(ctx, &domain.Import{ID: domain.NewID(), FileHash: "h1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTransfer(ctx, &domain.Transfer{ID: domain.NewID(), FromTransactionID: a.ID, ToTransactionID: c.ID}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.GetStatusCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.StatusCounts{
		TotalTransactions: 3,
		Categorized:       1,
		Pending:           1,
		Flagged:           1,
		Transfers:         1,
		Imports:           1,
	}
	if *counts != want {
		t.Errorf("counts = %+v, want %+v", *counts, want)
	}
}

func TestFlaggedTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()

	older := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, -10, "OLDER")
	older.Status = domain.StatusFlagged
	newer := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 20}, -20, "NEWER")
	newer.Status = domain.StatusFlagged
	categorized := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 25}, -30, "DONE")
	categorized.Status = domain.StatusCategorized
	if err := s.InsertTransactions(ctx, []*domain.Transaction{older, newer, categorized}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetFlaggedTransactions(ctx, 0)
	if err != nil {
		t.Fatalf("GetFlaggedTransactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got))
	}
	if got[0].RawDescription != "NEWER" || got[1].RawDescription != "OLDER" {
		t.Errorf("order = %s, %s; want NEWER, OLDER", got[0].RawDescription, got[1].RawDescription)
	}

	limited, err := s.GetFlaggedTransactions(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].RawDescription != "NEWER" {
		t.Errorf("limit 1 returned %d rows (first %q), want just NEWER", len(limited), limited[0].RawDescription)
	}
}

func TestReconciliationNoBalanceData(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.InsertTransactions(ctx, []*domain.Transaction{
		newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, -10, "NO BALANCE"),
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetReconciliation(ctx, "wf-checking")
	if err != nil {
		t.Fatalf("GetReconciliation: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v, want nil for account without balance data", rec)
	}
}

func TestReconciliationBalanced(t *testing.T) {
	ctx := context.Background()
	s := New()

	balance := 1450.00
	a := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, 2000, "PAYROLL")
	b := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 10}, -50, "GROCERIES")
	last := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 15}, -500, "RENT")
	last.Balance = &balance
	// After the statement date; must not count.
	later := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 20}, -75, "DINNER")
	// Other account; must not count.
	other := newTxn("capone-credit", civil.Date{Year: 2024, Month: 3, Day: 5}, -40, "GAS")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{a, b, last, later, other}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetReconciliation(ctx, "wf-checking")
	if err != nil {
		t.Fatalf("GetReconciliation: %v", err)
	}
	if rec == nil {
		t.Fatal("got nil reconciliation")
	}
	if !rec.Balanced {
		t.Errorf("Balanced = false, computed %.2f vs statement %.2f", rec.ComputedBalance, rec.StatementBalance)
	}
	if rec.Date != last.Date {
		t.Errorf("Date = %s, want %s", rec.Date, last.Date)
	}
	if rec.StatementBalance != balance {
		t.Errorf("StatementBalance = %.2f, want %.2f", rec.StatementBalance, balance)
	}
}

func TestReconciliationExcludesTransfers(t *testing.T) {
	ctx := context.Background()
	s := New()

	balance := 1500.00
	deposit := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, 2000, "PAYROLL")
	out := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 5}, -300, "TRANSFER TO SAVINGS")
	last := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 10}, -500, "RENT")
	last.Balance = &balance
	in := newTxn("wf-savings", civil.Date{Year: 2024, Month: 3, Day: 5}, 300, "TRANSFER IN")
	if err := s.InsertTransactions(ctx, []*domain.Transaction{deposit, out, last, in}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTransfer(ctx, &domain.Transfer{
		ID:                domain.NewID(),
		FromTransactionID: out.ID,
		ToTransactionID:   in.ID,
		TransferType:      "savings-transfer",
		MatchMethod:       "pattern",
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetReconciliation(ctx, "wf-checking")
	if err != nil {
		t.Fatalf("GetReconciliation: %v", err)
	}
	if rec == nil {
		t.Fatal("got nil reconciliation")
	}
	if rec.ComputedBalance != 1500 {
		t.Errorf("ComputedBalance = %.2f, want 1500.00 (transfer excluded)", rec.ComputedBalance)
	}
	if !rec.Balanced {
		t.Errorf("Balanced = false, diff %.2f", rec.Difference)
	}
}

func TestReconciliationDiscrepancy(t *testing.T) {
	ctx := context.Background()
	s := New()

	balance := 100.00
	txn := newTxn("wf-checking", civil.Date{Year: 2024, Month: 3, Day: 1}, 75, "DEPOSIT")
	txn.Balance = &balance
	if err := s.InsertTransactions(ctx, []*domain.Transaction{txn}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetReconciliation(ctx, "wf-checking")
	if err != nil {
		t.Fatalf("GetReconciliation: %v", err)
	}
	if rec == nil {
		t.Fatal("got nil reconciliation")
	}
	if rec.Balanced {
		t.Error("Balanced = true, want discrepancy")
	}
	if rec.Difference < 24.99 || rec.Difference > 25.01 {
		t.Errorf("Difference = %.2f, want 25.00", rec.Difference)
	}
}
