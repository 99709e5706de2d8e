package importer

import (
	"context"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/categorize"
	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/dedup"
	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/match"
	"github.com/dvloznov/momoney/internal/store/memory"
)

func newImporter(t *testing.T) (*Importer, *memory.Store) {
	t.Helper()
	cfg, err := config.Load(filepath.Join("testdata", "config"))
	if err != nil {
		t.Fatal(err)
	}
	s := memory.New()
	engine := dedup.NewEngine(s)
	pipe := categorize.NewPipeline(s, cfg, nil, nil)
	return New(s, cfg, engine, pipe), s
}

func mustHash(t *testing.T, path string) string {
	t.Helper()
	h, err := match.FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestProcessFileQFX(t *testing.T) {
	ctx := context.Background()
	im, s := newImporter(t)

	res, err := im.ProcessFile(ctx, filepath.Join("testdata", "wf_checking.qfx"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q (%s), want success", res.Status, res.ErrorMessage)
	}
	if res.NewCount != 3 {
		t.Errorf("NewCount = %d, want 3", res.NewCount)
	}
	if res.CategorizedCount != 3 {
		t.Errorf("CategorizedCount = %d, want 3", res.CategorizedCount)
	}

	// ACCTID 000001234567 resolves to wf-checking via accounts.yaml.
	txn, err := s.GetTransactionByExternalID(ctx, "wf-checking", "202403150001")
	if err != nil {
		t.Fatal(err)
	}
	if txn == nil {
		t.Fatal("statement transaction not persisted under mapped account")
	}
	if txn.Status != domain.StatusCategorized {
		t.Errorf("status = %q, want categorized", txn.Status)
	}
	if txn.CategorizationMethod != "merchant_auto" {
		t.Errorf("method = %q, want merchant_auto", txn.CategorizationMethod)
	}

	imp, err := s.GetImportByHash(ctx, mustHash(t, filepath.Join("testdata", "wf_checking.qfx")))
	if err != nil {
		t.Fatal(err)
	}
	if imp == nil || imp.Status != "completed" {
		t.Fatalf("import not marked completed: %+v", imp)
	}
	if imp.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", imp.RecordCount)
	}
}

func TestProcessFileDuplicate(t *testing.T) {
	ctx := context.Background()
	im, _ := newImporter(t)
	path := filepath.Join("testdata", "wf_checking.qfx")

	if _, err := im.ProcessFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	res, err := im.ProcessFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusDuplicate {
		t.Errorf("second import status = %q, want duplicate", res.Status)
	}
	if res.NewCount != 0 {
		t.Errorf("second import NewCount = %d, want 0", res.NewCount)
	}
}

func TestProcessFileUnsupportedExtension(t *testing.T) {
	ctx := context.Background()
	im, _ := newImporter(t)

	res, err := im.ProcessFile(ctx, filepath.Join("testdata", "config", "rules.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestProcessFileUndetectable(t *testing.T) {
	ctx := context.Background()
	im, s := newImporter(t)
	path := filepath.Join("testdata", "unknown.csv")

	res, err := im.ProcessFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}

	imp, err := s.GetImportByHash(ctx, mustHash(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if imp == nil || imp.Status != "failed" {
		t.Fatalf("import not marked failed: %+v", imp)
	}
	if imp.ErrorMessage == "" {
		t.Error("failed import has no error message")
	}
}

func TestProcessBudgetAppFile(t *testing.T) {
	ctx := context.Background()
	im, s := newImporter(t)

	res, err := im.ProcessBudgetAppFile(ctx, filepath.Join("testdata", "budget_register.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q (%s), want success", res.Status, res.ErrorMessage)
	}
	if res.NewCount != 2 {
		t.Errorf("NewCount = %d, want 2", res.NewCount)
	}
	if res.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1 (unmapped account row)", res.SkippedCount)
	}

	// Pre-mapped row applies the export's category directly.
	txns, err := s.GetTransactionsByAccountAndDate(ctx, "wf-checking", civil.Date{Year: 2024, Month: 3, Day: 15})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions on 03/15, want 1", len(txns))
	}
	txn := txns[0]
	if txn.CategorizationMethod != "budget_app_import" {
		t.Errorf("method = %q, want budget_app_import", txn.CategorizationMethod)
	}
	allocs, err := s.GetAllocationsByTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 1 {
		t.Fatalf("got %d allocations, want 1", len(allocs))
	}
	if allocs[0].CategoryID != "groceries" {
		t.Errorf("category = %q, want groceries", allocs[0].CategoryID)
	}
	if allocs[0].Source != domain.SourceBudgetApp {
		t.Errorf("source = %q, want budget_app", allocs[0].Source)
	}

	// The transfer row has no pre-mapped category and runs the chain.
	txns, err = s.GetTransactionsByAccountAndDate(ctx, "wf-checking", civil.Date{Year: 2024, Month: 3, Day: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions on 03/10, want 1", len(txns))
	}
	if txns[0].Status != domain.StatusCategorized {
		t.Errorf("transfer row status = %q, want categorized", txns[0].Status)
	}
}

func TestProcessBudgetAppFileWrongFormat(t *testing.T) {
	ctx := context.Background()
	im, _ := newImporter(t)

	res, err := im.ProcessBudgetAppFile(ctx, filepath.Join("testdata", "wf_checking.qfx"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestExtractAcctID(t *testing.T) {
	got := extractAcctID(filepath.Join("testdata", "wf_checking.qfx"))
	if got != "000001234567" {
		t.Errorf("extractAcctID = %q, want 000001234567", got)
	}
	if extractAcctID(filepath.Join("testdata", "unknown.csv")) != "" {
		t.Error("extractAcctID found an ACCTID in a plain CSV")
	}
}
