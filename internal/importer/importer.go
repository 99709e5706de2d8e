// Package importer orchestrates a single statement file through the
// full intake path: file-hash dedup, parser detection, parsing, the
// tiered transaction dedup, and categorization of whatever survived.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/categorize"
	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/dedup"
	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
	"github.com/dvloznov/momoney/internal/match"
	"github.com/dvloznov/momoney/internal/parsers"
	"github.com/dvloznov/momoney/internal/store"
)

// SupportedExtensions are the file types the importer accepts.
var SupportedExtensions = map[string]bool{
	".qfx": true,
	".ofx": true,
	".csv": true,
}

// Import outcome statuses.
const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	StatusError     = "error"
)

// Result summarizes one file import.
type Result struct {
	FileName         string
	Status           string
	NewCount         int
	DuplicateCount   int
	FlaggedCount     int
	CategorizedCount int
	SkippedCount     int
	ErrorMessage     string
}

// Importer runs files through parse, dedup and categorize.
type Importer struct {
	store    store.Store
	cfg      *config.Config
	dedup    *dedup.Engine
	pipeline *categorize.Pipeline
}

// New wires an importer. The pipeline decides which categorization
// collaborators (receipts, AI) are active.
func New(st store.Store, cfg *config.Config, engine *dedup.Engine, pipe *categorize.Pipeline) *Importer {
	return &Importer{store: st, cfg: cfg, dedup: engine, pipeline: pipe}
}

var acctidRe = regexp.MustCompile(`<ACCTID>([^<\n\r]+)`)

// extractAcctID pulls the OFX ACCTID out of a statement file. Works for
// both SGML and XML variants.
func extractAcctID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	m := acctidRe.FindSubmatch(data)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

// resolveAccountID maps an OFX ACCTID to the configured account, falling
// back to the raw identifier when no account claims it.
func (im *Importer) resolveAccountID(ctx context.Context, acctid string) string {
	if acct := im.cfg.AccountByQFXAcctID(acctid); acct != nil {
		return acct.ID
	}
	// The raw ACCTID is a bank account identifier, keep it out of logs.
	log := logger.FromContext(ctx)
	log.Warn().Msg("no account mapping found for ACCTID")
	return acctid
}

// detectParser finds the parser for a file, resolving the OFX account
// for the statement parsers first.
func (im *Importer) detectParser(ctx context.Context, path string) (parsers.Parser, error) {
	accountID := "unknown"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".qfx" || ext == ".ofx" {
		if acctid := extractAcctID(path); acctid != "" {
			accountID = im.resolveAccountID(ctx, acctid)
		}
	}

	registry := parsers.ForConfig(im.cfg, accountID)
	p := registry.Detect(path)
	if p == nil {
		return nil, fmt.Errorf("detectParser: no parser found for file: %s", path)
	}
	return p, nil
}

// ProcessFile runs the full import on a single bank file. Failures after
// the import row exists mark it failed rather than leaving it pending;
// the returned Result carries the error message either way.
func (im *Importer) ProcessFile(ctx context.Context, path string) (*Result, error) {
	log := logger.FromContext(ctx)
	fileName := filepath.Base(path)

	if !SupportedExtensions[strings.ToLower(filepath.Ext(path))] {
		return &Result{
			FileName:     fileName,
			Status:       StatusError,
			ErrorMessage: fmt.Sprintf("unsupported file extension: %s", filepath.Ext(path)),
		}, nil
	}

	fileHash, err := match.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("ProcessFile: hashing %s: %w", fileName, err)
	}
	isDup, err := im.dedup.CheckFileDuplicate(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("ProcessFile: %w", err)
	}
	if isDup {
		log.Info().Str("file", fileName).Msg("duplicate file skipped")
		return &Result{FileName: fileName, Status: StatusDuplicate}, nil
	}

	imp, err := im.recordImport(ctx, path, fileName, fileHash)
	if err != nil {
		return nil, err
	}
	if imp == nil {
		// Another process imported this file between our check and
		// insert. Same outcome as a duplicate.
		log.Info().Str("file", fileName).Msg("duplicate file (race)")
		return &Result{FileName: fileName, Status: StatusDuplicate}, nil
	}

	result, err := im.ingest(ctx, path, imp)
	if err != nil {
		msg := err.Error()
		im.failImport(ctx, imp.ID, msg)
		log.Error().Err(err).Str("file", fileName).Msg("import failed")
		return &Result{FileName: fileName, Status: StatusError, ErrorMessage: msg}, nil
	}
	return result, nil
}

func (im *Importer) recordImport(ctx context.Context, path, fileName, fileHash string) (*domain.Import, error) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	imp := &domain.Import{
		ID:        domain.NewID(),
		FileName:  fileName,
		FileHash:  fileHash,
		FileSize:  size,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	if err := im.store.InsertImport(ctx, imp); err != nil {
		if errors.Is(err, store.ErrDuplicateImport) {
			return nil, nil
		}
		return nil, fmt.Errorf("recordImport: %w", err)
	}
	return imp, nil
}

func (im *Importer) ingest(ctx context.Context, path string, imp *domain.Import) (*Result, error) {
	log := logger.FromContext(ctx)

	parser, err := im.detectParser(ctx, path)
	if err != nil {
		return nil, err
	}

	parsed, err := parser.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if parsed.Skipped > 0 {
		log.Warn().
			Str("file", imp.FileName).
			Int("skipped", parsed.Skipped).
			Msg("parser skipped rows, check account routing config")
	}

	if len(parsed.Transactions) == 0 {
		im.completeImport(ctx, imp.ID, 0)
		return &Result{FileName: imp.FileName, Status: StatusSuccess, SkippedCount: parsed.Skipped}, nil
	}

	batch, err := im.dedup.ProcessBatch(ctx, parsed.Transactions, imp.ID, domain.SourceBank)
	if err != nil {
		return nil, err
	}

	// Flagged fuzzy matches get categorized too, they only differ in
	// needing review.
	categorized := 0
	for _, txn := range batch.Transactions {
		if txn.Status != domain.StatusPending && txn.Status != domain.StatusFlagged {
			continue
		}
		result, err := im.pipeline.Categorize(ctx, txn)
		if err != nil {
			return nil, err
		}
		if err := im.pipeline.Apply(ctx, txn, result); err != nil {
			return nil, err
		}
		categorized++
	}

	im.completeImport(ctx, imp.ID, len(parsed.Transactions))

	return &Result{
		FileName:         imp.FileName,
		Status:           StatusSuccess,
		NewCount:         batch.NewCount,
		DuplicateCount:   batch.DuplicateCount,
		FlaggedCount:     batch.FlaggedCount,
		CategorizedCount: categorized,
		SkippedCount:     parsed.Skipped,
	}, nil
}

// ProcessBudgetAppFile runs the one-time historical import from a
// budget-app register export. Rows that carried a category in the
// export are applied directly; the rest run through the pipeline. The
// caller should wire the pipeline without an AI client, bulk history is
// not worth the spend.
func (im *Importer) ProcessBudgetAppFile(ctx context.Context, path string) (*Result, error) {
	log := logger.FromContext(ctx)
	fileName := filepath.Base(path)

	parser := parsers.NewBudgetAppCSVParser(im.cfg.BudgetAppCategoryMap(), im.cfg.BudgetAppAccountRouting())
	if !parser.Detect(path) {
		return &Result{
			FileName:     fileName,
			Status:       StatusError,
			ErrorMessage: "not a budget-app register export",
		}, nil
	}

	fileHash, err := match.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("ProcessBudgetAppFile: hashing %s: %w", fileName, err)
	}
	isDup, err := im.dedup.CheckFileDuplicate(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("ProcessBudgetAppFile: %w", err)
	}
	if isDup {
		return &Result{FileName: fileName, Status: StatusDuplicate}, nil
	}

	imp, err := im.recordImport(ctx, path, fileName, fileHash)
	if err != nil {
		return nil, err
	}
	if imp == nil {
		return &Result{FileName: fileName, Status: StatusDuplicate}, nil
	}

	result, err := im.ingestBudgetApp(ctx, path, parser, imp)
	if err != nil {
		msg := err.Error()
		im.failImport(ctx, imp.ID, msg)
		log.Error().Err(err).Str("file", fileName).Msg("budget-app import failed")
		return &Result{FileName: fileName, Status: StatusError, ErrorMessage: msg}, nil
	}
	return result, nil
}

type budgetKey struct {
	AccountID string
	Date      civil.Date
	Amount    float64
	Desc      string
}

func (im *Importer) ingestBudgetApp(ctx context.Context, path string, parser parsers.Parser, imp *domain.Import) (*Result, error) {
	parsed, err := parser.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(parsed.Transactions) == 0 {
		im.completeImport(ctx, imp.ID, 0)
		return &Result{FileName: imp.FileName, Status: StatusSuccess, SkippedCount: parsed.Skipped}, nil
	}

	// Pre-mapped categories survive dedup via a raw-field lookup; the
	// persisted transaction does not carry them.
	preMapped := make(map[budgetKey]string)
	for _, raw := range parsed.Transactions {
		if raw.BudgetAppCategoryID != "" {
			preMapped[budgetKey{raw.AccountID, raw.Date, raw.Amount, raw.RawDescription}] = raw.BudgetAppCategoryID
		}
	}

	batch, err := im.dedup.ProcessBatch(ctx, parsed.Transactions, imp.ID, domain.SourceBudgetApp)
	if err != nil {
		return nil, err
	}

	categorized := 0
	for _, txn := range batch.Transactions {
		if txn.Status != domain.StatusPending && txn.Status != domain.StatusFlagged {
			continue
		}
		key := budgetKey{txn.AccountID, txn.Date, txn.Amount, txn.RawDescription}
		if catID, ok := preMapped[key]; ok {
			if err := im.pipeline.ApplyPreMapped(ctx, txn, catID); err != nil {
				return nil, err
			}
		} else {
			result, err := im.pipeline.Categorize(ctx, txn)
			if err != nil {
				return nil, err
			}
			if err := im.pipeline.Apply(ctx, txn, result); err != nil {
				return nil, err
			}
		}
		categorized++
	}

	im.completeImport(ctx, imp.ID, len(parsed.Transactions))

	return &Result{
		FileName:         imp.FileName,
		Status:           StatusSuccess,
		NewCount:         batch.NewCount,
		DuplicateCount:   batch.DuplicateCount,
		FlaggedCount:     batch.FlaggedCount,
		CategorizedCount: categorized,
		SkippedCount:     parsed.Skipped,
	}, nil
}

func (im *Importer) completeImport(ctx context.Context, importID string, records int) {
	now := time.Now().UTC()
	upd := store.ImportUpdate{RecordCount: &records, CompletedAt: &now}
	if err := im.store.UpdateImportStatus(ctx, importID, "completed", upd); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("import_id", importID).Msg("failed to mark import completed")
	}
}

func (im *Importer) failImport(ctx context.Context, importID, msg string) {
	if len(msg) > 500 {
		msg = msg[:500]
	}
	upd := store.ImportUpdate{ErrorMessage: &msg}
	if err := im.store.UpdateImportStatus(ctx, importID, "failed", upd); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("import_id", importID).Msg("failed to mark import failed")
	}
}
