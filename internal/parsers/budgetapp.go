package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
)

// BudgetAppCSVParser parses budget-app register exports for one-time
// historical import. Quirks: a BOM at the front, amounts like
// "$1,477.40", separate Outflow/Inflow columns, MM/DD/YYYY dates, and
// transfers marked by a "Transfer : " payee prefix. Categories are
// pre-mapped through the budget-app category map so historical
// assignments survive the migration.
type BudgetAppCSVParser struct {
	categoryMap map[string]string
	routing     map[string]string
	warned      map[string]bool
}

// NewBudgetAppCSVParser creates a parser. categoryMap translates budget
// app category strings to category IDs; routing maps budget-app account
// names (the budget_app_name field in accounts.yaml) to account IDs.
func NewBudgetAppCSVParser(categoryMap, routing map[string]string) *BudgetAppCSVParser {
	return &BudgetAppCSVParser{
		categoryMap: categoryMap,
		routing:     routing,
		warned:      make(map[string]bool),
	}
}

func (p *BudgetAppCSVParser) Format() string { return "budget_app_csv" }

// Detect reports budget-app register CSVs by their header columns.
func (p *BudgetAppCSVParser) Detect(path string) bool {
	head, ok := readHead(path, 512)
	if !ok {
		return false
	}
	header, _, _ := strings.Cut(head, "\n")
	return strings.Contains(header, "Category Group/Category") && strings.Contains(header, "Outflow")
}

func (p *BudgetAppCSVParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Parse: reading %s: %w", path, err)
	}
	// Exports lead with a BOM, which trips the CSV reader when the
	// header fields are quoted.
	content := strings.TrimPrefix(string(data), "\uFEFF")

	cr := csv.NewReader(strings.NewReader(content))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("Parse: reading %s: %w", path, err)
	}
	if len(records) < 2 {
		return &Result{}, nil
	}

	cols := columnIndex(records[0])
	var res Result
	for _, rec := range records[1:] {
		txn := p.parseRow(ctx, rec, cols)
		if txn == nil {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, txn)
	}
	return &res, nil
}

func (p *BudgetAppCSVParser) parseRow(ctx context.Context, rec []string, cols map[string]int) *domain.RawTransaction {
	accountName := strings.TrimSpace(cell(rec, cols, "Account"))
	accountID, ok := p.routing[accountName]
	if !ok {
		if accountName != "" && !p.warned[accountName] {
			log := logger.FromContext(ctx)
			log.Warn().
				Str("account", accountName).
				Msg("skipping rows for unmapped budget-app account, add budget_app_name to accounts.yaml")
			p.warned[accountName] = true
		}
		return nil
	}

	dateStr := strings.TrimSpace(cell(rec, cols, "Date"))
	if dateStr == "" {
		return nil
	}
	date, ok := parseBudgetAppDate(dateStr)
	if !ok {
		return nil
	}
	amount, ok := parseBudgetAppAmount(
		cell(rec, cols, "Outflow"),
		cell(rec, cols, "Inflow"),
	)
	if !ok {
		return nil
	}

	payee := strings.TrimSpace(cell(rec, cols, "Payee"))
	txnType := ""
	if strings.HasPrefix(payee, "Transfer :") {
		txnType = "TRANSFER"
	}
	return &domain.RawTransaction{
		AccountID:           accountID,
		Date:                date,
		Amount:              amount,
		RawDescription:      payee,
		Memo:                strings.TrimSpace(cell(rec, cols, "Memo")),
		TxnType:             txnType,
		BudgetAppCategoryID: p.categoryMap[strings.TrimSpace(cell(rec, cols, "Category Group/Category"))],
	}
}

// parseBudgetAppDate converts MM/DD/YYYY.
func parseBudgetAppDate(s string) (civil.Date, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return civil.Date{}, false
	}
	mm, dd, yyyy := parts[0], parts[1], parts[2]
	if len(mm) == 1 {
		mm = "0" + mm
	}
	if len(dd) == 1 {
		dd = "0" + dd
	}
	d, err := civil.ParseDate(yyyy + "-" + mm + "-" + dd)
	if err != nil {
		return civil.Date{}, false
	}
	return d, true
}

// parseBudgetAppAmount returns inflow minus outflow, stripping currency
// decorations.
func parseBudgetAppAmount(outflow, inflow string) (float64, bool) {
	clean := func(s string) (decimal.Decimal, error) {
		s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "$", ""), ",", ""))
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	out, err := clean(outflow)
	if err != nil {
		return 0, false
	}
	in, err := clean(inflow)
	if err != nil {
		return 0, false
	}
	return in.Sub(out).InexactFloat64(), true
}
