package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
)

// MercuryCSVParser parses Mercury bank CSV exports. One export carries
// every Mercury sub-account; the Source Account column routes rows to
// internal account IDs. Failed and Cancelled rows are dropped, and the
// sub-second Timestamp column serves as the external ID.
type MercuryCSVParser struct {
	routing map[string]string
	warned  map[string]bool
}

// NewMercuryCSVParser creates a parser. routing maps Source Account
// values to account IDs, from accounts configured with
// import_format: mercury_csv.
func NewMercuryCSVParser(routing map[string]string) *MercuryCSVParser {
	return &MercuryCSVParser{routing: routing, warned: make(map[string]bool)}
}

func (p *MercuryCSVParser) Format() string { return "mercury_csv" }

// Detect reports Mercury CSVs by their header columns.
func (p *MercuryCSVParser) Detect(path string) bool {
	head, ok := readHead(path, 512)
	if !ok {
		return false
	}
	header, _, _ := strings.Cut(head, "\n")
	return strings.Contains(header, "Source Account") && strings.Contains(header, "Mercury Category")
}

func (p *MercuryCSVParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Parse: opening %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
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
		status := strings.TrimSpace(cell(rec, cols, "Status"))
		if status == "Failed" || status == "Cancelled" {
			res.Skipped++
			continue
		}
		txn := p.parseRow(ctx, rec, cols)
		if txn == nil {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, txn)
	}
	return &res, nil
}

func (p *MercuryCSVParser) parseRow(ctx context.Context, rec []string, cols map[string]int) *domain.RawTransaction {
	source := strings.TrimSpace(cell(rec, cols, "Source Account"))
	accountID, ok := p.routing[source]
	if !ok {
		if source != "" && !p.warned[source] {
			log := logger.FromContext(ctx)
			log.Warn().
				Str("source_account", source).
				Msg("skipping rows for unmapped Mercury account, add it to accounts.yaml with import_format: mercury_csv")
			p.warned[source] = true
		}
		return nil
	}

	dateStr := strings.TrimSpace(cell(rec, cols, "Date (UTC)"))
	amountStr := strings.TrimSpace(cell(rec, cols, "Amount"))
	if dateStr == "" || amountStr == "" {
		return nil
	}
	date, ok := parseMercuryDate(dateStr)
	if !ok {
		return nil
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return nil
	}

	desc := strings.TrimSpace(cell(rec, cols, "Description"))
	if desc == "" {
		desc = strings.TrimSpace(cell(rec, cols, "Bank Description"))
	}
	return &domain.RawTransaction{
		AccountID:      accountID,
		Date:           date,
		Amount:         amount,
		RawDescription: desc,
		Memo:           strings.TrimSpace(cell(rec, cols, "Note")),
		ExternalID:     strings.TrimSpace(cell(rec, cols, "Timestamp")),
		CheckNum:       strings.TrimSpace(cell(rec, cols, "Check Number")),
	}
}

// parseMercuryDate accepts MM-DD-YYYY (Mercury's export format) and
// passes YYYY-MM-DD through.
func parseMercuryDate(s string) (civil.Date, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return civil.Date{}, false
	}
	if len(parts[0]) != 4 {
		mm, dd := parts[0], parts[1]
		if len(mm) == 1 {
			mm = "0" + mm
		}
		if len(dd) == 1 {
			dd = "0" + dd
		}
		s = fmt.Sprintf("%s-%s-%s", parts[2], mm, dd)
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, false
	}
	return d, true
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}
	return cols
}

func cell(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}
