package parsers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/momoney/internal/domain"
)

// OFXSGMLParser parses OFX/QFX files in SGML form: OFXHEADER:100
// preamble, <TAG>value lines, closing tags optional. Wells Fargo emits
// single-line SGML without closing tags; Golden1 indents and closes
// every tag. Regex-free tag scanning handles both.
type OFXSGMLParser struct {
	accountID string
}

// NewOFXSGMLParser creates a parser that attributes every transaction
// to accountID.
func NewOFXSGMLParser(accountID string) *OFXSGMLParser {
	return &OFXSGMLParser{accountID: accountID}
}

func (p *OFXSGMLParser) Format() string { return "ofx_sgml" }

// Detect reports SGML OFX: the OFXHEADER preamble with no XML
// declaration.
func (p *OFXSGMLParser) Detect(path string) bool {
	head, ok := readHead(path, 200)
	if !ok {
		return false
	}
	return strings.Contains(head, "OFXHEADER:100") && !strings.Contains(strings.ToLower(head), "<?xml")
}

func (p *OFXSGMLParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Parse: reading %s: %w", path, err)
	}
	content := string(data)

	var res Result
	balance := sgmlBalance(content)

	for _, block := range splitSGMLTransactions(content) {
		txn := p.parseBlock(block, balance)
		if txn == nil {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, txn)
	}
	return &res, nil
}

// splitSGMLTransactions cuts the content into STMTTRN blocks. A block
// ends at its closing tag, the next opening tag, or the end of the
// transaction list.
func splitSGMLTransactions(content string) []string {
	chunks := strings.Split(content, "<STMTTRN>")
	if len(chunks) < 2 {
		return nil
	}
	blocks := make([]string, 0, len(chunks)-1)
	for _, chunk := range chunks[1:] {
		if i := strings.Index(chunk, "</STMTTRN>"); i >= 0 {
			chunk = chunk[:i]
		}
		if i := strings.Index(chunk, "</BANKTRANLIST>"); i >= 0 {
			chunk = chunk[:i]
		}
		blocks = append(blocks, chunk)
	}
	return blocks
}

func (p *OFXSGMLParser) parseBlock(block string, balance *float64) *domain.RawTransaction {
	dtposted := sgmlTag(block, "DTPOSTED")
	trnamt := sgmlTag(block, "TRNAMT")
	if dtposted == "" || trnamt == "" {
		return nil
	}
	date, ok := parseOFXDate(dtposted)
	if !ok {
		return nil
	}
	amount, err := parseAmount(trnamt)
	if err != nil {
		return nil
	}

	var bal *float64
	if balance != nil {
		b := *balance
		bal = &b
	}
	return &domain.RawTransaction{
		AccountID:      p.accountID,
		Date:           date,
		Amount:         amount,
		RawDescription: sgmlTag(block, "NAME"),
		Memo:           sgmlTag(block, "MEMO"),
		TxnType:        sgmlTag(block, "TRNTYPE"),
		ExternalID:     sgmlTag(block, "FITID"),
		CheckNum:       sgmlTag(block, "CHECKNUM"),
		Balance:        bal,
	}
}

// sgmlTag extracts the value after <TAG>, terminated by the next tag or
// line break. Works with and without closing tags.
func sgmlTag(block, tag string) string {
	open := "<" + tag + ">"
	i := strings.Index(block, open)
	if i < 0 {
		return ""
	}
	rest := block[i+len(open):]
	if j := strings.IndexAny(rest, "<\n\r"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// sgmlBalance extracts the ledger balance if present.
func sgmlBalance(content string) *float64 {
	raw := sgmlTag(content, "BALAMT")
	if raw == "" {
		return nil
	}
	v, err := parseAmount(raw)
	if err != nil {
		return nil
	}
	return &v
}
