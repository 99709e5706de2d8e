package parsers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvloznov/momoney/internal/domain"
)

// OFXXMLParser parses OFX/QFX files in XML form, as emitted by Capital
// One (bank and credit card paths) and American Express. STMTTRN
// elements are found wherever they appear, so the CREDITCARDMSGSRSV1
// and BANKMSGSRSV1 paths both work.
type OFXXMLParser struct {
	accountID string
}

// NewOFXXMLParser creates a parser that attributes every transaction to
// accountID.
func NewOFXXMLParser(accountID string) *OFXXMLParser {
	return &OFXXMLParser{accountID: accountID}
}

func (p *OFXXMLParser) Format() string { return "ofx_xml" }

// Detect reports XML OFX: an XML or OFX processing instruction with the
// OFX root nearby.
func (p *OFXXMLParser) Detect(path string) bool {
	head, ok := readHead(path, 200)
	if !ok {
		return false
	}
	hasDecl := strings.Contains(strings.ToLower(head), "<?xml") || strings.Contains(head, "<?OFX")
	return hasDecl && strings.Contains(head, "<OFX>")
}

func (p *OFXXMLParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Parse: reading %s: %w", path, err)
	}
	content := trimToOFXRoot(string(data))

	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var res Result
	var balance *float64
	var stack []string
	var fields map[string]string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Parse: decoding %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if t.Name.Local == "STMTTRN" {
				fields = make(map[string]string)
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" || len(stack) == 0 {
				break
			}
			name := stack[len(stack)-1]
			switch {
			case fields != nil && name != "STMTTRN":
				fields[name] += text
			case name == "BALAMT" && len(stack) >= 2 && stack[len(stack)-2] == "LEDGERBAL" && balance == nil:
				if v, err := parseAmount(text); err == nil {
					balance = &v
				}
			}
		case xml.EndElement:
			if t.Name.Local == "STMTTRN" {
				if txn := p.buildTransaction(fields); txn != nil {
					res.Transactions = append(res.Transactions, txn)
				} else {
					res.Skipped++
				}
				fields = nil
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// The ledger balance trails the transaction list in the file, so
	// attach it after the walk.
	if balance != nil {
		for _, txn := range res.Transactions {
			b := *balance
			txn.Balance = &b
		}
	}
	return &res, nil
}

func (p *OFXXMLParser) buildTransaction(fields map[string]string) *domain.RawTransaction {
	dtposted := fields["DTPOSTED"]
	trnamt := fields["TRNAMT"]
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

	desc := fields["NAME"]
	if desc == "" {
		desc = fields["MEMO"]
	}
	return &domain.RawTransaction{
		AccountID:      p.accountID,
		Date:           date,
		Amount:         amount,
		RawDescription: desc,
		Memo:           fields["MEMO"],
		TxnType:        fields["TRNTYPE"],
		ExternalID:     fields["FITID"],
		CheckNum:       fields["CHECKNUM"],
	}
}

// trimToOFXRoot drops the BOM and anything before the <OFX> root, which
// keeps declaration quirks away from the XML decoder.
func trimToOFXRoot(content string) string {
	content = strings.TrimPrefix(strings.TrimSpace(content), "\uFEFF")
	if idx := strings.Index(content, "<OFX>"); idx > 0 {
		content = content[idx:]
	}
	return content
}
