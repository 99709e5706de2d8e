// Package parsers converts bank export files into raw transactions.
// Each parser knows one export format; the registry picks the right one
// by sniffing the file.
package parsers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/domain"
)

// Result is one parsed file. Skipped counts rows dropped for missing
// routing or invalid data; check it after a parse to catch silent loss.
type Result struct {
	Transactions []*domain.RawTransaction
	Skipped      int
}

// Parser handles one bank export format.
type Parser interface {
	Format() string
	Detect(path string) bool
	Parse(ctx context.Context, path string) (*Result, error)
}

// Registry holds parsers in registration order, which is also the
// detection order.
type Registry struct {
	order    []Parser
	byFormat map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byFormat: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.byFormat[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.byFormat[key] = p
	r.order = append(r.order, p)
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.byFormat[strings.ToLower(format)]
}

// Detect returns the first registered parser that claims the file, or
// nil.
func (r *Registry) Detect(path string) Parser {
	for _, p := range r.order {
		if p.Detect(path) {
			return p
		}
	}
	return nil
}

// ForConfig builds a registry with all built-in parsers. accountID is
// the target account for OFX files, which do not name the account
// themselves; it may be empty when only CSV formats are expected.
func ForConfig(cfg *config.Config, accountID string) *Registry {
	r := NewRegistry()
	r.Register(NewOFXSGMLParser(accountID))
	r.Register(NewOFXXMLParser(accountID))
	r.Register(NewMercuryCSVParser(cfg.MercuryAccountRouting()))
	r.Register(NewBudgetAppCSVParser(cfg.BudgetAppCategoryMap(), cfg.BudgetAppAccountRouting()))
	return r
}

// readHead returns up to n bytes from the start of the file for format
// sniffing.
func readHead(path string, n int) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return "", false
	}
	return string(buf[:read]), true
}

// parseOFXDate extracts a date from OFX timestamp strings like
// "20241231120000.000[-7:MST]" or a bare "20241231".
func parseOFXDate(dtposted string) (civil.Date, bool) {
	if len(dtposted) < 8 {
		return civil.Date{}, false
	}
	t, err := time.Parse("20060102", dtposted[:8])
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

// parseAmount parses a money string, tolerating thousands separators.
func parseAmount(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
