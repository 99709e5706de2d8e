package parsers

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOFXSGMLParser_WellsFargo(t *testing.T) {
	p := NewOFXSGMLParser("wf-checking")
	require.True(t, p.Detect("testdata/wf_checking.qfx"))

	res, err := p.Parse(context.Background(), "testdata/wf_checking.qfx")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, 0, res.Skipped)

	first := res.Transactions[0]
	assert.Equal(t, "wf-checking", first.AccountID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, first.Date)
	assert.Equal(t, -42.50, first.Amount)
	assert.Equal(t, "TRADER JOE S 123 SAN FRANCIS", first.RawDescription)
	assert.Equal(t, "POS PURCHASE", first.Memo)
	assert.Equal(t, "DEBIT", first.TxnType)
	assert.Equal(t, "202403150001", first.ExternalID)
	require.NotNil(t, first.Balance)
	assert.Equal(t, 4207.50, *first.Balance)

	check := res.Transactions[1]
	assert.Equal(t, "1042", check.CheckNum)
	assert.Equal(t, "CHECK", check.TxnType)

	payroll := res.Transactions[2]
	assert.Equal(t, 3500.00, payroll.Amount)
	assert.Equal(t, "ACME PAYROLL", payroll.RawDescription)
}

func TestOFXSGMLParser_Golden1ClosingTags(t *testing.T) {
	p := NewOFXSGMLParser("golden1-loan")
	require.True(t, p.Detect("testdata/golden1_loan.qfx"))

	res, err := p.Parse(context.Background(), "testdata/golden1_loan.qfx")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, 1, res.Skipped, "malformed date row should be skipped")

	payment := res.Transactions[0]
	assert.Equal(t, -385.12, payment.Amount)
	assert.Equal(t, "AUTO LOAN PAYMENT", payment.RawDescription)
	require.NotNil(t, payment.Balance)
	assert.Equal(t, -10405.77, *payment.Balance)

	interest := res.Transactions[1]
	assert.Equal(t, "20240315002-INT", interest.ExternalID)
	assert.Equal(t, "INT", interest.TxnType)
}

func TestOFXXMLParser_CapitalOne(t *testing.T) {
	p := NewOFXXMLParser("capone-credit")
	require.True(t, p.Detect("testdata/capone_credit.qfx"))
	assert.False(t, p.Detect("testdata/wf_checking.qfx"))

	res, err := p.Parse(context.Background(), "testdata/capone_credit.qfx")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, 0, res.Skipped)

	apple := res.Transactions[0]
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 14}, apple.Date)
	assert.Equal(t, -116.98, apple.Amount)
	assert.Equal(t, "APPLE.COM/BILL", apple.RawDescription)
	require.NotNil(t, apple.Balance)
	assert.Equal(t, -612.43, *apple.Balance)

	payment := res.Transactions[1]
	assert.Equal(t, 500.00, payment.Amount)
	assert.Equal(t, "PAYMENT RECEIVED", payment.Memo)

	// No NAME element: description falls back to the memo.
	amazon := res.Transactions[2]
	assert.Equal(t, "AMZN MKTP US 2ABC4", amazon.RawDescription)
	assert.Equal(t, "AMZN MKTP US 2ABC4", amazon.Memo)
}

func TestMercuryCSVParser(t *testing.T) {
	p := NewMercuryCSVParser(map[string]string{
		"Mercury Checking xx1234": "mercury-checking",
	})
	require.True(t, p.Detect("testdata/mercury_export.csv"))
	assert.False(t, p.Detect("testdata/budget_register.csv"))

	res, err := p.Parse(context.Background(), "testdata/mercury_export.csv")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, 2, res.Skipped, "failed row and unmapped account row")

	aws := res.Transactions[0]
	assert.Equal(t, "mercury-checking", aws.AccountID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, aws.Date)
	assert.Equal(t, -120.00, aws.Amount)
	assert.Equal(t, "AWS", aws.RawDescription)
	assert.Equal(t, "2024-03-15T08:12:33.120Z", aws.ExternalID)

	payout := res.Transactions[1]
	assert.Equal(t, "March study", payout.Memo)

	stripe := res.Transactions[2]
	assert.Equal(t, 1850.00, stripe.Amount, "thousands separator inside quotes")
	assert.Equal(t, "Stripe, Inc. payout", stripe.RawDescription)
}

func TestBudgetAppCSVParser(t *testing.T) {
	p := NewBudgetAppCSVParser(
		map[string]string{
			"Everyday: Groceries": "groceries",
			"Income: Paycheck":    "income-paycheck",
		},
		map[string]string{"My Checking": "wf-checking"},
	)
	require.True(t, p.Detect("testdata/budget_register.csv"))
	assert.False(t, p.Detect("testdata/mercury_export.csv"))

	res, err := p.Parse(context.Background(), "testdata/budget_register.csv")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, 2, res.Skipped, "unmapped account row and invalid date row")

	tj := res.Transactions[0]
	assert.Equal(t, "wf-checking", tj.AccountID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, tj.Date)
	assert.Equal(t, -42.50, tj.Amount, "outflow becomes a negative amount")
	assert.Equal(t, "Trader Joe's", tj.RawDescription)
	assert.Equal(t, "weekly run", tj.Memo)
	assert.Equal(t, "groceries", tj.BudgetAppCategoryID)
	assert.Empty(t, tj.TxnType)

	transfer := res.Transactions[1]
	assert.Equal(t, "TRANSFER", transfer.TxnType)
	assert.Equal(t, -500.00, transfer.Amount)
	assert.Empty(t, transfer.BudgetAppCategoryID)

	paycheck := res.Transactions[2]
	assert.Equal(t, 3500.00, paycheck.Amount, "dollar sign and comma stripped")
	assert.Equal(t, "income-paycheck", paycheck.BudgetAppCategoryID)
}

func TestRegistryDetect(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOFXSGMLParser("wf-checking"))
	r.Register(NewOFXXMLParser("capone-credit"))
	r.Register(NewMercuryCSVParser(nil))
	r.Register(NewBudgetAppCSVParser(nil, nil))

	tests := []struct {
		path   string
		format string
	}{
		{"testdata/wf_checking.qfx", "ofx_sgml"},
		{"testdata/golden1_loan.qfx", "ofx_sgml"},
		{"testdata/capone_credit.qfx", "ofx_xml"},
		{"testdata/mercury_export.csv", "mercury_csv"},
		{"testdata/budget_register.csv", "budget_app_csv"},
	}
	for _, tt := range tests {
		p := r.Detect(tt.path)
		require.NotNil(t, p, tt.path)
		assert.Equal(t, tt.format, p.Format(), tt.path)
	}

	assert.Nil(t, r.Detect("testdata/nonexistent.qfx"))
}

func TestRegistryGetAndDuplicates(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOFXSGMLParser(""))

	assert.NotNil(t, r.Get("OFX_SGML"), "format lookup is case-insensitive")
	assert.Nil(t, r.Get("chase"))
	assert.Panics(t, func() { r.Register(NewOFXSGMLParser("")) })
}

func TestParseOFXDate(t *testing.T) {
	tests := []struct {
		in   string
		want civil.Date
		ok   bool
	}{
		{"20241231120000.000[-7:MST]", civil.Date{Year: 2024, Month: time.December, Day: 31}, true},
		{"20241231120000[0:GMT]", civil.Date{Year: 2024, Month: time.December, Day: 31}, true},
		{"20240229", civil.Date{Year: 2024, Month: time.February, Day: 29}, true},
		{"2024123", civil.Date{}, false},
		{"20241332", civil.Date{}, false},
		{"", civil.Date{}, false},
	}
	for _, tt := range tests {
		got, ok := parseOFXDate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
