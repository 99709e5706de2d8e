package commands

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
)

func TestRootCommandSubcommands(t *testing.T) {
	root := NewRootCommand()

	want := []string{"migrate", "import", "categorize", "status", "review", "reconcile", "watch", "sync-notion", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	root := NewRootCommand()

	tests := []struct {
		name string
		def  string
	}{
		{"config", "config"},
		{"project", ""},
		{"dataset", "momoney"},
	}
	for _, tt := range tests {
		f := root.PersistentFlags().Lookup(tt.name)
		if f == nil {
			t.Errorf("persistent flag %q not registered", tt.name)
			continue
		}
		if f.DefValue != tt.def {
			t.Errorf("flag %q default = %q, want %q", tt.name, f.DefValue, tt.def)
		}
	}
}

func TestImportCommandFlags(t *testing.T) {
	root := NewRootCommand()

	for _, sub := range root.Commands() {
		if sub.Name() != "import" {
			continue
		}
		for _, name := range []string{"budget-app", "archive-bucket", "ai", "model", "gmail-credentials", "gmail-user"} {
			if sub.Flags().Lookup(name) == nil {
				t.Errorf("import flag %q not registered", name)
			}
		}
		return
	}
	t.Fatal("import command not registered")
}

func TestReconcileLine(t *testing.T) {
	if got := reconcileLine("wf-checking", nil); !strings.HasPrefix(got, "  wf-checking") || !strings.HasSuffix(got, "No balance data") {
		t.Errorf("no-data line = %q", got)
	}

	balanced := &domain.Reconciliation{
		AccountID:        "wf-checking",
		Date:             civil.Date{Year: 2024, Month: 3, Day: 15},
		StatementBalance: 1450,
		ComputedBalance:  1450,
		Difference:       0,
		Balanced:         true,
	}
	got := reconcileLine("wf-checking", balanced)
	if !strings.Contains(got, "[OK]") || !strings.Contains(got, "statement=1450.00") || !strings.Contains(got, "as of 2024-03-15") {
		t.Errorf("balanced line = %q", got)
	}

	mismatch := &domain.Reconciliation{
		AccountID:        "wf-checking",
		Date:             civil.Date{Year: 2024, Month: 3, Day: 15},
		StatementBalance: 100,
		ComputedBalance:  75,
		Difference:       25,
	}
	got = reconcileLine("wf-checking", mismatch)
	if !strings.Contains(got, "[MISMATCH]") || !strings.Contains(got, "diff=25.00") {
		t.Errorf("mismatch line = %q", got)
	}
}

func TestReviewLine(t *testing.T) {
	conf := 0.42
	txn := &domain.Transaction{
		Date:           civil.Date{Year: 2024, Month: 3, Day: 15},
		Amount:         -42.5,
		AccountID:      "wf-checking",
		RawDescription: "A VERY LONG DESCRIPTION THAT SHOULD BE TRUNCATED FOR DISPLAY",
		Confidence:     &conf,
	}
	got := reviewLine(txn)
	if !strings.Contains(got, "2024-03-15") || !strings.Contains(got, "-42.50") || !strings.Contains(got, "42%") {
		t.Errorf("line = %q", got)
	}
	if strings.Contains(got, "TRUNCATED") {
		t.Errorf("description not truncated to 30 chars: %q", got)
	}

	txn.Confidence = nil
	if got := reviewLine(txn); !strings.Contains(got, "n/a") {
		t.Errorf("nil confidence line = %q", got)
	}
}

func TestCostLine(t *testing.T) {
	if got := costLine("2024-03", 1234); got != "API cost (2024-03): $12.34" {
		t.Errorf("costLine = %q", got)
	}
	if got := costLine("2024-03", 0); got != "API cost (2024-03): $0.00" {
		t.Errorf("zero costLine = %q", got)
	}
}
