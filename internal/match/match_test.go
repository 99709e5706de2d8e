package match

import (
	"testing"

	"cloud.google.com/go/civil"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"uppercases", "Amazon.com", "AMAZON.COM"},
		{"strips long digit runs", "AMAZON.COM*MB2KR7PH0 12345", "AMAZON.COMMB2KR7PH0"},
		{"keeps short digits", "TST* CAFE 42", "TST CAFE 42"},
		{"strips hash numbers", "CHECK #123 DEPOSIT", "CHECK DEPOSIT"},
		{"strips decorators", "SQ *COFFEE #SHOP", "SQ COFFEE SHOP"},
		{"collapses whitespace", "WELLS   FARGO    BANK", "WELLS FARGO BANK"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDescription(tt.input); got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "AMAZON.COM", "AMAZON.COM", 1.0, 1.0},
		{"both empty", "", "", 1.0, 1.0},
		{"one empty", "AMAZON", "", 0.0, 0.0},
		{"near identical", "WHOLEFDS MKT", "WHOLEFDS MRKT", 0.85, 1.0},
		{"unrelated", "SHELL OIL", "NETFLIX.COM", 0.0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a, b := "CAPITAL ONE AUTOPAY", "CAPITAL ONE CRCARDPMT"
	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("Similarity not symmetric for %q / %q", a, b)
	}
}

func TestDescriptionsRelated(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"containment", "APPLE.COM/BILL", "APPLE", true},
		{"shared word", "US PATENT TRADEMARK", "US PATENT AND TRADEMARK OFFICE", true},
		{"unrelated", "SHELL OIL", "NETFLIX", false},
		{"empty", "", "APPLE", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescriptionsRelated(tt.a, tt.b); got != tt.want {
				t.Errorf("DescriptionsRelated(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSubsetSumAbs(t *testing.T) {
	tests := []struct {
		name    string
		amounts []float64
		target  float64
		tol     float64
		minSize int
		want    []int
	}{
		{
			name:    "two item split",
			amounts: []float64{-99.99, -16.99},
			target:  -116.98,
			tol:     0.01,
			minSize: 2,
			want:    []int{0, 1},
		},
		{
			name:    "single item rejected at min size 2",
			amounts: []float64{-100.0},
			target:  -100.0,
			tol:     0.01,
			minSize: 2,
			want:    nil,
		},
		{
			name:    "single item allowed at min size 1",
			amounts: []float64{22.99, 9.99},
			target:  9.99,
			tol:     0.01,
			minSize: 1,
			want:    []int{1},
		},
		{
			name:    "smallest subset wins",
			amounts: []float64{5.00, 3.00, 8.00},
			target:  8.00,
			tol:     0.01,
			minSize: 1,
			want:    []int{2},
		},
		{
			name:    "no match",
			amounts: []float64{-10.00, -20.00},
			target:  -25.00,
			tol:     0.01,
			minSize: 2,
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubsetSumAbs(tt.amounts, tt.target, tt.tol, tt.minSize)
			if !equalInts(got, tt.want) {
				t.Errorf("SubsetSumAbs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubsetSumRel(t *testing.T) {
	// All three items within $1 of 45.97 at 5% relative tolerance.
	got := SubsetSumRel([]float64{22.99, 9.99, 12.99}, 45.97, 0.05, 1)
	if !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("SubsetSumRel() = %v, want [0 1 2]", got)
	}

	if got := SubsetSumRel([]float64{10.0}, 0, 0.05, 1); got != nil {
		t.Errorf("SubsetSumRel with zero target = %v, want nil", got)
	}
	// Negative subset totals never match a positive target.
	if got := SubsetSumRel([]float64{-45.97}, 45.97, 0.05, 1); got != nil {
		t.Errorf("SubsetSumRel negative amounts = %v, want nil", got)
	}
}

func TestWholeUnit(t *testing.T) {
	tests := []struct {
		amount float64
		want   bool
	}{
		{-100.0, true},
		{25.0, true},
		{-344.09, false},
		{99.999, true},
		{-0.004, true},
		{12.50, false},
	}
	for _, tt := range tests {
		if got := WholeUnit(tt.amount); got != tt.want {
			t.Errorf("WholeUnit(%v) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestImportHashStable(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 3, Day: 15}
	h1 := ImportHash("wf-checking", d, -42.50, "TRADER JOE'S")
	h2 := ImportHash("wf-checking", d, -42.50, "TRADER JOE'S")
	if h1 != h2 {
		t.Error("ImportHash not stable for identical inputs")
	}
	if len(h1) != 64 {
		t.Errorf("ImportHash length = %d, want 64 hex chars", len(h1))
	}
	if h3 := ImportHash("wf-checking", d, -42.51, "TRADER JOE'S"); h3 == h1 {
		t.Error("ImportHash identical for different amounts")
	}
}

func TestDedupKey(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 3, Day: 15}
	got := DedupKey("wf-checking", d, -116.98)
	want := "wf-checking:2024-03-15:-11698"
	if got != want {
		t.Errorf("DedupKey() = %q, want %q", got, want)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
