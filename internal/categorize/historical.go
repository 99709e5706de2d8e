package categorize

import (
	"context"
	"fmt"
	"math"

	"github.com/dvloznov/momoney/internal/domain"
)

// Historical pattern thresholds. Exact matches (same description and
// amount) need two unanimous priors; description-only matches need three
// priors with 80% agreement, user-corrected allocations weighted 1.5x.
const (
	exactMinCount    = 2
	exactConfidence  = 0.95
	descMinCount     = 3
	descMinAgreement = 0.80
	descConfidence   = 0.85
	userWeight       = 1.5
	amountTolerance  = 0.01
)

// HistoryRepository provides past categorization aggregates.
type HistoryRepository interface {
	GetHistoricalCategoryCounts(ctx context.Context, normalizedDescription string) ([]domain.CategoryCount, error)
}

// HistoricalMatch is the result of a historical pattern lookup.
type HistoricalMatch struct {
	CategoryID   string
	Confidence   float64
	MatchLevel   string // "exact" or "description"
	MatchCount   int
	AgreementPct float64
}

// MatchHistorical looks for a categorization pattern among past
// transactions sharing the normalized description.
func MatchHistorical(ctx context.Context, repo HistoryRepository, normalizedDescription string, amount float64) (*HistoricalMatch, error) {
	if normalizedDescription == "" || repo == nil {
		return nil, nil
	}

	rows, err := repo.GetHistoricalCategoryCounts(ctx, normalizedDescription)
	if err != nil {
		return nil, fmt.Errorf("MatchHistorical: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Level 1: same description and same amount, unanimous.
	var exactRows []domain.CategoryCount
	for _, r := range rows {
		if math.Abs(r.Amount-amount) <= amountTolerance {
			exactRows = append(exactRows, r)
		}
	}
	if len(exactRows) > 0 {
		total := 0
		unanimous := true
		for _, r := range exactRows {
			total += r.Count
			if r.CategoryID != exactRows[0].CategoryID {
				unanimous = false
			}
		}
		if total >= exactMinCount && unanimous {
			return &HistoricalMatch{
				CategoryID:   exactRows[0].CategoryID,
				Confidence:   exactConfidence,
				MatchLevel:   "exact",
				MatchCount:   total,
				AgreementPct: 1.0,
			}, nil
		}
	}

	// Level 2: description only, weighted vote across amounts.
	totalCount := 0
	totalWeighted := 0.0
	catWeights := make(map[string]float64)
	for _, r := range rows {
		w := float64(r.Count) + float64(r.UserCount)*(userWeight-1)
		totalCount += r.Count
		totalWeighted += w
		catWeights[r.CategoryID] += w
	}
	if totalCount < descMinCount {
		return nil, nil
	}

	bestCat := ""
	bestWeight := 0.0
	for cat, w := range catWeights {
		if w > bestWeight || (w == bestWeight && cat < bestCat) {
			bestCat = cat
			bestWeight = w
		}
	}
	agreement := 0.0
	if totalWeighted > 0 {
		agreement = bestWeight / totalWeighted
	}
	if agreement < descMinAgreement {
		return nil, nil
	}

	return &HistoricalMatch{
		CategoryID:   bestCat,
		Confidence:   descConfidence,
		MatchLevel:   "description",
		MatchCount:   totalCount,
		AgreementPct: agreement,
	}, nil
}
