// Package categorize assigns categories to imported transactions via a
// fallback chain: transfer detection, merchant rules, historical
// patterns, amount and account rules, receipt lookup, AI suggestion, and
// finally manual review.
package categorize

import (
	"strings"

	"github.com/dvloznov/momoney/internal/config"
)

// defaultConsistency is the assumed accuracy percentage for
// high-confidence merchants that do not declare one.
const defaultConsistency = 85.0

// MerchantMatch is the result of a merchant rule lookup.
type MerchantMatch struct {
	CategoryID   string
	Confidence   float64
	MerchantName string
	Tier         string // "auto" or "high_confidence"
}

// MatchMerchantAuto checks the deterministic merchant rules. A hit is
// always confidence 1.0.
func MatchMerchantAuto(description string, cfg *config.Config) *MerchantMatch {
	return matchAgainstRules(description, cfg.Merchants.Auto, "auto", true)
}

// MatchMerchantHigh checks the high-confidence merchant rules. These are
// right most of the time but not always (Philz is usually coffee,
// sometimes groceries for beans), so the confidence comes from the
// rule's observed consistency.
func MatchMerchantHigh(description string, cfg *config.Config) *MerchantMatch {
	return matchAgainstRules(description, cfg.Merchants.HighConfidence, "high_confidence", false)
}

func matchAgainstRules(description string, rules []config.MerchantRule, tier string, auto bool) *MerchantMatch {
	descUpper := strings.ToUpper(description)

	for _, rule := range rules {
		if rule.Pattern == "" || rule.CategoryID == "" {
			continue
		}
		patternUpper := strings.ToUpper(rule.Pattern)

		var matched bool
		switch rule.Match {
		case "exact":
			matched = descUpper == patternUpper
		default: // "contains"
			matched = strings.Contains(descUpper, patternUpper)
		}
		if !matched {
			continue
		}

		confidence := 1.0
		if !auto {
			consistency := rule.Consistency
			if consistency == 0 {
				consistency = defaultConsistency
			}
			confidence = consistency / 100.0
		}
		name := rule.MerchantName
		if name == "" {
			name = rule.Pattern
		}
		return &MerchantMatch{
			CategoryID:   rule.CategoryID,
			Confidence:   confidence,
			MerchantName: name,
			Tier:         tier,
		}
	}
	return nil
}
