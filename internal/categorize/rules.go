package categorize

import (
	"strings"

	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/match"
)

// Confidence for the amount-rule labels.
var ruleConfidence = map[string]float64{
	"high":   0.90,
	"medium": 0.75,
	"low":    0.60,
}

// RuleMatch is the result of an amount or account rule lookup.
type RuleMatch struct {
	CategoryID string
	Confidence float64
	Method     string // "amount_rule" or "account_rule"
	Note       string
}

// MatchAmountRule resolves ambiguous merchants by transaction amount.
// Apple.com/Bill, CSAA and Whole Foods charges land in different
// categories depending on how much was paid; the rule sets enumerate the
// known ranges. Rule sets may be scoped to specific accounts, and a rule
// may test for whole-dollar amounts instead of a range.
func MatchAmountRule(description string, amount float64, accountID string, cfg *config.Config) *RuleMatch {
	descUpper := strings.ToUpper(description)

	for _, set := range cfg.Rules.AmountRules {
		if set.MerchantPattern == "" {
			continue
		}
		if !strings.Contains(descUpper, strings.ToUpper(set.MerchantPattern)) {
			continue
		}
		if len(set.Accounts) > 0 && !containsString(set.Accounts, accountID) {
			continue
		}

		for _, rule := range set.Rules {
			switch {
			case rule.WholeDollar:
				if !match.WholeUnit(amount) {
					continue
				}
			case len(rule.AmountRange) == 2:
				lo, hi := rule.AmountRange[0], rule.AmountRange[1]
				if lo > hi {
					lo, hi = hi, lo
				}
				if amount < lo || amount > hi {
					continue
				}
			default:
				continue
			}
			if rule.CategoryID == "" {
				continue
			}

			confidence, ok := ruleConfidence[rule.Confidence]
			if !ok {
				confidence = ruleConfidence["medium"]
			}
			return &RuleMatch{
				CategoryID: rule.CategoryID,
				Confidence: confidence,
				Method:     "amount_rule",
				Note:       rule.Note,
			}
		}
	}
	return nil
}

// MatchAccountRule applies per-account default categorization. A
// non-transfer default outranks a plain default.
func MatchAccountRule(accountID string, cfg *config.Config) *RuleMatch {
	for _, rule := range cfg.Rules.AccountRules {
		if rule.Account != accountID {
			continue
		}
		if rule.NonTransferCategory != "" {
			return &RuleMatch{
				CategoryID: rule.NonTransferCategory,
				Confidence: 0.80,
				Method:     "account_rule",
				Note:       rule.Note,
			}
		}
		if rule.DefaultCategory != "" {
			return &RuleMatch{
				CategoryID: rule.DefaultCategory,
				Confidence: 0.60,
				Method:     "account_rule",
				Note:       rule.Note,
			}
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
