package categorize

import (
	"regexp"
	"strings"

	"github.com/dvloznov/momoney/internal/config"
)

// TransferMatch identifies a transaction as one side of an inter-account
// transfer.
type TransferMatch struct {
	FromAccount  string
	ToAccount    string
	TransferType string // cc-payment, savings-transfer, loan-payment, internal-transfer
	Pattern      string
}

// DetectTransfer checks the description against the configured transfer
// patterns. Case-insensitive substring matching; the transaction's
// account must be one side of the configured pair.
func DetectTransfer(description, accountID string, cfg *config.Config) *TransferMatch {
	descUpper := strings.ToUpper(description)

	for _, rule := range cfg.Rules.Transfers {
		if rule.Pattern == "" || rule.FromAccount == "" || rule.ToAccount == "" {
			continue
		}
		if !strings.Contains(descUpper, strings.ToUpper(rule.Pattern)) {
			continue
		}
		if accountID != rule.FromAccount && accountID != rule.ToAccount {
			continue
		}
		transferType := rule.Type
		if transferType == "" {
			transferType = "internal-transfer"
		}
		return &TransferMatch{
			FromAccount:  rule.FromAccount,
			ToAccount:    rule.ToAccount,
			TransferType: transferType,
			Pattern:      rule.Pattern,
		}
	}
	return nil
}

var transferPrefixRe = regexp.MustCompile(`(?i)^Transfer\s*:\s*(.+)`)

// DetectTransferByTxnType infers a transfer from the bank-provided
// transaction type and the "Transfer : <account name>" payee format used
// by Wells Fargo, Capital One and others. Budget-app exports carry the
// prefix without a txn type, so an empty type passes.
//
// Returns nil when the prefix is absent, the txn type contradicts,
// the target account name cannot be resolved, or the resolved account is
// the transaction's own.
func DetectTransferByTxnType(txnType, description string, amount float64, accountID string, cfg *config.Config) *TransferMatch {
	m := transferPrefixRe.FindStringSubmatch(description)
	if m == nil {
		return nil
	}
	if txnType != "" && strings.ToUpper(txnType) != "TRANSFER" {
		return nil
	}

	targetName := strings.TrimSpace(m[1])
	targetUpper := strings.ToUpper(targetName)
	nameMap := cfg.TransferNameMap()

	targetAccount, ok := nameMap[targetUpper]
	if !ok {
		for cfgName, cfgID := range nameMap {
			if strings.Contains(targetUpper, cfgName) || strings.Contains(cfgName, targetUpper) {
				targetAccount = cfgID
				break
			}
		}
	}
	if targetAccount == "" || targetAccount == accountID {
		return nil
	}

	fromAcct, toAcct := accountID, targetAccount
	if amount >= 0 {
		fromAcct, toAcct = targetAccount, accountID
	}

	return &TransferMatch{
		FromAccount:  fromAcct,
		ToAccount:    toAcct,
		TransferType: inferTransferType(accountID, targetAccount, cfg),
		Pattern:      "txn_type:Transfer : " + targetName,
	}
}

// inferTransferType classifies a transfer by the account types involved.
func inferTransferType(accountID, otherAccountID string, cfg *config.Config) string {
	types := make(map[string]bool)
	if acct := cfg.AccountByID(accountID); acct != nil {
		types[strings.ToLower(acct.AccountType)] = true
	}
	if other := cfg.AccountByID(otherAccountID); other != nil {
		types[strings.ToLower(other.AccountType)] = true
	}
	switch {
	case types["credit"]:
		return "cc-payment"
	case types["savings"]:
		return "savings-transfer"
	case types["loan"]:
		return "loan-payment"
	default:
		return "internal-transfer"
	}
}

// DetectInterest flags interest postings by their bank ID suffix, per the
// account's interest_detection config. Returns the category ID or "".
func DetectInterest(externalID, accountID string, cfg *config.Config) string {
	if externalID == "" {
		return ""
	}
	rule := cfg.InterestRuleFor(accountID)
	if rule == nil || rule.FITIDSuffix == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToUpper(externalID), strings.ToUpper(rule.FITIDSuffix)) {
		return ""
	}
	if rule.CategoryID != "" {
		return rule.CategoryID
	}
	return "interest-fees"
}
