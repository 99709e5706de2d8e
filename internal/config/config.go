// Package config loads the YAML rule tables that drive deduplication and
// categorization: accounts.yaml, categories.yaml, merchants.yaml,
// rules.yaml, and budget_app_category_map.yaml. Rule lists are ordered;
// matchers evaluate them top to bottom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account describes one tracked bank account.
type Account struct {
	ID              string             `yaml:"id"`
	Name            string             `yaml:"name"`
	AccountType     string             `yaml:"account_type"` // checking, savings, credit, loan
	ImportFormat    string             `yaml:"import_format,omitempty"`
	QFXAcctID       string             `yaml:"qfx_acctid,omitempty"`
	BudgetAppName   string             `yaml:"budget_app_name,omitempty"`
	TransferAliases []string           `yaml:"transfer_aliases,omitempty"`
	CategoryFilter  *CategoryFilter    `yaml:"category_filter,omitempty"`
	InterestRule    *InterestDetection `yaml:"interest_detection,omitempty"`
}

// CategoryFilter restricts which categories an account may receive.
// Incompatible matches are overridden to DefaultCategory.
type CategoryFilter struct {
	DefaultCategory    string   `yaml:"default_category"`
	CompatiblePrefixes []string `yaml:"compatible_prefixes,omitempty"`
	CompatibleIDs      []string `yaml:"compatible_ids,omitempty"`
}

// InterestDetection flags interest postings by their bank identifier
// suffix (e.g. a loan servicer that tags interest rows with "-INT").
type InterestDetection struct {
	FITIDSuffix string `yaml:"fitid_suffix"`
	CategoryID  string `yaml:"category_id"`
}

// Category is one node of the category tree.
type Category struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	IsIncome   bool       `yaml:"is_income,omitempty"`
	IsTransfer bool       `yaml:"is_transfer,omitempty"`
	Children   []Category `yaml:"children,omitempty"`
}

// MerchantRule maps a description pattern to a category.
type MerchantRule struct {
	Pattern      string  `yaml:"pattern"`
	Match        string  `yaml:"match,omitempty"` // "contains" (default) or "exact"
	CategoryID   string  `yaml:"category_id"`
	MerchantName string  `yaml:"merchant_name,omitempty"`
	Consistency  float64 `yaml:"consistency,omitempty"` // percent, high-confidence tier only
}

// Merchants holds the two merchant rule tiers.
type Merchants struct {
	Auto           []MerchantRule `yaml:"auto"`
	HighConfidence []MerchantRule `yaml:"high_confidence"`
}

// TransferRule maps a description substring to a known account pair.
type TransferRule struct {
	Pattern     string `yaml:"pattern"`
	FromAccount string `yaml:"from_account"`
	ToAccount   string `yaml:"to_account"`
	Type        string `yaml:"type"` // cc-payment, savings-transfer, loan-payment, internal-transfer
}

// AmountRule is one amount predicate inside an AmountRuleSet: either a
// closed range (bounds in either order) or a whole-dollar check.
type AmountRule struct {
	AmountRange []float64 `yaml:"amount_range,omitempty,flow"`
	WholeDollar bool      `yaml:"whole_dollar,omitempty"`
	CategoryID  string    `yaml:"category_id"`
	Confidence  string    `yaml:"confidence,omitempty"` // high, medium, low
	Note        string    `yaml:"note,omitempty"`
}

// AmountRuleSet resolves an ambiguous merchant by amount, optionally
// scoped to specific accounts.
type AmountRuleSet struct {
	MerchantPattern string       `yaml:"merchant_pattern"`
	Accounts        []string     `yaml:"accounts,omitempty"`
	Rules           []AmountRule `yaml:"rules"`
}

// AccountRule is a per-account default categorization.
type AccountRule struct {
	Account             string `yaml:"account"`
	DefaultCategory     string `yaml:"default_category,omitempty"`
	NonTransferCategory string `yaml:"non_transfer_category,omitempty"`
	Note                string `yaml:"note,omitempty"`
}

// Rules is the contents of rules.yaml.
type Rules struct {
	Transfers          []TransferRule    `yaml:"transfers"`
	AmountRules        []AmountRuleSet   `yaml:"amount_rules"`
	AccountRules       []AccountRule     `yaml:"account_rules"`
	TransferCategories map[string]string `yaml:"transfer_categories"`
	ReceiptCategories  []string          `yaml:"receipt_categories"`
	FallbackCategory   string            `yaml:"fallback_category"`
	MonthlyBudgetCents int               `yaml:"monthly_budget_cents"`
}

// BudgetAppMapping links one budget-app category label to a category ID.
type BudgetAppMapping struct {
	BudgetApp  string `yaml:"budget_app"`
	CategoryID string `yaml:"category_id"`
}

// Config aggregates all loaded rule tables.
type Config struct {
	Accounts   []Account
	Categories []Category
	Merchants  Merchants
	Rules      Rules

	budgetAppCategoryMap map[string]string
}

// Load reads all config files from dir. budget_app_category_map.yaml is
// optional; the other four are required.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("config: directory not found: %s", dir)
	}

	cfg := &Config{}

	var accountsFile struct {
		Accounts []Account `yaml:"accounts"`
	}
	if err := loadYAML(filepath.Join(dir, "accounts.yaml"), &accountsFile); err != nil {
		return nil, err
	}
	cfg.Accounts = accountsFile.Accounts

	var categoriesFile struct {
		Tree []Category `yaml:"tree"`
	}
	if err := loadYAML(filepath.Join(dir, "categories.yaml"), &categoriesFile); err != nil {
		return nil, err
	}
	cfg.Categories = categoriesFile.Tree

	if err := loadYAML(filepath.Join(dir, "merchants.yaml"), &cfg.Merchants); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, "rules.yaml"), &cfg.Rules); err != nil {
		return nil, err
	}

	mapPath := filepath.Join(dir, "budget_app_category_map.yaml")
	if _, err := os.Stat(mapPath); err == nil {
		var grouped map[string][]BudgetAppMapping
		if err := loadYAML(mapPath, &grouped); err != nil {
			return nil, err
		}
		cfg.budgetAppCategoryMap = flattenBudgetAppMap(grouped)
	}

	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func flattenBudgetAppMap(grouped map[string][]BudgetAppMapping) map[string]string {
	flat := make(map[string]string)
	for _, entries := range grouped {
		for _, e := range entries {
			if e.BudgetApp != "" && e.CategoryID != "" {
				flat[e.BudgetApp] = e.CategoryID
			}
		}
	}
	return flat
}

// AccountByID returns the account config for id, or nil.
func (c *Config) AccountByID(id string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return &c.Accounts[i]
		}
	}
	return nil
}

// AccountByQFXAcctID maps an OFX ACCTID to the account configured with
// it, or nil when no account claims that identifier.
func (c *Config) AccountByQFXAcctID(acctid string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].QFXAcctID != "" && c.Accounts[i].QFXAcctID == acctid {
			return &c.Accounts[i]
		}
	}
	return nil
}

// CategoryFilterFor returns the account's category filter, or nil.
func (c *Config) CategoryFilterFor(accountID string) *CategoryFilter {
	if acct := c.AccountByID(accountID); acct != nil {
		return acct.CategoryFilter
	}
	return nil
}

// InterestRuleFor returns the account's interest detection config, or nil.
func (c *Config) InterestRuleFor(accountID string) *InterestDetection {
	if acct := c.AccountByID(accountID); acct != nil {
		return acct.InterestRule
	}
	return nil
}

// FallbackCategory is the category assigned when no rule matches.
func (c *Config) FallbackCategory() string {
	if c.Rules.FallbackCategory != "" {
		return c.Rules.FallbackCategory
	}
	return "uncategorized"
}

// MonthlyBudgetCents is the monthly model-spend cap shared by receipt
// parsing and AI categorization. Defaults to 500 ($5/month).
func (c *Config) MonthlyBudgetCents() int {
	if c.Rules.MonthlyBudgetCents > 0 {
		return c.Rules.MonthlyBudgetCents
	}
	return 500
}

// TransferNameMap maps uppercased account display names (name, budget-app
// name, and any aliases) to account IDs, for resolving "Transfer : <name>"
// descriptions.
func (c *Config) TransferNameMap() map[string]string {
	m := make(map[string]string)
	for _, acct := range c.Accounts {
		if acct.ID == "" {
			continue
		}
		for _, name := range append([]string{acct.Name, acct.BudgetAppName}, acct.TransferAliases...) {
			if name != "" {
				m[strings.ToUpper(name)] = acct.ID
			}
		}
	}
	return m
}

// MercuryAccountRouting maps Mercury "Source Account" column values to
// account IDs, derived from accounts with import_format=mercury_csv.
func (c *Config) MercuryAccountRouting() map[string]string {
	routing := make(map[string]string)
	for _, acct := range c.Accounts {
		if acct.ImportFormat == "mercury_csv" && acct.Name != "" && acct.ID != "" {
			routing[acct.Name] = acct.ID
		}
	}
	return routing
}

// BudgetAppAccountRouting maps budget-app account names to account IDs.
func (c *Config) BudgetAppAccountRouting() map[string]string {
	routing := make(map[string]string)
	for _, acct := range c.Accounts {
		if acct.BudgetAppName != "" && acct.ID != "" {
			routing[acct.BudgetAppName] = acct.ID
		}
	}
	return routing
}

// BudgetAppCategoryMap maps budget-app category labels to category IDs.
func (c *Config) BudgetAppCategoryMap() map[string]string {
	if c.budgetAppCategoryMap == nil {
		return map[string]string{}
	}
	return c.budgetAppCategoryMap
}

// ValidCategoryIDs returns the set of every category ID in the tree.
func (c *Config) ValidCategoryIDs() map[string]bool {
	ids := make(map[string]bool)
	var walk func(nodes []Category)
	walk = func(nodes []Category) {
		for _, n := range nodes {
			if n.ID != "" {
				ids[n.ID] = true
			}
			walk(n.Children)
		}
	}
	walk(c.Categories)
	return ids
}

// CategoryIDList returns all category IDs in tree order, for building
// model prompts.
func (c *Config) CategoryIDList() []string {
	var ids []string
	var walk func(nodes []Category)
	walk = func(nodes []Category) {
		for _, n := range nodes {
			if n.ID != "" {
				ids = append(ids, n.ID)
			}
			walk(n.Children)
		}
	}
	walk(c.Categories)
	return ids
}
