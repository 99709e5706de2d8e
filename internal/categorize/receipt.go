package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/config"
	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
	"github.com/dvloznov/momoney/internal/match"
)

// Apple charges aggregate subscriptions, so amounts vary widely and only
// the description pattern is reliable.
var applePatterns = []string{"APPLE.COM/BILL"}

var amazonPatterns = []string{"AMAZON", "AMZN"}

const (
	appleTolerance     = 1.00 // dollars
	amazonTolerancePct = 0.05

	receiptParseCostCents = 3

	maxReceiptBodies = 5
)

// Receipt lookup outcomes recorded on the transaction.
const (
	ReceiptStatusError          = "error"
	ReceiptStatusNoEmail        = "no_email"
	ReceiptStatusBudgetExceeded = "budget_exceeded"
	ReceiptStatusNoMatch        = "no_match"
	ReceiptStatusMatched        = "matched"
)

// ReceiptMailbox searches and fetches receipt emails.
type ReceiptMailbox interface {
	SearchReceipts(ctx context.Context, merchant string, date civil.Date) ([]string, error)
	GetMessageBody(ctx context.Context, messageID string) (string, error)
}

// ReceiptRepository is the store slice the receipt lookup needs.
type ReceiptRepository interface {
	UsageRepository
	SetReceiptLookupStatus(ctx context.Context, txnID, status string) error
	InsertReceiptMatch(ctx context.Context, m *domain.ReceiptMatch) error
	GetAllocationsByTransaction(ctx context.Context, txnID string) ([]*domain.Allocation, error)
	InsertAllocation(ctx context.Context, alloc *domain.Allocation) error
	UpdateTransactionStatus(ctx context.Context, txnID, status string, confidence *float64, method string) error
}

// ReceiptItem is a single line item extracted from a receipt email.
type ReceiptItem struct {
	Name       string
	Amount     float64
	CategoryID string
}

// ParsedReceipt is the model's extraction from one email.
type ParsedReceipt struct {
	Items         []ReceiptItem
	OrderTotal    float64
	ShipmentTotal float64
}

// ReceiptResult is the outcome of a receipt lookup for one transaction.
type ReceiptResult struct {
	Matched        bool
	Items          []ReceiptItem
	GmailMessageID string
	MatchType      string
	Confidence     float64
}

type parsedEmail struct {
	msgID  string
	parsed ParsedReceipt
}

// ReceiptLookup matches Apple and Amazon charges to receipt emails:
// Gmail search, model extraction, then subset-sum (Apple) or
// shipment-total (Amazon) matching. Falls through quietly when Gmail is
// unavailable or nothing matches.
type ReceiptLookup struct {
	mail ReceiptMailbox
	repo ReceiptRepository
	ai   AIClient
	cfg  *config.Config

	// Per-message parse cache; one model call per email per run even
	// when several transactions search the same window. Failed parses
	// are cached empty so they are not retried.
	parseCache map[string]ParsedReceipt
}

// NewReceiptLookup wires a lookup. ai may be nil, which disables
// extraction (searches still record their status).
func NewReceiptLookup(mail ReceiptMailbox, repo ReceiptRepository, ai AIClient, cfg *config.Config) *ReceiptLookup {
	return &ReceiptLookup{
		mail:       mail,
		repo:       repo,
		ai:         ai,
		cfg:        cfg,
		parseCache: make(map[string]ParsedReceipt),
	}
}

// merchantType reports whether a transaction is an Apple or Amazon
// receipt candidate.
func merchantType(txn *domain.Transaction) string {
	desc := strings.ToUpper(txn.RawDescription)
	for _, p := range applePatterns {
		if strings.Contains(desc, p) {
			return "apple"
		}
	}
	for _, p := range amazonPatterns {
		if strings.Contains(desc, p) {
			return "amazon"
		}
	}
	return ""
}

// Resolve orchestrates the receipt lookup for one transaction. Returns
// nil when the transaction is not a candidate or nothing matched; the
// lookup status is recorded on the transaction either way.
func (r *ReceiptLookup) Resolve(ctx context.Context, txn *domain.Transaction) (*ReceiptResult, error) {
	log := logger.FromContext(ctx)

	merchant := merchantType(txn)
	if merchant == "" {
		return nil, nil
	}
	month := fmt.Sprintf("%04d-%02d", txn.Date.Year, int(txn.Date.Month))

	ids, err := r.mail.SearchReceipts(ctx, merchant, txn.Date)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", txn.ID).Str("merchant", merchant).Msg("gmail search failed")
		if err := r.repo.SetReceiptLookupStatus(ctx, txn.ID, ReceiptStatusError); err != nil {
			return nil, fmt.Errorf("Resolve: recording error status: %w", err)
		}
		return nil, nil
	}
	if err := r.repo.IncrementAPIUsage(ctx, month, "gmail_search", 1, 0); err != nil {
		return nil, fmt.Errorf("Resolve: recording gmail usage: %w", err)
	}
	if len(ids) == 0 {
		log.Debug().Str("transaction_id", txn.ID).Str("merchant", merchant).Msg("no receipt emails found")
		if err := r.repo.SetReceiptLookupStatus(ctx, txn.ID, ReceiptStatusNoEmail); err != nil {
			return nil, fmt.Errorf("Resolve: recording no_email status: %w", err)
		}
		return nil, nil
	}

	type emailBody struct {
		msgID string
		body  string
	}
	var bodies []emailBody
	for _, id := range ids {
		if len(bodies) >= maxReceiptBodies {
			break
		}
		body, err := r.mail.GetMessageBody(ctx, id)
		if err != nil || body == "" {
			continue
		}
		bodies = append(bodies, emailBody{msgID: id, body: body})
	}
	if len(bodies) == 0 {
		if err := r.repo.SetReceiptLookupStatus(ctx, txn.ID, ReceiptStatusNoEmail); err != nil {
			return nil, fmt.Errorf("Resolve: recording no_email status: %w", err)
		}
		return nil, nil
	}

	var receipts []parsedEmail
	for _, eb := range bodies {
		parsed, ok, err := r.extractReceipt(ctx, txn, eb.msgID, eb.body, month)
		if err != nil {
			return nil, err
		}
		if ok {
			receipts = append(receipts, parsedEmail{msgID: eb.msgID, parsed: parsed})
		}
	}
	if len(receipts) == 0 {
		status := ReceiptStatusNoMatch
		if r.ai != nil {
			cost, err := r.repo.GetMonthlyCost(ctx, month)
			if err != nil {
				return nil, fmt.Errorf("Resolve: checking budget: %w", err)
			}
			if cost >= r.cfg.MonthlyBudgetCents() {
				status = ReceiptStatusBudgetExceeded
			}
		}
		if err := r.repo.SetReceiptLookupStatus(ctx, txn.ID, status); err != nil {
			return nil, fmt.Errorf("Resolve: recording status: %w", err)
		}
		return nil, nil
	}

	var result *ReceiptResult
	switch merchant {
	case "apple":
		var items []ReceiptItem
		for _, re := range receipts {
			items = append(items, re.parsed.Items...)
		}
		if len(items) > 0 {
			result = resolveApple(txn, items, receipts[0].msgID)
		}
	case "amazon":
		result = resolveAmazon(txn, receipts)
	}

	status := ReceiptStatusNoMatch
	if result != nil && result.Matched {
		status = ReceiptStatusMatched
	}
	if err := r.repo.SetReceiptLookupStatus(ctx, txn.ID, status); err != nil {
		return nil, fmt.Errorf("Resolve: recording status: %w", err)
	}
	return result, nil
}

// ApplyResult persists a successful receipt match: the audit record,
// one allocation per matched item (signed like the transaction), and the
// status update. Transactions that already carry allocations keep them.
func (r *ReceiptLookup) ApplyResult(ctx context.Context, txn *domain.Transaction, result *ReceiptResult) error {
	log := logger.FromContext(ctx)
	if result == nil || !result.Matched || len(result.Items) == 0 {
		return nil
	}

	type itemRecord struct {
		Name       string  `json:"name"`
		Amount     float64 `json:"amount"`
		CategoryID string  `json:"category_id,omitempty"`
	}
	records := make([]itemRecord, len(result.Items))
	for i, it := range result.Items {
		records[i] = itemRecord{Name: it.Name, Amount: it.Amount, CategoryID: it.CategoryID}
	}
	matchedJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("ApplyResult: encoding items: %w", err)
	}
	if err := r.repo.InsertReceiptMatch(ctx, &domain.ReceiptMatch{
		ID:             domain.NewID(),
		TransactionID:  txn.ID,
		GmailMessageID: result.GmailMessageID,
		MatchType:      result.MatchType,
		MatchedItems:   string(matchedJSON),
		Confidence:     result.Confidence,
	}); err != nil {
		return fmt.Errorf("ApplyResult: inserting receipt match: %w", err)
	}

	existing, err := r.repo.GetAllocationsByTransaction(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("ApplyResult: checking allocations: %w", err)
	}
	if len(existing) > 0 {
		log.Warn().
			Str("transaction_id", txn.ID).
			Int("allocations", len(existing)).
			Msg("transaction already allocated, skipping receipt allocations")
		return nil
	}

	sign := 1.0
	if txn.Amount < 0 {
		sign = -1.0
	}
	for _, item := range result.Items {
		categoryID := item.CategoryID
		if categoryID == "" {
			categoryID = "uncategorized"
		}
		conf := result.Confidence
		if err := r.repo.InsertAllocation(ctx, &domain.Allocation{
			ID:            domain.NewID(),
			TransactionID: txn.ID,
			CategoryID:    categoryID,
			Amount:        sign * math.Abs(item.Amount),
			Memo:          item.Name,
			Source:        domain.SourceReceipt,
			Confidence:    &conf,
		}); err != nil {
			return fmt.Errorf("ApplyResult: inserting allocation: %w", err)
		}
	}

	conf := result.Confidence
	if err := r.repo.UpdateTransactionStatus(ctx, txn.ID, domain.StatusCategorized, &conf, "gmail_receipt"); err != nil {
		return fmt.Errorf("ApplyResult: updating status: %w", err)
	}
	return nil
}

// resolveApple finds a subset of extracted items summing to the charge
// within a dollar. Apple receipts rarely exceed ten items, so the search
// is brute force.
func resolveApple(txn *domain.Transaction, items []ReceiptItem, msgID string) *ReceiptResult {
	charge := math.Abs(txn.Amount)
	amounts := make([]float64, len(items))
	for i, it := range items {
		amounts[i] = it.Amount
	}
	indices := match.SubsetSumAbs(amounts, charge, appleTolerance, 1)
	if indices == nil {
		return nil
	}
	matched := make([]ReceiptItem, len(indices))
	for i, idx := range indices {
		matched[i] = items[idx]
	}
	return &ReceiptResult{
		Matched:        true,
		Items:          matched,
		GmailMessageID: msgID,
		MatchType:      "apple_subset_sum",
		Confidence:     0.85,
	}
}

// resolveAmazon matches a charge against receipt emails in phases:
// per-email shipment total, per-email order total, per-email item
// subset-sum, then a cross-email subset-sum as a last resort.
func resolveAmazon(txn *domain.Transaction, receipts []parsedEmail) *ReceiptResult {
	charge := math.Abs(txn.Amount)
	if charge == 0 {
		return nil
	}

	within := func(total float64) bool {
		return total > 0 && math.Abs(total-charge)/charge <= amazonTolerancePct
	}

	for _, re := range receipts {
		if within(re.parsed.ShipmentTotal) {
			return &ReceiptResult{
				Matched:        true,
				Items:          re.parsed.Items,
				GmailMessageID: re.msgID,
				MatchType:      "amazon_shipment_total",
				Confidence:     0.90,
			}
		}
	}

	for _, re := range receipts {
		if within(re.parsed.OrderTotal) {
			return &ReceiptResult{
				Matched:        true,
				Items:          re.parsed.Items,
				GmailMessageID: re.msgID,
				MatchType:      "amazon_order_total",
				Confidence:     0.85,
			}
		}
	}

	for _, re := range receipts {
		if len(re.parsed.Items) == 0 {
			continue
		}
		if result := amazonSubsetMatch(charge, re.parsed.Items, re.msgID, 0.80); result != nil {
			return result
		}
	}

	if len(receipts) > 1 {
		var all []ReceiptItem
		for _, re := range receipts {
			all = append(all, re.parsed.Items...)
		}
		if len(all) > 0 {
			if result := amazonSubsetMatch(charge, all, receipts[0].msgID, 0.75); result != nil {
				return result
			}
		}
	}
	return nil
}

// amazonSubsetMatch tries an all-items total first, then subset-sum.
func amazonSubsetMatch(charge float64, items []ReceiptItem, msgID string, confidence float64) *ReceiptResult {
	total := 0.0
	for _, it := range items {
		total += it.Amount
	}
	if total > 0 && math.Abs(total-charge)/charge <= amazonTolerancePct {
		return &ReceiptResult{
			Matched:        true,
			Items:          items,
			GmailMessageID: msgID,
			MatchType:      "amazon_shipment",
			Confidence:     confidence,
		}
	}

	amounts := make([]float64, len(items))
	for i, it := range items {
		amounts[i] = it.Amount
	}
	indices := match.SubsetSumRel(amounts, charge, amazonTolerancePct, 1)
	if indices == nil {
		return nil
	}
	matched := make([]ReceiptItem, len(indices))
	for i, idx := range indices {
		matched[i] = items[idx]
	}
	return &ReceiptResult{
		Matched:        true,
		Items:          matched,
		GmailMessageID: msgID,
		MatchType:      "amazon_subset_sum",
		Confidence:     confidence,
	}
}

// extractReceipt parses one email via the model, with per-message
// caching. The bool result is false when nothing could be extracted.
func (r *ReceiptLookup) extractReceipt(ctx context.Context, txn *domain.Transaction, msgID, body, month string) (ParsedReceipt, bool, error) {
	log := logger.FromContext(ctx)

	if cached, ok := r.parseCache[msgID]; ok {
		return cached, true, nil
	}
	if r.ai == nil {
		log.Warn().Msg("no model configured for receipt parsing")
		return ParsedReceipt{}, false, nil
	}

	cost, err := r.repo.GetMonthlyCost(ctx, month)
	if err != nil {
		return ParsedReceipt{}, false, fmt.Errorf("extractReceipt: checking budget: %w", err)
	}
	if cost >= r.cfg.MonthlyBudgetCents() {
		log.Warn().
			Int("cost_cents", cost).
			Int("budget_cents", r.cfg.MonthlyBudgetCents()).
			Msg("monthly model budget exceeded, skipping receipt parse")
		return ParsedReceipt{}, false, nil
	}

	categoryInstruction := "    - \"category_id\": suggest a category like \"subscription\", \"digital-purchase\", \"software\", etc.\n"
	if len(r.cfg.Rules.ReceiptCategories) > 0 {
		categoryInstruction = fmt.Sprintf(
			"    - \"category_id\": suggest a category from this list: %s\n",
			strings.Join(r.cfg.Rules.ReceiptCategories, ", "),
		)
	}
	system := "You are a receipt parser. Extract information from the email receipt below. " +
		"Return a JSON object with:\n" +
		"  - \"items\": array of line items, each with:\n" +
		"    - \"name\": item/subscription name\n" +
		"    - \"amount\": price as a positive number (e.g., 9.99)\n" +
		categoryInstruction +
		"  - \"order_total\": the order total from the email as a positive number, or null if not found\n" +
		"  - \"shipment_total\": the shipment/charge total from the email as a positive number, or null if not found\n" +
		"Return ONLY the JSON object, no other text."

	prompt := fmt.Sprintf(
		"Transaction: %s for $%.2f on %s\n\nEmail receipt:\n%s",
		txn.RawDescription, math.Abs(txn.Amount), txn.Date.String(), body,
	)

	response, err := r.ai.Generate(ctx, system, prompt)
	if err != nil {
		log.Error().Err(err).Str("message_id", msgID).Str("transaction_id", txn.ID).Msg("receipt extraction failed")
		r.parseCache[msgID] = ParsedReceipt{}
		return ParsedReceipt{}, false, nil
	}
	if err := r.repo.IncrementAPIUsage(ctx, month, "claude_receipt_parse", 1, receiptParseCostCents); err != nil {
		return ParsedReceipt{}, false, fmt.Errorf("extractReceipt: recording usage: %w", err)
	}

	parsed := parseReceiptResponse(ctx, response)
	if len(r.cfg.Rules.ReceiptCategories) > 0 {
		valid := make(map[string]bool, len(r.cfg.Rules.ReceiptCategories))
		for _, c := range r.cfg.Rules.ReceiptCategories {
			valid[c] = true
		}
		for i, item := range parsed.Items {
			if item.CategoryID != "" && !valid[item.CategoryID] {
				log.Warn().
					Str("category_id", item.CategoryID).
					Str("item", item.Name).
					Msg("model returned receipt category not in config")
				parsed.Items[i].CategoryID = "uncategorized"
			}
		}
	}

	r.parseCache[msgID] = parsed
	return parsed, true, nil
}

// parseReceiptResponse decodes the model's JSON, accepting both the
// object format with totals and a bare item list.
func parseReceiptResponse(ctx context.Context, response string) ParsedReceipt {
	log := logger.FromContext(ctx)
	text := cleanModelJSON(response)

	type jsonItem struct {
		Name       string          `json:"name"`
		Amount     json.RawMessage `json:"amount"`
		CategoryID string          `json:"category_id"`
	}
	parseItems := func(raw []jsonItem) []ReceiptItem {
		var items []ReceiptItem
		for _, entry := range raw {
			var amount float64
			if len(entry.Amount) > 0 {
				if err := json.Unmarshal(entry.Amount, &amount); err != nil {
					continue
				}
			}
			if entry.Name != "" && amount > 0 {
				items = append(items, ReceiptItem{
					Name:       entry.Name,
					Amount:     amount,
					CategoryID: entry.CategoryID,
				})
			}
		}
		return items
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		var list []jsonItem
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			log.Error().Str("response", truncate(trimmed, 200)).Msg("failed to parse receipt response")
			return ParsedReceipt{}
		}
		return ParsedReceipt{Items: parseItems(list)}
	}

	var obj struct {
		Items         []jsonItem `json:"items"`
		OrderTotal    *float64   `json:"order_total"`
		ShipmentTotal *float64   `json:"shipment_total"`
	}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		log.Error().Str("response", truncate(trimmed, 200)).Msg("failed to parse receipt response")
		return ParsedReceipt{}
	}
	parsed := ParsedReceipt{Items: parseItems(obj.Items)}
	if obj.OrderTotal != nil {
		parsed.OrderTotal = *obj.OrderTotal
	}
	if obj.ShipmentTotal != nil {
		parsed.ShipmentTotal = *obj.ShipmentTotal
	}
	return parsed
}
