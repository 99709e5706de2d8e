// Package memory is a map-backed Store used by tests and local dry runs.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/store"
)

// Store keeps everything in process memory. Safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	imports      map[string]*domain.Import // keyed by import ID
	importHashes map[string]string         // file hash -> import ID
	transactions map[string]*domain.Transaction
	insertOrder  []string
	allocations  map[string][]*domain.Allocation // txn ID -> allocations
	transfers    []*domain.Transfer
	receipts     []*domain.ReceiptMatch
	usage        map[string]*domain.APIUsage // month|service
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		imports:      make(map[string]*domain.Import),
		importHashes: make(map[string]string),
		transactions: make(map[string]*domain.Transaction),
		allocations:  make(map[string][]*domain.Allocation),
		usage:        make(map[string]*domain.APIUsage),
	}
}

func (s *Store) InsertImport(ctx context.Context, imp *domain.Import) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.importHashes[imp.FileHash]; ok {
		return store.ErrDuplicateImport
	}
	cp := *imp
	s.imports[cp.ID] = &cp
	s.importHashes[cp.FileHash] = cp.ID
	return nil
}

func (s *Store) GetImportByHash(ctx context.Context, fileHash string) (*domain.Import, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.importHashes[fileHash]
	if !ok {
		return nil, nil
	}
	cp := *s.imports[id]
	return &cp, nil
}

func (s *Store) UpdateImportStatus(ctx context.Context, importID, status string, upd store.ImportUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[importID]
	if !ok {
		return fmt.Errorf("UpdateImportStatus: import %s not found", importID)
	}
	imp.Status = status
	if upd.RecordCount != nil {
		imp.RecordCount = *upd.RecordCount
	}
	if upd.ErrorMessage != nil {
		imp.ErrorMessage = *upd.ErrorMessage
	}
	if upd.CompletedAt != nil {
		imp.CompletedAt = upd.CompletedAt
	}
	return nil
}

func (s *Store) InsertTransactions(ctx context.Context, txns []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txns {
		if t.ID == "" {
			return fmt.Errorf("InsertTransactions: transaction without ID")
		}
		cp := *t
		s.transactions[cp.ID] = &cp
		s.insertOrder = append(s.insertOrder, cp.ID)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[txnID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.insertOrder {
		t := s.transactions[id]
		if t.AccountID == accountID && t.ExternalID != "" && t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetTransactionsByImportHash(ctx context.Context, importHash string) ([]*domain.Transaction, error) {
	return s.selectTxns(func(t *domain.Transaction) bool { return t.ImportHash == importHash }), nil
}

func (s *Store) GetTransactionsByDedupKey(ctx context.Context, dedupKey string) ([]*domain.Transaction, error) {
	return s.selectTxns(func(t *domain.Transaction) bool { return t.DedupKey == dedupKey }), nil
}

func (s *Store) GetTransactionsByAccountAndDate(ctx context.Context, accountID string, date civil.Date) ([]*domain.Transaction, error) {
	return s.selectTxns(func(t *domain.Transaction) bool {
		return t.AccountID == accountID && t.Date == date
	}), nil
}

func (s *Store) GetPendingTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	out := s.selectTxns(func(t *domain.Transaction) bool { return t.Status == domain.StatusPending })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetFlaggedTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	out := s.selectTxns(func(t *domain.Transaction) bool { return t.Status == domain.StatusFlagged })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetTransactionsByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error) {
	return s.selectTxns(func(t *domain.Transaction) bool {
		return !t.Date.Before(start) && !t.Date.After(end)
	}), nil
}

func (s *Store) selectTxns(keep func(*domain.Transaction) bool) []*domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Transaction
	for _, id := range s.insertOrder {
		if t := s.transactions[id]; keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, txnID, status string, confidence *float64, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txnID]
	if !ok {
		return fmt.Errorf("UpdateTransactionStatus: transaction %s not found", txnID)
	}
	t.Status = status
	t.Confidence = confidence
	t.CategorizationMethod = method
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetReceiptLookupStatus(ctx context.Context, txnID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txnID]
	if !ok {
		return fmt.Errorf("SetReceiptLookupStatus: transaction %s not found", txnID)
	}
	t.ReceiptLookupStatus = status
	return nil
}

func (s *Store) InsertAllocation(ctx context.Context, alloc *domain.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alloc
	s.allocations[cp.TransactionID] = append(s.allocations[cp.TransactionID], &cp)
	return nil
}

func (s *Store) GetAllocationsByTransaction(ctx context.Context, txnID string) ([]*domain.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Allocation
	for _, a := range s.allocations[txnID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) InsertTransfer(ctx context.Context, xfer *domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.transfers {
		for _, id := range []string{xfer.FromTransactionID, xfer.ToTransactionID} {
			if x.FromTransactionID == id || x.ToTransactionID == id {
				return store.ErrTransferExists
			}
		}
	}
	cp := *xfer
	s.transfers = append(s.transfers, &cp)
	return nil
}

func (s *Store) GetTransferByTransaction(ctx context.Context, txnID string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, x := range s.transfers {
		if x.FromTransactionID == txnID || x.ToTransactionID == txnID {
			cp := *x
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) FindTransferCandidates(ctx context.Context, txn *domain.Transaction, days int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	linked := make(map[string]bool)
	for _, x := range s.transfers {
		linked[x.FromTransactionID] = true
		linked[x.ToTransactionID] = true
	}
	var out []*domain.Transaction
	for _, id := range s.insertOrder {
		t := s.transactions[id]
		if t.ID == txn.ID || t.AccountID == txn.AccountID || linked[t.ID] {
			continue
		}
		if math.Abs(t.Amount+txn.Amount) >= 0.01 {
			continue
		}
		if abs(dayDiff(t.Date, txn.Date)) > days {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return abs(dayDiff(out[i].Date, txn.Date)) < abs(dayDiff(out[j].Date, txn.Date))
	})
	return out, nil
}

func (s *Store) InsertReceiptMatch(ctx context.Context, m *domain.ReceiptMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.receipts = append(s.receipts, &cp)
	return nil
}

func (s *Store) GetHistoricalCategoryCounts(ctx context.Context, normalizedDescription string) ([]domain.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type agg struct {
		cc    domain.CategoryCount
		order int
	}
	groups := make(map[string]*agg)
	order := 0
	for _, id := range s.insertOrder {
		t := s.transactions[id]
		if t.Status != domain.StatusCategorized || t.NormalizedDescription != normalizedDescription {
			continue
		}
		for _, a := range s.allocations[t.ID] {
			key := fmt.Sprintf("%s|%.2f", a.CategoryID, t.Amount)
			g, ok := groups[key]
			if !ok {
				g = &agg{cc: domain.CategoryCount{CategoryID: a.CategoryID, Amount: t.Amount}, order: order}
				groups[key] = g
				order++
			}
			g.cc.Count++
			if a.Source == domain.SourceUser {
				g.cc.UserCount++
			}
		}
	}
	out := make([]*agg, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	counts := make([]domain.CategoryCount, len(out))
	for i, g := range out {
		counts[i] = g.cc
	}
	return counts, nil
}

func (s *Store) IncrementAPIUsage(ctx context.Context, month, service string, requests, costCents int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := month + "|" + service
	u, ok := s.usage[key]
	if !ok {
		u = &domain.APIUsage{Month: month, Service: service}
		s.usage[key] = u
	}
	u.RequestCount += requests
	u.EstimatedCostCents += costCents
	return nil
}

func (s *Store) GetMonthlyCost(ctx context.Context, month string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, u := range s.usage {
		if u.Month == month {
			total += u.EstimatedCostCents
		}
	}
	return total, nil
}

func (s *Store) GetStatusCounts(ctx context.Context) (*domain.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := &domain.StatusCounts{
		TotalTransactions: len(s.transactions),
		Transfers:         len(s.transfers),
		Imports:           len(s.imports),
	}
	for _, t := range s.transactions {
		switch t.Status {
		case domain.StatusCategorized:
			counts.Categorized++
		case domain.StatusPending:
			counts.Pending++
		case domain.StatusFlagged:
			counts.Flagged++
		}
	}
	return counts, nil
}

func (s *Store) GetReconciliation(ctx context.Context, accountID string) (*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Latest transaction carrying a statement balance; on a date tie the
	// most recently inserted row wins.
	var last *domain.Transaction
	for _, id := range s.insertOrder {
		t := s.transactions[id]
		if t.AccountID != accountID || t.Balance == nil {
			continue
		}
		if last == nil || !t.Date.Before(last.Date) {
			last = t
		}
	}
	if last == nil {
		return nil, nil
	}

	linked := make(map[string]bool)
	for _, x := range s.transfers {
		linked[x.FromTransactionID] = true
		linked[x.ToTransactionID] = true
	}

	computed := 0.0
	for _, id := range s.insertOrder {
		t := s.transactions[id]
		if t.AccountID != accountID || t.Date.After(last.Date) || linked[t.ID] {
			continue
		}
		computed += t.Amount
	}

	diff := math.Abs(computed - *last.Balance)
	return &domain.Reconciliation{
		AccountID:        accountID,
		Date:             last.Date,
		StatementBalance: *last.Balance,
		ComputedBalance:  computed,
		Difference:       diff,
		Balanced:         diff < 0.01,
	}, nil
}

func dayDiff(a, b civil.Date) int {
	return a.DaysSince(b)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var _ store.Store = (*Store)(nil)
