package notionsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/logger"
)

// BatchSize is the number of transactions processed per logged batch.
const BatchSize = 100

// Repository is the store slice the syncer reads.
type Repository interface {
	GetTransactionsByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error)
	GetAllocationsByTransaction(ctx context.Context, txnID string) ([]*domain.Allocation, error)
	GetTransferByTransaction(ctx context.Context, txnID string) (*domain.Transfer, error)
}

// Stats summarizes one sync run.
type Stats struct {
	Total   int
	Created int
	Updated int
	Deleted int
}

// Syncer pushes transactions into one Notion database.
type Syncer struct {
	repo   Repository
	notion NotionService
	dbID   string
}

// NewSyncer wires a syncer against a Notion database.
func NewSyncer(repo Repository, notion NotionService, databaseID string) *Syncer {
	return &Syncer{repo: repo, notion: notion, dbID: databaseID}
}

// SyncTransactions mirrors all transactions in the date range into
// Notion. Pages already present (matched on the Transaction ID title)
// are updated, missing ones created, and pages whose transaction is no
// longer in the range are archived. With dryRun set, changes are logged
// but not applied. Per-page failures are logged and skipped so one bad
// page cannot abort the run.
func (s *Syncer) SyncTransactions(ctx context.Context, start, end civil.Date, dryRun bool) (*Stats, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Str("start_date", start.String()).
		Str("end_date", end.String()).
		Bool("dry_run", dryRun).
		Msg("starting transaction sync to Notion")

	transactions, err := s.repo.GetTransactionsByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: %w", err)
	}

	validIDs := make(map[string]bool, len(transactions))
	for _, txn := range transactions {
		validIDs[txn.ID] = true
	}

	pages, err := s.queryAllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: %w", err)
	}
	log.Info().
		Int("transaction_count", len(transactions)).
		Int("notion_page_count", len(pages)).
		Msg("loaded sync state")

	existing := make(map[string]string, len(pages)) // transaction ID -> page ID
	stats := &Stats{Total: len(transactions)}

	for _, page := range pages {
		txID := extractTransactionID(page)
		if txID != "" && validIDs[txID] {
			existing[txID] = string(page.ID)
			continue
		}
		// Stale page: no key, or its transaction left the window.
		if dryRun {
			log.Info().
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("[dry run] would archive stale Notion page")
			stats.Deleted++
			continue
		}
		if err := s.notion.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("failed to archive stale Notion page")
			continue
		}
		stats.Deleted++
	}

	for i := 0; i < len(transactions); i += BatchSize {
		end := i + BatchSize
		if end > len(transactions) {
			end = len(transactions)
		}
		log.Info().
			Int("batch_start", i).
			Int("batch_size", end-i).
			Msg("processing batch")

		for _, txn := range transactions[i:end] {
			if err := s.syncOne(ctx, txn, existing[txn.ID], dryRun, stats); err != nil {
				log.Warn().
					Err(err).
					Str("transaction_id", txn.ID).
					Msg("failed to sync transaction")
			}
		}
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Int("total", stats.Total).
		Msg("transaction sync completed")

	return stats, nil
}

func (s *Syncer) syncOne(ctx context.Context, txn *domain.Transaction, pageID string, dryRun bool, stats *Stats) error {
	log := logger.FromContext(ctx)

	if dryRun {
		if pageID != "" {
			log.Info().Str("transaction_id", txn.ID).Str("page_id", pageID).Msg("[dry run] would update Notion page")
			stats.Updated++
		} else {
			log.Info().Str("transaction_id", txn.ID).Msg("[dry run] would create Notion page")
			stats.Created++
		}
		return nil
	}

	allocs, err := s.repo.GetAllocationsByTransaction(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("syncOne: %w", err)
	}
	xfer, err := s.repo.GetTransferByTransaction(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("syncOne: %w", err)
	}

	props := TransactionProperties(txn, allocs, xfer)

	if pageID != "" {
		if _, err := s.notion.UpdatePage(ctx, pageID, props); err != nil {
			return fmt.Errorf("syncOne: %w", err)
		}
		stats.Updated++
		return nil
	}

	page, err := s.notion.CreatePage(ctx, s.dbID, props)
	if err != nil {
		return fmt.Errorf("syncOne: %w", err)
	}
	log.Debug().
		Str("transaction_id", txn.ID).
		Str("page_id", string(page.ID)).
		Msg("created Notion page")
	stats.Created++
	return nil
}

// queryAllPages pulls every page in the database, following pagination.
func (s *Syncer) queryAllPages(ctx context.Context) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := s.notion.QueryDatabase(ctx, s.dbID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
