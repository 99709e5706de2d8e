package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/momoney/internal/domain"
	"github.com/dvloznov/momoney/internal/store"
)

// InsertImport records a new import run. Returns store.ErrDuplicateImport
// when a row with the same file hash already exists.
func (s *Store) InsertImport(ctx context.Context, imp *domain.Import) error {
	existing, err := s.GetImportByHash(ctx, imp.FileHash)
	if err != nil {
		return fmt.Errorf("InsertImport: checking file hash: %w", err)
	}
	if existing != nil {
		return store.ErrDuplicateImport
	}

	query := fmt.Sprintf(`
		INSERT %s.%s (
			import_id,
			file_name,
			file_hash,
			file_size,
			account_id,
			status,
			created_ts
		)
		VALUES (
			@import_id,
			@file_name,
			@file_hash,
			@file_size,
			@account_id,
			@status,
			@created_ts
		)
	`, s.dataset, importsTable)

	params := []bigquery.QueryParameter{
		{Name: "import_id", Value: imp.ID},
		{Name: "file_name", Value: imp.FileName},
		{Name: "file_hash", Value: imp.FileHash},
		{Name: "file_size", Value: imp.FileSize},
		{Name: "account_id", Value: imp.AccountID},
		{Name: "status", Value: imp.Status},
		{Name: "created_ts", Value: imp.CreatedAt},
	}
	return s.runDML(ctx, "InsertImport", query, params)
}

// GetImportByHash looks an import up by file content hash. Returns nil
// when no import with that hash exists.
func (s *Store) GetImportByHash(ctx context.Context, fileHash string) (*domain.Import, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			import_id,
			file_name,
			file_hash,
			file_size,
			account_id,
			status,
			record_count,
			error_message,
			created_ts,
			completed_ts
		FROM %s.%s
		WHERE file_hash = @file_hash
		LIMIT 1
	`, s.dataset, importsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "file_hash", Value: fileHash},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetImportByHash: query read: %w", err)
	}

	var r ImportRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetImportByHash: iter next: %w", err)
	}
	return r.toDomain(), nil
}

// UpdateImportStatus sets the status of an import run and, when present,
// its record count, error message and completion time.
func (s *Store) UpdateImportStatus(ctx context.Context, importID, status string, upd store.ImportUpdate) error {
	set := "status = @status"
	params := []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "import_id", Value: importID},
	}
	if upd.RecordCount != nil {
		set += ", record_count = @record_count"
		params = append(params, bigquery.QueryParameter{Name: "record_count", Value: int64(*upd.RecordCount)})
	}
	if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		const maxLen = 2000
		if len(msg) > maxLen {
			msg = msg[:maxLen]
		}
		set += ", error_message = @error_message"
		params = append(params, bigquery.QueryParameter{Name: "error_message", Value: msg})
	}
	if upd.CompletedAt != nil {
		set += ", completed_ts = @completed_ts"
		params = append(params, bigquery.QueryParameter{Name: "completed_ts", Value: *upd.CompletedAt})
	}

	query := fmt.Sprintf(`
		UPDATE %s.%s
		SET %s
		WHERE import_id = @import_id
	`, s.dataset, importsTable, set)

	return s.runDML(ctx, "UpdateImportStatus", query, params)
}
