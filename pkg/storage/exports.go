package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

var _ Storage = (*SQLStore)(nil)

const exportColumns = `id, blob_path, subscription_id, export_name, export_guid, part_number,
	billing_period_start, billing_period_end, status, blob_last_modified, blob_etag, blob_size,
	records_imported, duplicates_skipped, duplicates_in_file, rows_failed, error_message,
	created_at, updated_at, completed_at`

func (s *SQLStore) CreateExport(ctx context.Context, export *model.CostExport) error {
	if export.ID == "" {
		export.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if export.CreatedAt.IsZero() {
		export.CreatedAt = now
	}
	export.UpdatedAt = now
	if export.Status == "" {
		export.Status = model.ExportPending
	}

	_, err := s.exec(ctx,
		`INSERT INTO cost_exports (`+exportColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		export.ID, export.BlobPath, export.SubscriptionID, export.ExportName, export.ExportGUID,
		export.PartNumber, export.BillingPeriodStart, export.BillingPeriodEnd, string(export.Status),
		nullTime(export.BlobLastModified), export.BlobETag, export.BlobSize,
		export.RecordsImported, export.DuplicatesSkipped, export.DuplicatesInFile, export.RowsFailed,
		export.ErrorMessage, export.CreatedAt, export.UpdatedAt, nullTimePtr(export.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateExport(ctx context.Context, export *model.CostExport) error {
	export.UpdatedAt = time.Now().UTC()

	result, err := s.exec(ctx,
		`UPDATE cost_exports SET
		   status = ?, blob_last_modified = ?, blob_etag = ?, blob_size = ?,
		   records_imported = ?, duplicates_skipped = ?, duplicates_in_file = ?, rows_failed = ?,
		   error_message = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(export.Status), nullTime(export.BlobLastModified), export.BlobETag, export.BlobSize,
		export.RecordsImported, export.DuplicatesSkipped, export.DuplicatesInFile, export.RowsFailed,
		export.ErrorMessage, export.UpdatedAt, nullTimePtr(export.CompletedAt),
		export.ID,
	)
	if err != nil {
		return fmt.Errorf("update export: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("export %q: %w", export.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) GetExport(ctx context.Context, id string) (*model.CostExport, error) {
	row := s.queryRow(ctx, `SELECT `+exportColumns+` FROM cost_exports WHERE id = ?`, id)
	export, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get export: %w", err)
	}
	return export, nil
}

func (s *SQLStore) LatestExportForPath(ctx context.Context, blobPath string) (*model.CostExport, error) {
	row := s.queryRow(ctx,
		`SELECT `+exportColumns+` FROM cost_exports WHERE blob_path = ?
		 ORDER BY created_at DESC LIMIT 1`, blobPath)
	export, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export for %q: %w", blobPath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get export by path: %w", err)
	}
	return export, nil
}

func (s *SQLStore) ListExports(ctx context.Context, filter model.ExportFilter) ([]model.CostExport, error) {
	var conditions []string
	var args []any

	if filter.SubscriptionID != "" {
		conditions = append(conditions, "subscription_id = ?")
		args = append(args, filter.SubscriptionID)
	}
	if filter.ExportName != "" {
		conditions = append(conditions, "export_name = ?")
		args = append(args, filter.ExportName)
	}
	if filter.BillingPeriodStart != "" {
		conditions = append(conditions, "billing_period_start = ?")
		args = append(args, filter.BillingPeriodStart)
	}
	if filter.ExportGUID != "" {
		conditions = append(conditions, "export_guid = ?")
		args = append(args, filter.ExportGUID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	rows, err := s.query(ctx,
		`SELECT `+exportColumns+` FROM cost_exports`+whereClause(conditions)+
			` ORDER BY created_at DESC, blob_path`, args...)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var exports []model.CostExport
	for rows.Next() {
		export, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		exports = append(exports, *export)
	}
	return exports, rows.Err()
}

func (s *SQLStore) SupersedeExport(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin supersede: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM cost_records WHERE export_id = ?`), id)
	if err != nil {
		return 0, fmt.Errorf("delete superseded records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE cost_exports SET status = ?, updated_at = ? WHERE id = ?`),
		string(model.ExportSuperseded), time.Now().UTC(), id,
	); err != nil {
		return 0, fmt.Errorf("mark export superseded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit supersede: %w", err)
	}
	return deleted, nil
}

func (s *SQLStore) DeleteExportRecords(ctx context.Context, id string) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM cost_records WHERE export_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete export records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(row scanner) (*model.CostExport, error) {
	var e model.CostExport
	var status string
	var lastModified, completedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.BlobPath, &e.SubscriptionID, &e.ExportName, &e.ExportGUID,
		&e.PartNumber, &e.BillingPeriodStart, &e.BillingPeriodEnd, &status,
		&lastModified, &e.BlobETag, &e.BlobSize,
		&e.RecordsImported, &e.DuplicatesSkipped, &e.DuplicatesInFile, &e.RowsFailed,
		&e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = model.ExportStatus(status)
	if lastModified.Valid {
		e.BlobLastModified = lastModified.Time.UTC()
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		e.CompletedAt = &t
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
