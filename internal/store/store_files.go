package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewDocumentFile registers a pending per-document artifact.
func (s *Store) NewDocumentFile(ctx context.Context, documentID int64, kind, path string) (*File, error) {
	return s.insertFile(ctx, &documentID, nil, kind, path)
}

// NewSeriesFile registers a pending per-series artifact.
func (s *Store) NewSeriesFile(ctx context.Context, seriesID int64, kind, path string) (*File, error) {
	return s.insertFile(ctx, nil, &seriesID, kind, path)
}

func (s *Store) insertFile(ctx context.Context, documentID, seriesID *int64, kind, path string) (*File, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO files (document_id, series_id, kind, path, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(documentID),
		nullableInt64(seriesID),
		kind,
		path,
		FileStatusPending,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFile(ctx, id)
}

// GetFile fetches a file record by identifier.
func (s *Store) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// UpdateFile persists changes to an existing file record.
func (s *Store) UpdateFile(ctx context.Context, file *File) error {
	if file == nil {
		return errors.New("file is nil")
	}
	file.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE files
         SET document_id = ?, series_id = ?, kind = ?, path = ?, status = ?,
             prompt_id = ?, retry_count = ?, error_message = ?,
             processing_started_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableInt64(file.DocumentID),
		nullableInt64(file.SeriesID),
		file.Kind,
		file.Path,
		file.Status,
		nullableInt64(file.PromptID),
		file.RetryCount,
		nullableString(file.ErrorMessage),
		nullableTime(file.ProcessingStartedAt),
		file.UpdatedAt.Format(time.RFC3339Nano),
		file.ID,
	); err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

// ClaimFile atomically moves a file from one status into a generating status,
// stamping processing_started_at. Returns false when another worker claimed
// the row first.
func (s *Store) ClaimFile(ctx context.Context, id int64, from, to FileStatus) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE files SET status = ?, processing_started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		now,
		now,
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("claim file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FilesByStatus returns files matching any of the provided statuses, oldest
// first, capped at limit when limit is positive. Files whose retry budget is
// exhausted are excluded so the generation lane never re-claims them.
func (s *Store) FilesByStatus(ctx context.Context, limit, maxRetries int, statuses ...FileStatus) ([]*File, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+2)
	for _, status := range statuses {
		args = append(args, status)
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE status IN (` + placeholders + `)`
	if maxRetries > 0 {
		query += ` AND retry_count < ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files by status: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ListFiles returns all file records, oldest first.
func (s *Store) ListFiles(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// SeriesFiles returns the artifacts registered for a series, optionally
// filtered by kind.
func (s *Store) SeriesFiles(ctx context.Context, seriesID int64, kind string) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE series_id = ?`
	args := []any{seriesID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("series files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// DocumentFiles returns the artifacts registered for a document.
func (s *Store) DocumentFiles(ctx context.Context, documentID int64) ([]*File, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files WHERE document_id = ? ORDER BY created_at, id`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("document files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// MarkSeriesReportsOutdated flips generated series reports back to outdated.
// When activePromptID is non-nil, reports already stamped with that prompt
// are left alone.
func (s *Store) MarkSeriesReportsOutdated(ctx context.Context, seriesID int64, activePromptID *int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE files SET status = ?, updated_at = ? WHERE series_id = ? AND kind = ? AND status = ?`
	args := []any{FileStatusOutdated, now, seriesID, FileKindSeriesReport, FileStatusGenerated}
	if activePromptID != nil {
		query += ` AND (prompt_id IS NULL OR prompt_id != ?)`
		args = append(args, *activePromptID)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark reports outdated: %w", err)
	}
	return res.RowsAffected()
}
