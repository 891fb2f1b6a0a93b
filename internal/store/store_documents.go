package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewDocument inserts a pending document discovered in the inbox.
func (s *Store) NewDocument(ctx context.Context, fingerprint, sourcePath string) (*Document, error) {
	if fingerprint == "" {
		return nil, errors.New("fingerprint is required")
	}
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO documents (
            fingerprint, source_path, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?)`,
		nullableString(fingerprint),
		sourcePath,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetDocument(ctx, id)
}

// GetDocument fetches a document by identifier.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// FindByFingerprint returns the document matching a content fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Document, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents WHERE fingerprint = ? ORDER BY id LIMIT 1`,
		fingerprint,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return doc, nil
}

// UpdateDocument persists changes to an existing document. Status moves are
// validated against the lifecycle; an illegal move returns a TransitionError
// and writes nothing.
func (s *Store) UpdateDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, doc.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %d: %w", doc.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	if from := Status(current); from != doc.Status && !CanTransition(from, doc.Status) {
		return &TransitionError{DocumentID: doc.ID, From: from, To: doc.Status}
	}

	doc.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE documents
         SET fingerprint = ?, source_path = ?, archive_path = ?, status = ?,
             doc_type = ?, entity = ?, correspondent = ?, doc_date = ?,
             ocr_text = ?, classification_json = ?, classification_score = ?,
             summary = ?, series_id = ?, retry_count = ?, error_message = ?,
             processing_started_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(doc.Fingerprint),
		nullableString(doc.SourcePath),
		nullableString(doc.ArchivePath),
		doc.Status,
		nullableString(doc.DocType),
		nullableString(doc.Entity),
		nullableString(doc.Correspondent),
		nullableString(doc.DocDate),
		nullableString(doc.OCRText),
		nullableString(doc.ClassificationJSON),
		doc.ClassificationScore,
		nullableString(doc.Summary),
		nullableInt64(doc.SeriesID),
		doc.RetryCount,
		nullableString(doc.ErrorMessage),
		nullableTime(doc.ProcessingStartedAt),
		doc.UpdatedAt.Format(time.RFC3339Nano),
		doc.ID,
	); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// ClaimDocument atomically moves a document from one status into an in-flight
// status, stamping processing_started_at. Returns false when another worker
// claimed the row first.
func (s *Store) ClaimDocument(ctx context.Context, id int64, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, &TransitionError{DocumentID: id, From: from, To: to}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE documents SET status = ?, processing_started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		now,
		now,
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DocumentsByStatus returns documents matching any of the provided statuses,
// oldest first, capped at limit when limit is positive.
func (s *Store) DocumentsByStatus(ctx context.Context, limit int, statuses ...Status) ([]*Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE status IN (` + placeholders + `) ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDocuments returns documents filtered by status set (or all documents
// when no status is provided), oldest first.
func (s *Store) ListDocuments(ctx context.Context, statuses ...Status) ([]*Document, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + documentColumns + ` FROM documents`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SeriesDocuments returns the documents attached to a series, oldest first.
func (s *Store) SeriesDocuments(ctx context.Context, seriesID int64) ([]*Document, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents WHERE series_id = ? ORDER BY doc_date, created_at, id`,
		seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("series documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// RemoveDocument deletes a document by identifier.
func (s *Store) RemoveDocument(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed documents.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM documents WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all documents.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	return res.RowsAffected()
}
