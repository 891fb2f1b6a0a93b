package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns a count of documents grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates document state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusFailed:
			health.Failed += count
		case StatusPermanentlyFailed:
			health.PermanentlyFailed += count
		case StatusCompleted:
			health.Completed += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// StaleProcessingDocuments returns documents whose in-flight marker is older
// than the cutoff.
func (s *Store) StaleProcessingDocuments(ctx context.Context, cutoff time.Time) ([]*Document, error) {
	statuses := make([]any, 0, len(processingStatuses)+1)
	for status := range processingStatuses {
		statuses = append(statuses, status)
	}
	placeholders := makePlaceholders(len(statuses))
	statuses = append(statuses, cutoff.UTC().Format(time.RFC3339Nano))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents
         WHERE status IN (`+placeholders+`)
           AND processing_started_at IS NOT NULL
           AND processing_started_at < ?
         ORDER BY created_at, id`,
		statuses...,
	)
	if err != nil {
		return nil, fmt.Errorf("stale documents: %w", err)
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

// StaleGeneratingFiles returns files whose generation marker is older than
// the cutoff.
func (s *Store) StaleGeneratingFiles(ctx context.Context, cutoff time.Time) ([]*File, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files
         WHERE status IN (?, ?)
           AND processing_started_at IS NOT NULL
           AND processing_started_at < ?
         ORDER BY created_at, id`,
		FileStatusGenerating,
		FileStatusRegenerating,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("stale files: %w", err)
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

// FailedDocumentsReadyForRetry returns failed documents whose backoff window
// has elapsed and whose retry budget is not exhausted.
func (s *Store) FailedDocumentsReadyForRetry(ctx context.Context, cutoff time.Time, maxRetries int) ([]*Document, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents
         WHERE status = ? AND updated_at < ? AND retry_count < ?
         ORDER BY created_at, id`,
		StatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
		maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed documents ready for retry: %w", err)
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

// FailedFilesReadyForRetry returns failed files whose backoff window has
// elapsed and whose retry budget is not exhausted.
func (s *Store) FailedFilesReadyForRetry(ctx context.Context, cutoff time.Time, maxRetries int) ([]*File, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM files
         WHERE status = ? AND updated_at < ? AND retry_count < ?
         ORDER BY created_at, id`,
		FileStatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
		maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed files ready for retry: %w", err)
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

// RetryFailedDocuments moves failed documents back to their resume point on
// user request. The retry counter resets; explicit retries start a fresh
// budget. Returns the number of documents moved.
func (s *Store) RetryFailedDocuments(ctx context.Context, ids ...int64) (int64, error) {
	var docs []*Document
	var err error
	if len(ids) == 0 {
		docs, err = s.ListDocuments(ctx, StatusFailed)
	} else {
		docs, err = s.documentsByIDs(ctx, ids)
	}
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, doc := range docs {
		if doc.Status != StatusFailed {
			continue
		}
		doc.Status = doc.ResumePoint()
		doc.ErrorMessage = ""
		doc.RetryCount = 0
		doc.ProcessingStartedAt = nil
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (s *Store) documentsByIDs(ctx context.Context, ids []int64) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`) ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("documents by ids: %w", err)
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

// CheckHealth returns diagnostic information about the pipeline database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: "current",
	}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'documents'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM documents")
		if err := row.Scan(&health.TotalDocuments); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count documents: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
