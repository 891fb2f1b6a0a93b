package store

import (
	"database/sql"
	"errors"
	"time"
)

const documentColumns = "id, fingerprint, source_path, archive_path, status, doc_type, entity, correspondent, doc_date, ocr_text, classification_json, classification_score, summary, series_id, retry_count, error_message, processing_started_at, created_at, updated_at"

const seriesColumns = "id, entity, series_type, title, summary, active_prompt_id, regeneration_pending, created_at, updated_at"

const promptColumns = "id, series_id, body, score_total, score_count, created_at"

const fileColumns = "id, document_id, series_id, kind, path, status, prompt_id, retry_count, error_message, processing_started_at, created_at, updated_at"

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		id            int64
		fingerprint   sql.NullString
		sourcePath    sql.NullString
		archivePath   sql.NullString
		statusStr     string
		docType       sql.NullString
		entity        sql.NullString
		correspondent sql.NullString
		docDate       sql.NullString
		ocrText       sql.NullString
		classJSON     sql.NullString
		classScore    sql.NullFloat64
		summary       sql.NullString
		seriesID      sql.NullInt64
		retryCount    sql.NullInt64
		errorMessage  sql.NullString
		processingRaw sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fingerprint,
		&sourcePath,
		&archivePath,
		&statusStr,
		&docType,
		&entity,
		&correspondent,
		&docDate,
		&ocrText,
		&classJSON,
		&classScore,
		&summary,
		&seriesID,
		&retryCount,
		&errorMessage,
		&processingRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:                  id,
		Fingerprint:         fingerprint.String,
		SourcePath:          sourcePath.String,
		ArchivePath:         archivePath.String,
		Status:              Status(statusStr),
		DocType:             docType.String,
		Entity:              entity.String,
		Correspondent:       correspondent.String,
		DocDate:             docDate.String,
		OCRText:             ocrText.String,
		ClassificationJSON:  classJSON.String,
		ClassificationScore: classScore.Float64,
		Summary:             summary.String,
		RetryCount:          int(retryCount.Int64),
		ErrorMessage:        errorMessage.String,
	}
	if seriesID.Valid {
		v := seriesID.Int64
		doc.SeriesID = &v
	}
	if processingRaw.Valid {
		if started, err := parseTimeString(processingRaw.String); err == nil {
			doc.ProcessingStartedAt = &started
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		doc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		doc.UpdatedAt = updated
	}
	return doc, nil
}

func scanSeries(scanner interface{ Scan(dest ...any) error }) (*Series, error) {
	var (
		id             int64
		entity         sql.NullString
		seriesType     sql.NullString
		title          sql.NullString
		summary        sql.NullString
		activePromptID sql.NullInt64
		regenPending   sql.NullInt64
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&entity,
		&seriesType,
		&title,
		&summary,
		&activePromptID,
		&regenPending,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	series := &Series{
		ID:         id,
		Entity:     entity.String,
		SeriesType: seriesType.String,
		Title:      title.String,
		Summary:    summary.String,
	}
	if activePromptID.Valid {
		v := activePromptID.Int64
		series.ActivePromptID = &v
	}
	if regenPending.Valid {
		series.RegenerationPending = regenPending.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		series.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		series.UpdatedAt = updated
	}
	return series, nil
}

func scanPrompt(scanner interface{ Scan(dest ...any) error }) (*Prompt, error) {
	var (
		id         int64
		seriesID   int64
		body       sql.NullString
		scoreTotal sql.NullFloat64
		scoreCount sql.NullInt64
		createdRaw sql.NullString
	)

	if err := scanner.Scan(&id, &seriesID, &body, &scoreTotal, &scoreCount, &createdRaw); err != nil {
		return nil, err
	}

	prompt := &Prompt{
		ID:         id,
		SeriesID:   seriesID,
		Body:       body.String,
		ScoreTotal: scoreTotal.Float64,
		ScoreCount: int(scoreCount.Int64),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		prompt.CreatedAt = created
	}
	return prompt, nil
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*File, error) {
	var (
		id            int64
		documentID    sql.NullInt64
		seriesID      sql.NullInt64
		kind          sql.NullString
		path          sql.NullString
		statusStr     string
		promptID      sql.NullInt64
		retryCount    sql.NullInt64
		errorMessage  sql.NullString
		processingRaw sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&documentID,
		&seriesID,
		&kind,
		&path,
		&statusStr,
		&promptID,
		&retryCount,
		&errorMessage,
		&processingRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	file := &File{
		ID:           id,
		Kind:         kind.String,
		Path:         path.String,
		Status:       FileStatus(statusStr),
		RetryCount:   int(retryCount.Int64),
		ErrorMessage: errorMessage.String,
	}
	if documentID.Valid {
		v := documentID.Int64
		file.DocumentID = &v
	}
	if seriesID.Valid {
		v := seriesID.Int64
		file.SeriesID = &v
	}
	if promptID.Valid {
		v := promptID.Int64
		file.PromptID = &v
	}
	if processingRaw.Valid {
		if started, err := parseTimeString(processingRaw.String); err == nil {
			file.ProcessingStartedAt = &started
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		file.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		file.UpdatedAt = updated
	}
	return file, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
