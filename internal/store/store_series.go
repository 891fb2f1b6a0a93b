package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSeries fetches a series by identifier.
func (s *Store) GetSeries(ctx context.Context, id int64) (*Series, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = ?`, id)
	series, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	return series, nil
}

// FindSeries returns the series keyed by entity and series type.
func (s *Store) FindSeries(ctx context.Context, entity, seriesType string) (*Series, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+seriesColumns+` FROM series WHERE entity = ? AND series_type = ? LIMIT 1`,
		entity,
		seriesType,
	)
	series, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find series: %w", err)
	}
	return series, nil
}

// EnsureSeries finds or creates the series keyed by entity and series type.
// The insert is conflict-tolerant so concurrent filers converge on one row.
func (s *Store) EnsureSeries(ctx context.Context, entity, seriesType, title string) (*Series, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO series (entity, series_type, title, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(entity, series_type) DO NOTHING`,
		entity,
		seriesType,
		nullableString(title),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("ensure series: %w", err)
	}
	series, err := s.FindSeries(ctx, entity, seriesType)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, fmt.Errorf("series %s/%s: %w", entity, seriesType, ErrNotFound)
	}
	return series, nil
}

// UpdateSeries persists changes to an existing series.
func (s *Store) UpdateSeries(ctx context.Context, series *Series) error {
	if series == nil {
		return errors.New("series is nil")
	}
	series.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE series
         SET entity = ?, series_type = ?, title = ?, summary = ?,
             active_prompt_id = ?, regeneration_pending = ?, updated_at = ?
         WHERE id = ?`,
		series.Entity,
		series.SeriesType,
		nullableString(series.Title),
		nullableString(series.Summary),
		nullableInt64(series.ActivePromptID),
		boolToInt(series.RegenerationPending),
		series.UpdatedAt.Format(time.RFC3339Nano),
		series.ID,
	); err != nil {
		return fmt.Errorf("update series: %w", err)
	}
	return nil
}

// ListSeries returns every series ordered by entity then type.
func (s *Store) ListSeries(ctx context.Context) ([]*Series, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY entity, series_type`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var out []*Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

// SeriesWithRegenerationPending returns series whose reports await regeneration.
func (s *Store) SeriesWithRegenerationPending(ctx context.Context) ([]*Series, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+seriesColumns+` FROM series WHERE regeneration_pending = 1 ORDER BY updated_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("series pending regeneration: %w", err)
	}
	defer rows.Close()

	var out []*Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

// SetRegenerationPending flips the regeneration flag for a series.
func (s *Store) SetRegenerationPending(ctx context.Context, seriesID int64, pending bool) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE series SET regeneration_pending = ?, updated_at = ? WHERE id = ?`,
		boolToInt(pending),
		time.Now().UTC().Format(time.RFC3339Nano),
		seriesID,
	); err != nil {
		return fmt.Errorf("set regeneration pending: %w", err)
	}
	return nil
}

// CreatePrompt inserts a new series-report prompt.
func (s *Store) CreatePrompt(ctx context.Context, seriesID int64, body string) (*Prompt, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO prompts (series_id, body, created_at) VALUES (?, ?, ?)`,
		seriesID,
		body,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPrompt(ctx, id)
}

// GetPrompt fetches a prompt by identifier.
func (s *Store) GetPrompt(ctx context.Context, id int64) (*Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	prompt, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return prompt, nil
}

// SeriesPrompts returns the prompts recorded for a series, oldest first.
func (s *Store) SeriesPrompts(ctx context.Context, seriesID int64) ([]*Prompt, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE series_id = ? ORDER BY created_at, id`,
		seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("series prompts: %w", err)
	}
	defer rows.Close()

	var out []*Prompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, prompt)
	}
	return out, rows.Err()
}

// AddPromptScore accumulates a quality score onto a prompt.
func (s *Store) AddPromptScore(ctx context.Context, promptID int64, score float64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE prompts SET score_total = score_total + ?, score_count = score_count + 1 WHERE id = ?`,
		score,
		promptID,
	); err != nil {
		return fmt.Errorf("add prompt score: %w", err)
	}
	return nil
}

// SetActivePrompt makes a prompt the active one for its series and flags the
// series for report regeneration.
func (s *Store) SetActivePrompt(ctx context.Context, seriesID, promptID int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE series SET active_prompt_id = ?, regeneration_pending = 1, updated_at = ? WHERE id = ?`,
		promptID,
		time.Now().UTC().Format(time.RFC3339Nano),
		seriesID,
	); err != nil {
		return fmt.Errorf("set active prompt: %w", err)
	}
	return nil
}
