package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/services"
	"github.com/sirmick/alfrd-sub000/internal/store"
	"github.com/sirmick/alfrd-sub000/internal/textutil"
)

const (
	// promptMinScores is how many report scores the active prompt needs
	// before it can be judged.
	promptMinScores = 2
	// promptRedraftBelow triggers drafting a candidate prompt when the
	// active prompt's average falls under it.
	promptRedraftBelow = 0.5
	// promptPromotionMargin is how much better a candidate's average must
	// be to replace the active prompt.
	promptPromotionMargin = 0.05
)

// runSeriesSummary regenerates the aggregate summary for the document's
// series. The doctype lock serializes summarization per document type so
// concurrent documents of one type cannot interleave prompt creation and
// report writes.
func (p *Pipeline) runSeriesSummary(ctx context.Context, doc *store.Document) error {
	guard, err := p.locker.Acquire(ctx, "doctype:"+doc.DocType, p.lockTimeout())
	if err != nil {
		return services.Wrap(services.ErrConflict, "series", "acquire doctype lock",
			fmt.Sprintf("doc type %s is locked", doc.DocType), err)
	}
	defer guard.Release()

	series, err := p.store.GetSeries(ctx, *doc.SeriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return services.Wrap(services.ErrValidation, "series", "load series",
			fmt.Sprintf("series %d does not exist", *doc.SeriesID), nil)
	}

	summaries, err := p.seriesSummaries(ctx, series.ID)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return services.Wrap(services.ErrValidation, "series", "collect summaries",
			"series has no document summaries", nil)
	}

	prompt, err := p.ensureActivePrompt(ctx, series, summaries)
	if err != nil {
		return err
	}

	report, err := withStageValue(ctx, p.llmSem, func() (string, error) {
		return p.model.SummarizeSeries(ctx, prompt.Body, series.Title, summaries)
	})
	if err != nil {
		return err
	}
	series.Summary = report
	if err := p.store.UpdateSeries(ctx, series); err != nil {
		return err
	}

	if err := p.ensureSeriesReportFile(ctx, series); err != nil {
		return err
	}
	// Previously generated reports no longer match the fresh summary.
	if _, err := p.store.MarkSeriesReportsOutdated(ctx, series.ID, nil); err != nil {
		return err
	}
	return nil
}

// ensureActivePrompt returns the series' active prompt, drafting the first
// one when none exists. First-prompt creation is guarded by a dedicated lock
// with a post-acquire re-check so racing documents converge on one prompt
// row.
func (p *Pipeline) ensureActivePrompt(ctx context.Context, series *store.Series, summaries []string) (*store.Prompt, error) {
	if series.ActivePromptID != nil {
		return p.activePrompt(ctx, series)
	}

	guard, err := p.locker.Acquire(ctx, fmt.Sprintf("series_prompt:%d", series.ID), p.lockTimeout())
	if err != nil {
		return nil, services.Wrap(services.ErrConflict, "series", "acquire prompt lock",
			fmt.Sprintf("series %d prompt creation is locked", series.ID), err)
	}
	defer guard.Release()

	fresh, err := p.store.GetSeries(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	if fresh != nil && fresh.ActivePromptID != nil {
		*series = *fresh
		return p.activePrompt(ctx, series)
	}

	body, err := withStageValue(ctx, p.llmSem, func() (string, error) {
		return p.model.DraftSeriesPrompt(ctx, series.Title, summaries)
	})
	if err != nil {
		return nil, err
	}
	prompt, err := p.store.CreatePrompt(ctx, series.ID, body)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetActivePrompt(ctx, series.ID, prompt.ID); err != nil {
		return nil, err
	}
	series.ActivePromptID = &prompt.ID
	series.RegenerationPending = true
	p.logger.Info("drafted first series prompt",
		logging.Int64(logging.FieldSeriesID, series.ID),
		logging.Int64("prompt_id", prompt.ID),
		logging.String(logging.FieldEventType, "series_prompt_created"),
	)
	return prompt, nil
}

func (p *Pipeline) activePrompt(ctx context.Context, series *store.Series) (*store.Prompt, error) {
	prompt, err := p.store.GetPrompt(ctx, *series.ActivePromptID)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, services.Wrap(services.ErrValidation, "series", "load prompt",
			fmt.Sprintf("active prompt %d does not exist", *series.ActivePromptID), nil)
	}
	return prompt, nil
}

// seriesSummaries collects the persisted document summaries for a series,
// oldest first.
func (p *Pipeline) seriesSummaries(ctx context.Context, seriesID int64) ([]string, error) {
	docs, err := p.store.SeriesDocuments(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	summaries := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Summary != "" {
			summaries = append(summaries, d.Summary)
		}
	}
	return summaries, nil
}

// ensureSeriesReportFile registers the series report artifact on first use.
func (p *Pipeline) ensureSeriesReportFile(ctx context.Context, series *store.Series) error {
	reports, err := p.store.SeriesFiles(ctx, series.ID, store.FileKindSeriesReport)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		return nil
	}
	path := filepath.Join(
		p.cfg.Paths.OutputDir,
		textutil.SanitizeToken(series.Entity),
		textutil.SanitizeToken(series.SeriesType),
		"report.md",
	)
	_, err = p.store.NewSeriesFile(ctx, series.ID, store.FileKindSeriesReport, path)
	return err
}

// scoreSeriesReport is a detached task: it judges a generated report against
// the prompt that produced it and accumulates the score, then considers
// whether the series deserves a better prompt.
func (p *Pipeline) scoreSeriesReport(ctx context.Context, seriesID, promptID int64, promptBody, report string) {
	score, err := withStageValue(ctx, p.llmSem, func() (float64, error) {
		return p.model.ScoreSeriesReport(ctx, promptBody, report)
	})
	if err != nil {
		p.logger.Warn("series report scoring failed",
			logging.Int64(logging.FieldSeriesID, seriesID),
			logging.Error(err),
		)
		return
	}
	if err := p.store.AddPromptScore(ctx, promptID, score); err != nil {
		p.logger.Warn("recording prompt score failed",
			logging.Int64("prompt_id", promptID),
			logging.Error(err),
		)
		return
	}
	p.logger.Info("series report scored",
		logging.Int64(logging.FieldSeriesID, seriesID),
		logging.Int64("prompt_id", promptID),
		logging.Float64("score", score),
		logging.String(logging.FieldEventType, "series_report_scored"),
	)
	p.improveSeriesPrompt(ctx, seriesID)
}

// improveSeriesPrompt promotes a measurably better candidate prompt, or
// drafts and trials a new candidate when the active prompt keeps scoring
// poorly. Promotion flags the series for report regeneration.
func (p *Pipeline) improveSeriesPrompt(ctx context.Context, seriesID int64) {
	series, err := p.store.GetSeries(ctx, seriesID)
	if err != nil || series == nil || series.ActivePromptID == nil {
		return
	}
	prompts, err := p.store.SeriesPrompts(ctx, seriesID)
	if err != nil {
		return
	}
	var active *store.Prompt
	for _, prompt := range prompts {
		if prompt.ID == *series.ActivePromptID {
			active = prompt
		}
	}
	if active == nil || active.ScoreCount < promptMinScores {
		return
	}

	for _, candidate := range prompts {
		if candidate.ID == active.ID || candidate.ScoreCount == 0 {
			continue
		}
		if candidate.AverageScore() > active.AverageScore()+promptPromotionMargin {
			if err := p.store.SetActivePrompt(ctx, seriesID, candidate.ID); err != nil {
				p.logger.Warn("prompt promotion failed", logging.Error(err))
				return
			}
			p.logger.Info("promoted series prompt",
				logging.Int64(logging.FieldSeriesID, seriesID),
				logging.Int64("prompt_id", candidate.ID),
				logging.Float64("average_score", candidate.AverageScore()),
				logging.String(logging.FieldEventType, "series_prompt_promoted"),
			)
			return
		}
	}

	if active.AverageScore() >= promptRedraftBelow {
		return
	}
	// An unscored candidate means a trial is still pending elsewhere.
	for _, candidate := range prompts {
		if candidate.ID != active.ID && candidate.ScoreCount == 0 {
			return
		}
	}
	p.trialCandidatePrompt(ctx, series, active)
}

// trialCandidatePrompt drafts a fresh prompt, generates a trial report with
// it, scores the result, and promotes the candidate if it beats the active
// prompt.
func (p *Pipeline) trialCandidatePrompt(ctx context.Context, series *store.Series, active *store.Prompt) {
	summaries, err := p.seriesSummaries(ctx, series.ID)
	if err != nil || len(summaries) == 0 {
		return
	}
	body, err := withStageValue(ctx, p.llmSem, func() (string, error) {
		return p.model.DraftSeriesPrompt(ctx, series.Title, summaries)
	})
	if err != nil {
		return
	}
	candidate, err := p.store.CreatePrompt(ctx, series.ID, body)
	if err != nil {
		return
	}
	trial, err := withStageValue(ctx, p.llmSem, func() (string, error) {
		return p.model.SummarizeSeries(ctx, candidate.Body, series.Title, summaries)
	})
	if err != nil {
		return
	}
	score, err := withStageValue(ctx, p.llmSem, func() (float64, error) {
		return p.model.ScoreSeriesReport(ctx, candidate.Body, trial)
	})
	if err != nil {
		return
	}
	if err := p.store.AddPromptScore(ctx, candidate.ID, score); err != nil {
		return
	}
	p.logger.Info("trialed candidate prompt",
		logging.Int64(logging.FieldSeriesID, series.ID),
		logging.Int64("prompt_id", candidate.ID),
		logging.Float64("score", score),
		logging.String(logging.FieldEventType, "series_prompt_trialed"),
	)
	if score > active.AverageScore()+promptPromotionMargin {
		if err := p.store.SetActivePrompt(ctx, series.ID, candidate.ID); err != nil {
			p.logger.Warn("prompt promotion failed", logging.Error(err))
		}
	}
}

// withStageValue is withStage for runs that produce a value.
func withStageValue[T any](ctx context.Context, sem *semaphore.Weighted, fn func() (T, error)) (T, error) {
	var zero T
	if err := sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer sem.Release(1)
	return fn()
}
