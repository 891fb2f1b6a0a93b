package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/services"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

// fetchFiles feeds the file lane. Each poll first advances any pending
// series regenerations, then returns files awaiting generation.
func (p *Pipeline) fetchFiles(ctx context.Context, limit int) ([]*store.File, error) {
	p.sweepRegeneration(ctx)
	return p.store.FilesByStatus(ctx, limit, p.cfg.Workflow.MaxRetries,
		store.FileStatusPending, store.FileStatusOutdated)
}

// sweepRegeneration marks stale report files of regeneration-pending series
// outdated, sparing reports already produced by the active prompt, and
// clears the flag once a sweep finds nothing left to regenerate.
func (p *Pipeline) sweepRegeneration(ctx context.Context) {
	pending, err := p.store.SeriesWithRegenerationPending(ctx)
	if err != nil {
		p.logger.Warn("regeneration sweep failed", logging.Error(err))
		return
	}
	for _, series := range pending {
		flipped, err := p.store.MarkSeriesReportsOutdated(ctx, series.ID, series.ActivePromptID)
		if err != nil {
			p.logger.Warn("marking reports outdated failed",
				logging.Int64(logging.FieldSeriesID, series.ID),
				logging.Error(err),
			)
			continue
		}
		if flipped > 0 {
			continue
		}
		remaining, err := p.unregeneratedReports(ctx, series)
		if err != nil {
			continue
		}
		if remaining == 0 {
			if err := p.store.SetRegenerationPending(ctx, series.ID, false); err != nil {
				p.logger.Warn("clearing regeneration flag failed",
					logging.Int64(logging.FieldSeriesID, series.ID),
					logging.Error(err),
				)
				continue
			}
			p.logger.Info("series regeneration complete",
				logging.Int64(logging.FieldSeriesID, series.ID),
				logging.String(logging.FieldEventType, "series_regeneration_complete"),
			)
		}
	}
}

// unregeneratedReports counts report files of a series not yet regenerated
// with the active prompt.
func (p *Pipeline) unregeneratedReports(ctx context.Context, series *store.Series) (int, error) {
	reports, err := p.store.SeriesFiles(ctx, series.ID, store.FileKindSeriesReport)
	if err != nil {
		return 0, err
	}
	remaining := 0
	for _, report := range reports {
		switch report.Status {
		case store.FileStatusGenerated:
			if series.ActivePromptID != nil &&
				(report.PromptID == nil || *report.PromptID != *series.ActivePromptID) {
				remaining++
			}
		case store.FileStatusFailed:
			// Waits on the recovery sweeper; a reschedule brings it back
			// through pending with the active prompt.
		default:
			remaining++
		}
	}
	return remaining, nil
}

// handleFile claims one artifact and generates its content on disk.
func (p *Pipeline) handleFile(ctx context.Context, file *store.File) error {
	from := file.Status
	to := store.FileStatusGenerating
	if from == store.FileStatusOutdated {
		to = store.FileStatusRegenerating
	}
	claimed, err := p.store.ClaimFile(ctx, file.ID, from, to)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	file, err = p.store.GetFile(ctx, file.ID)
	if err != nil {
		return err
	}
	if file == nil {
		return nil
	}

	genErr := withStage(ctx, p.filegenSem, func() error {
		switch file.Kind {
		case store.FileKindDocumentSummary:
			return p.generateDocumentSummary(ctx, file)
		case store.FileKindSeriesReport:
			return p.generateSeriesReport(ctx, file)
		default:
			return services.Wrap(services.ErrValidation, "filegen", "dispatch",
				fmt.Sprintf("unknown file kind %q", file.Kind), nil)
		}
	})
	if genErr != nil {
		return p.failFile(ctx, file, genErr)
	}

	file.Status = store.FileStatusGenerated
	file.ErrorMessage = ""
	file.ProcessingStartedAt = nil
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	p.logger.Info("artifact generated",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("kind", file.Kind),
		logging.String("path", file.Path),
		logging.String(logging.FieldEventType, "file_generated"),
	)
	return nil
}

// failFile parks the file in failed with the cause recorded. The recovery
// sweeper charges the retry and moves it back to pending once the backoff
// elapses, until the budget runs out.
func (p *Pipeline) failFile(ctx context.Context, file *store.File, cause error) error {
	file.Status = store.FileStatusFailed
	file.ErrorMessage = cause.Error()
	file.ProcessingStartedAt = nil
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	p.logger.Warn("artifact generation failed",
		logging.Int64(logging.FieldFileID, file.ID),
		logging.String("kind", file.Kind),
		logging.Int("retry_count", file.RetryCount),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "file_generation_failed"),
	)
	return nil
}

func (p *Pipeline) generateDocumentSummary(ctx context.Context, file *store.File) error {
	if file.DocumentID == nil {
		return services.Wrap(services.ErrValidation, "filegen", "document summary",
			"file has no document", nil)
	}
	doc, err := p.store.GetDocument(ctx, *file.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.Summary == "" {
		return services.Wrap(services.ErrValidation, "filegen", "document summary",
			"document has no summary to write", nil)
	}
	return writeArtifact(file.Path, doc.Summary)
}

// generateSeriesReport writes the series report, reusing the stored summary
// when it is current and regenerating through the model otherwise. The
// produced report is stamped with the prompt that made it and handed to a
// detached scorer.
func (p *Pipeline) generateSeriesReport(ctx context.Context, file *store.File) error {
	if file.SeriesID == nil {
		return services.Wrap(services.ErrValidation, "filegen", "series report",
			"file has no series", nil)
	}
	series, err := p.store.GetSeries(ctx, *file.SeriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return services.Wrap(services.ErrValidation, "filegen", "series report",
			fmt.Sprintf("series %d does not exist", *file.SeriesID), nil)
	}
	if series.ActivePromptID == nil {
		return services.Wrap(services.ErrValidation, "filegen", "series report",
			"series has no active prompt yet", nil)
	}
	prompt, err := p.activePrompt(ctx, series)
	if err != nil {
		return err
	}

	report := series.Summary
	if report == "" || series.RegenerationPending {
		summaries, err := p.seriesSummaries(ctx, series.ID)
		if err != nil {
			return err
		}
		report, err = withStageValue(ctx, p.llmSem, func() (string, error) {
			return p.model.SummarizeSeries(ctx, prompt.Body, series.Title, summaries)
		})
		if err != nil {
			return err
		}
		series.Summary = report
		if err := p.store.UpdateSeries(ctx, series); err != nil {
			return err
		}
	}

	if err := writeArtifact(file.Path, report); err != nil {
		return err
	}
	file.PromptID = &prompt.ID

	taskCtx := p.taskContext()
	p.spawn(taskCtx, "score-series-report", func(ctx context.Context) {
		p.scoreSeriesReport(ctx, series.ID, prompt.ID, prompt.Body, report)
	})
	return nil
}

// taskContext is the pipeline-lifetime context detached tasks run under.
func (p *Pipeline) taskContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runCtx != nil {
		return p.runCtx
	}
	return context.Background()
}

// writeArtifact writes content atomically via a sibling temp file.
func writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}
