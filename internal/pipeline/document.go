package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/services"
	"github.com/sirmick/alfrd-sub000/internal/services/llm"
	"github.com/sirmick/alfrd-sub000/internal/store"
	"github.com/sirmick/alfrd-sub000/internal/textutil"
)

// step is one stage of the document flow. from is the ready status the step
// consumes; inProgress, when set, is claimed atomically before run and owns
// processing_started_at; done is persisted after run succeeds. skip short
// circuits from directly to done without running.
type step struct {
	name       string
	from       store.Status
	inProgress store.Status
	done       store.Status
	skip       func(doc *store.Document) bool
	run        func(ctx context.Context, doc *store.Document) error
}

func (p *Pipeline) buildSteps() []step {
	return []step{
		{
			name:       "ocr",
			from:       store.StatusPending,
			inProgress: store.StatusOCRInProgress,
			done:       store.StatusOCRCompleted,
			run:        p.runOCR,
		},
		{
			name:       "classify",
			from:       store.StatusOCRCompleted,
			inProgress: store.StatusClassifying,
			done:       store.StatusClassified,
			run:        p.runClassify,
		},
		{
			name:       "score_classification",
			from:       store.StatusClassified,
			inProgress: store.StatusScoringClassification,
			done:       store.StatusScoredClassification,
			run:        p.runScoreClassification,
		},
		{
			name:       "summarize",
			from:       store.StatusScoredClassification,
			inProgress: store.StatusSummarizing,
			done:       store.StatusSummarized,
			run:        p.runSummarize,
		},
		{
			name: "file",
			from: store.StatusSummarized,
			done: store.StatusFiled,
			run:  p.runFiling,
		},
		{
			name:       "series_summary",
			from:       store.StatusFiled,
			inProgress: store.StatusSeriesSummarizing,
			done:       store.StatusSeriesSummarized,
			skip:       func(doc *store.Document) bool { return doc.SeriesID == nil },
			run:        p.runSeriesSummary,
		},
		{
			name: "complete",
			from: store.StatusSeriesSummarized,
			done: store.StatusCompleted,
			run:  p.runComplete,
		},
	}
}

var documentReadyStatuses = []store.Status{
	store.StatusPending,
	store.StatusOCRCompleted,
	store.StatusClassified,
	store.StatusScoredClassification,
	store.StatusSummarized,
	store.StatusFiled,
	store.StatusSeriesSummarized,
}

func (p *Pipeline) fetchDocuments(ctx context.Context, limit int) ([]*store.Document, error) {
	return p.store.DocumentsByStatus(ctx, limit, documentReadyStatuses...)
}

// handleDocument drives one document through every remaining step in order,
// re-persisting after each. The pool guarantees a document is handled by at
// most one goroutine per process.
func (p *Pipeline) handleDocument(ctx context.Context, doc *store.Document) error {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	ctx = services.WithDocumentID(ctx, doc.ID)
	logger := p.logger.With(logging.Int64(logging.FieldDocumentID, doc.ID))

	// The fetched row may be stale by the time the handler runs.
	doc, err := p.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, ok := p.stepFor(doc.Status)
		if !ok {
			return nil
		}
		if st.skip != nil && st.skip(doc) {
			doc.Status = st.done
			if err := p.store.UpdateDocument(ctx, doc); err != nil {
				return err
			}
			continue
		}
		claimed, err := p.runStep(ctx, logger, st, doc)
		if err != nil {
			return err
		}
		if !claimed {
			// Another worker owns the row; it will carry the document forward.
			return nil
		}
	}
}

func (p *Pipeline) stepFor(status store.Status) (step, bool) {
	for _, st := range p.steps {
		if st.from == status {
			return st, true
		}
	}
	return step{}, false
}

// runStep claims and executes one step. The returned bool reports whether
// this worker held the claim; a lost claim means the caller must stop driving
// the document.
func (p *Pipeline) runStep(ctx context.Context, logger *slog.Logger, st step, doc *store.Document) (bool, error) {
	stageCtx := services.WithStage(ctx, st.name)
	if st.inProgress != "" {
		claimed, err := p.store.ClaimDocument(stageCtx, doc.ID, st.from, st.inProgress)
		if err != nil {
			return false, err
		}
		if !claimed {
			return false, nil
		}
	}

	started := time.Now()
	err := st.run(stageCtx, doc)
	if err != nil {
		return true, p.failDocument(ctx, doc, st, err)
	}

	doc.Status = st.done
	doc.ErrorMessage = ""
	doc.ProcessingStartedAt = nil
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return true, err
	}
	logger.Info("step completed",
		logging.String("step", st.name),
		logging.String("status", string(st.done)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "pipeline_step_completed"),
	)
	return true, nil
}

// failDocument records a step failure. The retry count is charged by the
// recovery sweeper when it reschedules the document, never here; only
// non-retryable failures and documents that already spent their budget
// become permanent immediately.
func (p *Pipeline) failDocument(ctx context.Context, doc *store.Document, st step, cause error) error {
	message := fmt.Sprintf("%s: %v", st.name, cause)
	if hint := services.FailureHint(cause); hint != "" {
		message = fmt.Sprintf("%s (%s)", message, hint)
	}
	doc.SetFailed(message)
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	permanent := !services.IsRetryable(cause) || doc.RetryCount >= p.cfg.Workflow.MaxRetries
	title := p.documentTitle(doc)
	if permanent {
		doc.Status = store.StatusPermanentlyFailed
		if err := p.store.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		p.logger.Error("document permanently failed",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.String("step", st.name),
			logging.Error(cause),
			logging.String(logging.FieldEventType, "pipeline_document_permanently_failed"),
			logging.String(logging.FieldErrorHint, "inspect with 'alfrd queue show' and re-ingest a corrected copy"),
		)
		p.notify(ctx, func(ctx context.Context) error {
			return p.notifier.NotifyDocumentPermanentlyFailed(ctx, title, message)
		})
		return nil
	}

	p.logger.Warn("document step failed",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("step", st.name),
		logging.Int("retry_count", doc.RetryCount),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "pipeline_document_failed"),
	)
	p.notify(ctx, func(ctx context.Context) error {
		return p.notifier.NotifyDocumentFailed(ctx, title, doc.RetryCount, p.cfg.Workflow.MaxRetries)
	})
	return nil
}

func (p *Pipeline) runOCR(ctx context.Context, doc *store.Document) error {
	path := doc.ArchivePath
	if path == "" {
		path = doc.SourcePath
	}
	return withStage(ctx, p.ocrSem, func() error {
		text, err := p.extract.Extract(ctx, path)
		if err != nil {
			return err
		}
		doc.OCRText = text
		return nil
	})
}

func (p *Pipeline) runClassify(ctx context.Context, doc *store.Document) error {
	return withStage(ctx, p.llmSem, func() error {
		cls, err := p.model.ClassifyDocument(ctx, doc.OCRText, p.registry.ClassifierHints())
		if err != nil {
			return err
		}
		// Unknown types fall back to the catch-all registry entry.
		dt, _ := p.registry.Get(cls.DocType)
		cls.DocType = dt.Name
		payload, err := cls.JSON()
		if err != nil {
			return err
		}
		doc.DocType = cls.DocType
		doc.Entity = cls.Entity
		doc.Correspondent = cls.Correspondent
		doc.DocDate = cls.DocDate
		doc.ClassificationJSON = payload
		return nil
	})
}

func (p *Pipeline) runScoreClassification(ctx context.Context, doc *store.Document) error {
	return withStage(ctx, p.llmSem, func() error {
		score, err := p.model.ScoreClassification(ctx, doc.OCRText, doc.ClassificationJSON)
		if err != nil {
			return err
		}
		doc.ClassificationScore = score
		return nil
	})
}

func (p *Pipeline) runSummarize(ctx context.Context, doc *store.Document) error {
	return withStage(ctx, p.llmSem, func() error {
		summary, err := p.model.SummarizeDocument(ctx, doc.OCRText, doc.ClassificationJSON)
		if err != nil {
			return err
		}
		doc.Summary = summary
		return nil
	})
}

// runFiling registers the document's summary artifact and attaches the
// document to its series, creating the series on first use. Existing series
// reports go stale the moment a new document joins.
func (p *Pipeline) runFiling(ctx context.Context, doc *store.Document) error {
	dt, _ := p.registry.Get(doc.DocType)
	outDir := filepath.Join(p.cfg.Paths.OutputDir, dt.ResolvePath(doc.Entity, doc.DocDate))
	summaryName := textutil.SanitizeFileName(p.documentTitle(doc)) + ".md"

	if err := p.ensureDocumentSummaryFile(ctx, doc.ID, filepath.Join(outDir, summaryName)); err != nil {
		return err
	}

	if !dt.Series {
		return nil
	}
	entity := textutil.SanitizeToken(doc.Entity)
	seriesType := dt.ResolveSeriesType(doc.DocDate)
	series, err := p.store.EnsureSeries(ctx, entity, seriesType, entity+" "+seriesType)
	if err != nil {
		return err
	}
	doc.SeriesID = &series.ID
	if _, err := p.store.MarkSeriesReportsOutdated(ctx, series.ID, nil); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) ensureDocumentSummaryFile(ctx context.Context, documentID int64, path string) error {
	files, err := p.store.DocumentFiles(ctx, documentID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Kind == store.FileKindDocumentSummary {
			return nil
		}
	}
	_, err = p.store.NewDocumentFile(ctx, documentID, store.FileKindDocumentSummary, path)
	return err
}

func (p *Pipeline) runComplete(ctx context.Context, doc *store.Document) error {
	p.notify(ctx, func(ctx context.Context) error {
		return p.notifier.NotifyDocumentCompleted(ctx, p.documentTitle(doc), doc.DocType)
	})
	return nil
}

// documentTitle prefers the classified title and falls back to the source
// file name.
func (p *Pipeline) documentTitle(doc *store.Document) string {
	if doc.ClassificationJSON != "" {
		if cls, err := llm.ParseClassification(doc.ClassificationJSON); err == nil && cls.Title != "" {
			return cls.Title
		}
	}
	return filepath.Base(doc.SourcePath)
}

func (p *Pipeline) notify(ctx context.Context, fn func(ctx context.Context) error) {
	if p.notifier == nil {
		return
	}
	if err := fn(ctx); err != nil {
		p.logger.Warn("notification failed", logging.Error(err))
	}
}
