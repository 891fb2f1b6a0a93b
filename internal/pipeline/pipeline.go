package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/dmutex"
	"github.com/sirmick/alfrd-sub000/internal/doctype"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/notifications"
	"github.com/sirmick/alfrd-sub000/internal/services/llm"
	"github.com/sirmick/alfrd-sub000/internal/store"
	"github.com/sirmick/alfrd-sub000/internal/worker"
)

// TextExtractor produces normalized plain text from a source document.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// LanguageModel covers the model-backed pipeline operations.
type LanguageModel interface {
	ClassifyDocument(ctx context.Context, text, typeHints string) (llm.Classification, error)
	ScoreClassification(ctx context.Context, text, classificationJSON string) (float64, error)
	SummarizeDocument(ctx context.Context, text, classificationJSON string) (string, error)
	SummarizeSeries(ctx context.Context, promptBody, seriesTitle string, summaries []string) (string, error)
	DraftSeriesPrompt(ctx context.Context, seriesTitle string, summaries []string) (string, error)
	ScoreSeriesReport(ctx context.Context, promptBody, report string) (float64, error)
}

// Options wires the pipeline's collaborators.
type Options struct {
	Store     *store.Store
	Config    *config.Config
	Registry  *doctype.Registry
	Extractor TextExtractor
	Model     LanguageModel
	Locker    *dmutex.Locker
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Pipeline drives documents through the processing stages and keeps generated
// artifacts current. One document lane, one file lane, shared stage
// semaphores.
type Pipeline struct {
	store    *store.Store
	cfg      *config.Config
	registry *doctype.Registry
	extract  TextExtractor
	model    LanguageModel
	locker   *dmutex.Locker
	notifier notifications.Service
	logger   *slog.Logger

	// Stage semaphores bound concurrent use of external resources across
	// both lanes; the lane pools bound overall flow concurrency.
	ocrSem     *semaphore.Weighted
	llmSem     *semaphore.Weighted
	filegenSem *semaphore.Weighted

	docPool  *worker.Pool[*store.Document]
	filePool *worker.Pool[*store.File]

	steps []step

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
	runCtx  context.Context
}

// New builds a stopped pipeline. Start begins polling.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("pipeline: doctype registry is required")
	}
	if opts.Extractor == nil || opts.Model == nil {
		return nil, errors.New("pipeline: extractor and model are required")
	}
	if opts.Locker == nil {
		return nil, errors.New("pipeline: locker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	wf := opts.Config.Workflow
	p := &Pipeline{
		store:      opts.Store,
		cfg:        opts.Config,
		registry:   opts.Registry,
		extract:    opts.Extractor,
		model:      opts.Model,
		locker:     opts.Locker,
		notifier:   opts.Notifier,
		logger:     logging.WithComponent(logger, "pipeline"),
		ocrSem:     semaphore.NewWeighted(int64(wf.OCRConcurrency)),
		llmSem:     semaphore.NewWeighted(int64(wf.LLMConcurrency)),
		filegenSem: semaphore.NewWeighted(int64(wf.FileGenConcurrency)),
	}
	p.steps = p.buildSteps()

	docPool, err := worker.New(worker.Options{
		Name:            "documents",
		Concurrency:     wf.DocumentFlowConcurrency,
		BatchMultiplier: wf.BatchMultiplier,
		PollInterval:    opts.Config.PollInterval(),
		Logger:          logger,
	}, documentID, p.fetchDocuments, p.handleDocument)
	if err != nil {
		return nil, fmt.Errorf("document pool: %w", err)
	}
	filePool, err := worker.New(worker.Options{
		Name:            "files",
		Concurrency:     wf.FileFlowConcurrency,
		BatchMultiplier: wf.BatchMultiplier,
		PollInterval:    opts.Config.PollInterval(),
		Logger:          logger,
	}, fileID, p.fetchFiles, p.handleFile)
	if err != nil {
		return nil, fmt.Errorf("file pool: %w", err)
	}
	p.docPool = docPool
	p.filePool = filePool
	return p, nil
}

func documentID(doc *store.Document) int64 { return doc.ID }

func fileID(file *store.File) int64 { return file.ID }

// Start launches both lanes.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := p.docPool.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := p.filePool.Start(runCtx); err != nil {
		p.docPool.Stop()
		cancel()
		return err
	}
	p.runCtx = runCtx
	p.cancel = cancel
	p.running = true
	p.logger.Info("pipeline started",
		logging.Int("document_flow", p.cfg.Workflow.DocumentFlowConcurrency),
		logging.Int("file_flow", p.cfg.Workflow.FileFlowConcurrency),
	)
	return nil
}

// Stop cancels both lanes, drains in-flight handlers, then waits for any
// detached tasks.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.runCtx = nil
	p.mu.Unlock()

	cancel()
	p.docPool.Stop()
	p.filePool.Stop()
	p.tasks.Wait()
	p.logger.Info("pipeline stopped")
}

// spawn runs fn as a tracked detached task. Stop waits for it.
func (p *Pipeline) spawn(ctx context.Context, name string, fn func(ctx context.Context)) {
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("detached task panicked",
					logging.String("task", name),
					logging.Any("panic", r),
				)
			}
		}()
		fn(ctx)
	}()
}

// withStage acquires a stage semaphore for the duration of fn.
func withStage(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}

func (p *Pipeline) lockTimeout() time.Duration {
	return p.cfg.LockTimeout()
}
