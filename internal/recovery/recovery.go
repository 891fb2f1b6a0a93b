package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/notifications"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

const staleReclaimMessage = "processing interrupted; reclaimed by recovery"

// Options tunes the Sweeper.
type Options struct {
	// Interval between sweeps. A sweep also runs eagerly at Start.
	Interval time.Duration
	// StaleTimeout is how long in-flight work may hold its processing marker
	// before it is presumed orphaned.
	StaleTimeout time.Duration
	// FailedRetryBackoff is how long failed documents rest before the sweeper
	// moves them back to their resume point.
	FailedRetryBackoff time.Duration
	// MaxRetries is the per-document attempt budget.
	MaxRetries int
	Logger     *slog.Logger
	Notifier   notifications.Service
}

// Sweeper reclaims work orphaned by crashes and schedules retries for failed
// documents. It is the only component that moves documents into
// permanently_failed.
type Sweeper struct {
	store    *store.Store
	opts     Options
	logger   *slog.Logger
	notifier notifications.Service

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Sweeper.
func New(st *store.Store, opts Options) (*Sweeper, error) {
	if st == nil {
		return nil, errors.New("recovery: store is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("recovery: interval must be positive")
	}
	if opts.StaleTimeout <= 0 {
		return nil, errors.New("recovery: stale timeout must be positive")
	}
	if opts.FailedRetryBackoff <= 0 {
		return nil, errors.New("recovery: failed retry backoff must be positive")
	}
	if opts.MaxRetries <= 0 {
		return nil, errors.New("recovery: max retries must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:    st,
		opts:     opts,
		logger:   logger.With(logging.String(logging.FieldComponent, "recovery")),
		notifier: opts.Notifier,
	}, nil
}

// Start runs one eager sweep, then sweeps on the configured interval until
// Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("recovery already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sweepAndLog(runCtx)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweepAndLog(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the sweep loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sweep failed; stuck work may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "recovery_sweep_failed"),
			logging.String(logging.FieldErrorHint, "check pipeline database access"),
		)
	}
}

// Sweep runs all recovery passes once: stale in-flight documents, stale
// generating files, and failed documents and files whose backoff has elapsed.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if err := s.reclaimStaleDocuments(ctx); err != nil {
		return err
	}
	if err := s.reclaimStaleFiles(ctx); err != nil {
		return err
	}
	if err := s.retryFailedDocuments(ctx); err != nil {
		return err
	}
	return s.retryFailedFiles(ctx)
}

func (s *Sweeper) reclaimStaleDocuments(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.opts.StaleTimeout)
	docs, err := s.store.StaleProcessingDocuments(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale documents: %w", err)
	}

	for _, doc := range docs {
		doc.RetryCount++
		if doc.RetryCount >= s.opts.MaxRetries {
			if err := s.failPermanently(ctx, doc, staleReclaimMessage); err != nil {
				return err
			}
			continue
		}

		target, ok := store.RollbackTarget(doc.Status)
		if !ok {
			// StaleProcessingDocuments only returns in-flight statuses, all
			// of which have a rollback target.
			continue
		}
		previous := doc.Status
		doc.Status = target
		doc.ErrorMessage = staleReclaimMessage
		doc.ProcessingStartedAt = nil
		if err := s.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("roll back document %d: %w", doc.ID, err)
		}
		s.logger.Info("reclaimed stale document",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.String("from", string(previous)),
			logging.String("to", string(target)),
			logging.Int("retry_count", doc.RetryCount),
			logging.String(logging.FieldEventType, "stale_document_reclaimed"),
		)
	}
	return nil
}

func (s *Sweeper) reclaimStaleFiles(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.opts.StaleTimeout)
	files, err := s.store.StaleGeneratingFiles(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale files: %w", err)
	}

	for _, file := range files {
		file.RetryCount++
		file.ProcessingStartedAt = nil
		if file.RetryCount >= s.opts.MaxRetries {
			file.Status = store.FileStatusFailed
			file.ErrorMessage = staleReclaimMessage
			if err := s.store.UpdateFile(ctx, file); err != nil {
				return fmt.Errorf("fail file %d: %w", file.ID, err)
			}
			s.logger.Warn("file generation exhausted retries",
				logging.Int64(logging.FieldFileID, file.ID),
				logging.String(logging.FieldEventType, "file_generation_exhausted"),
				logging.String(logging.FieldErrorHint, "inspect the file record and retry manually"),
			)
			continue
		}

		target, ok := store.FileRollbackTarget(file.Status)
		if !ok {
			continue
		}
		file.Status = target
		file.ErrorMessage = staleReclaimMessage
		if err := s.store.UpdateFile(ctx, file); err != nil {
			return fmt.Errorf("roll back file %d: %w", file.ID, err)
		}
		s.logger.Info("reclaimed stale file",
			logging.Int64(logging.FieldFileID, file.ID),
			logging.String("to", string(target)),
			logging.Int("retry_count", file.RetryCount),
			logging.String(logging.FieldEventType, "stale_file_reclaimed"),
		)
	}
	return nil
}

func (s *Sweeper) retryFailedDocuments(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.opts.FailedRetryBackoff)
	docs, err := s.store.FailedDocumentsReadyForRetry(ctx, cutoff, s.opts.MaxRetries)
	if err != nil {
		return fmt.Errorf("list failed documents: %w", err)
	}

	for _, doc := range docs {
		// The sweep owns the retry budget: each reschedule charges one.
		doc.RetryCount++
		if doc.RetryCount >= s.opts.MaxRetries {
			if err := s.failPermanently(ctx, doc, "retry budget exhausted"); err != nil {
				return err
			}
			continue
		}

		resume := doc.ResumePoint()
		doc.Status = resume
		doc.ErrorMessage = ""
		doc.ProcessingStartedAt = nil
		if err := s.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("resume document %d: %w", doc.ID, err)
		}
		s.logger.Info("scheduled failed document for retry",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.String("resume_point", string(resume)),
			logging.Int("retry_count", doc.RetryCount),
			logging.String(logging.FieldEventType, "failed_document_rescheduled"),
		)
	}
	return nil
}

func (s *Sweeper) retryFailedFiles(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.opts.FailedRetryBackoff)
	files, err := s.store.FailedFilesReadyForRetry(ctx, cutoff, s.opts.MaxRetries)
	if err != nil {
		return fmt.Errorf("list failed files: %w", err)
	}

	for _, file := range files {
		file.RetryCount++
		if file.RetryCount >= s.opts.MaxRetries {
			file.ErrorMessage = "retry budget exhausted: " + file.ErrorMessage
			if err := s.store.UpdateFile(ctx, file); err != nil {
				return fmt.Errorf("retire file %d: %w", file.ID, err)
			}
			s.logger.Warn("file generation exhausted retries",
				logging.Int64(logging.FieldFileID, file.ID),
				logging.String(logging.FieldEventType, "file_generation_exhausted"),
				logging.String(logging.FieldErrorHint, "inspect the file record and retry manually"),
			)
			continue
		}

		file.Status = store.FileStatusPending
		file.ErrorMessage = ""
		file.ProcessingStartedAt = nil
		if err := s.store.UpdateFile(ctx, file); err != nil {
			return fmt.Errorf("resume file %d: %w", file.ID, err)
		}
		s.logger.Info("scheduled failed file for retry",
			logging.Int64(logging.FieldFileID, file.ID),
			logging.Int("retry_count", file.RetryCount),
			logging.String(logging.FieldEventType, "failed_file_rescheduled"),
		)
	}
	return nil
}

// failPermanently records the terminal failure. The move goes through failed
// first; the transition table admits permanently_failed only from there.
func (s *Sweeper) failPermanently(ctx context.Context, doc *store.Document, message string) error {
	if doc.Status != store.StatusFailed {
		doc.SetFailed(message)
		if err := s.store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("fail document %d: %w", doc.ID, err)
		}
	}
	doc.Status = store.StatusPermanentlyFailed
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("permanently fail document %d: %w", doc.ID, err)
	}
	s.logger.Error("document permanently failed",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.Int("retry_count", doc.RetryCount),
		logging.String("reason", message),
		logging.String(logging.FieldEventType, "document_permanently_failed"),
		logging.String(logging.FieldErrorHint, "inspect with 'alfrd queue show' and re-ingest a corrected copy"),
	)
	if s.notifier != nil {
		name := filepath.Base(doc.SourcePath)
		if err := s.notifier.NotifyDocumentPermanentlyFailed(ctx, name, message); err != nil {
			s.logger.Warn("permanent failure notification failed", logging.Error(err))
		}
	}
	return nil
}
