package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/fileutil"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/notifications"
	"github.com/sirmick/alfrd-sub000/internal/services/ocr"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

const hashWorkers = 4

// Scanner watches the inbox directory and registers new documents.
type Scanner struct {
	store    *store.Store
	inbox    string
	archive  string
	interval time.Duration
	logger   *slog.Logger
	notifier notifications.Service

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Scanner from configuration.
func New(st *store.Store, cfg *config.Config, logger *slog.Logger, notifier notifications.Service) (*Scanner, error) {
	if st == nil {
		return nil, errors.New("ingest: store is required")
	}
	if strings.TrimSpace(cfg.Paths.InboxDir) == "" || strings.TrimSpace(cfg.Paths.ArchiveDir) == "" {
		return nil, errors.New("ingest: inbox and archive directories are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		store:    st,
		inbox:    cfg.Paths.InboxDir,
		archive:  cfg.Paths.ArchiveDir,
		interval: cfg.PollInterval(),
		logger:   logging.WithComponent(logger, "ingest"),
		notifier: notifier,
	}, nil
}

// Start scans eagerly, then on the poll interval until Stop.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("ingest already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.scanAndLog(runCtx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.scanAndLog(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the scan loop and waits for an in-progress scan.
func (s *Scanner) Stop() {
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

func (s *Scanner) scanAndLog(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("inbox scan failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ingest_scan_failed"),
			logging.String(logging.FieldErrorHint, "check inbox directory permissions"),
		)
	}
}

type candidate struct {
	path        string
	fingerprint string
}

// Scan walks the inbox once, registering every new supported document:
// fingerprint, dedupe, verified archive copy, pending row. Returns the
// number of documents registered.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
			continue
		}
		if !ocr.Supported(name) {
			continue
		}
		paths = append(paths, filepath.Join(s.inbox, name))
	}
	if len(paths) == 0 {
		return 0, nil
	}

	// Hash in parallel; registration stays sequential so dedupe within one
	// scan is race-free.
	candidates := make([]candidate, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(hashWorkers)
	for i, path := range paths {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			fingerprint, err := fileutil.HashFile(path)
			if err != nil {
				return fmt.Errorf("fingerprint %s: %w", filepath.Base(path), err)
			}
			candidates[i] = candidate{path: path, fingerprint: fingerprint}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}

	registered := 0
	seen := make(map[string]struct{}, len(candidates))
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return registered, err
		}
		if _, dup := seen[cand.fingerprint]; dup {
			continue
		}
		seen[cand.fingerprint] = struct{}{}

		ok, err := s.register(ctx, cand)
		if err != nil {
			s.logger.Warn("document registration failed",
				logging.String("path", filepath.Base(cand.path)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "ingest_register_failed"),
			)
			continue
		}
		if ok {
			registered++
		}
	}
	return registered, nil
}

// register archives one candidate and inserts its pending row. Returns false
// when the fingerprint is already known.
func (s *Scanner) register(ctx context.Context, cand candidate) (bool, error) {
	existing, err := s.store.FindByFingerprint(ctx, cand.fingerprint)
	if err != nil {
		return false, err
	}
	if existing != nil {
		// Content already archived under a previous ingest; drop the copy.
		if err := os.Remove(cand.path); err != nil {
			return false, fmt.Errorf("remove duplicate: %w", err)
		}
		s.logger.Info("skipped duplicate document",
			logging.String("path", filepath.Base(cand.path)),
			logging.Int64(logging.FieldDocumentID, existing.ID),
			logging.String(logging.FieldEventType, "ingest_duplicate_skipped"),
		)
		return false, nil
	}

	archivePath, err := s.archiveCopy(cand)
	if err != nil {
		return false, err
	}

	doc, err := s.store.NewDocument(ctx, cand.fingerprint, cand.path)
	if err != nil {
		return false, err
	}
	doc.ArchivePath = archivePath
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return false, err
	}

	// The archive copy is verified; the inbox original is now redundant.
	if err := os.Remove(cand.path); err != nil {
		s.logger.Warn("could not remove ingested inbox file",
			logging.String("path", cand.path),
			logging.Error(err),
		)
	}

	s.logger.Info("document registered",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("path", filepath.Base(cand.path)),
		logging.String("fingerprint", cand.fingerprint[:12]),
		logging.String(logging.FieldEventType, "ingest_document_registered"),
	)
	if s.notifier != nil {
		if err := s.notifier.NotifyDocumentIngested(ctx, filepath.Base(cand.path)); err != nil {
			s.logger.Warn("ingest notification failed", logging.Error(err))
		}
	}
	return true, nil
}

// archiveCopy places the source under archive/YYYY/MM with a fingerprint
// prefix so archived names never collide.
func (s *Scanner) archiveCopy(cand candidate) (string, error) {
	now := time.Now().UTC()
	dir := filepath.Join(s.archive, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	dst := filepath.Join(dir, cand.fingerprint[:12]+"_"+filepath.Base(cand.path))
	if err := fileutil.CopyFileVerified(cand.path, dst); err != nil {
		return "", fmt.Errorf("archive copy: %w", err)
	}
	return dst, nil
}
