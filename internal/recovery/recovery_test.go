package recovery_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/recovery"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "alfrd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newSweeper(t *testing.T, st *store.Store, maxRetries int) *recovery.Sweeper {
	t.Helper()
	sweeper, err := recovery.New(st, recovery.Options{
		Interval:           time.Minute,
		StaleTimeout:       time.Minute,
		FailedRetryBackoff: time.Nanosecond,
		MaxRetries:         maxRetries,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return sweeper
}

// advance walks a document through legal status transitions.
func advance(t *testing.T, st *store.Store, doc *store.Document, statuses ...store.Status) {
	t.Helper()
	ctx := context.Background()
	for _, status := range statuses {
		doc.Status = status
		if err := st.UpdateDocument(ctx, doc); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}
}

func backdateProcessing(t *testing.T, st *store.Store, doc *store.Document, age time.Duration) {
	t.Helper()
	started := time.Now().UTC().Add(-age)
	doc.ProcessingStartedAt = &started
	if err := st.UpdateDocument(context.Background(), doc); err != nil {
		t.Fatalf("backdate processing marker: %v", err)
	}
}

func TestSweepRollsBackStaleSummarizing(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/statement.pdf")
	if err != nil {
		t.Fatal(err)
	}
	doc.OCRText = "extracted text"
	doc.ClassificationJSON = `{"doc_type":"bank_statement"}`
	advance(t, st, doc,
		store.StatusOCRInProgress,
		store.StatusOCRCompleted,
		store.StatusClassifying,
		store.StatusClassified,
		store.StatusScoringClassification,
		store.StatusScoredClassification,
		store.StatusSummarizing,
	)
	backdateProcessing(t, st, doc, time.Hour)

	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusClassified {
		t.Fatalf("status = %s, want %s", got.Status, store.StatusClassified)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ProcessingStartedAt != nil {
		t.Fatal("processing marker should be cleared")
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected a reclaim note in error_message")
	}
}

func TestSweepRetiresExhaustedStaleDocument(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-2", "/inbox/scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	advance(t, st, doc, store.StatusOCRInProgress)
	backdateProcessing(t, st, doc, time.Hour)

	var mu sync.Mutex
	var permanentTitles []string
	notifier := &fakeNotifier{onPermanent: func(title string) {
		mu.Lock()
		permanentTitles = append(permanentTitles, title)
		mu.Unlock()
	}}

	sweeper, err := recovery.New(st, recovery.Options{
		Interval:           time.Minute,
		StaleTimeout:       time.Minute,
		FailedRetryBackoff: time.Minute,
		MaxRetries:         1,
		Notifier:           notifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusPermanentlyFailed {
		t.Fatalf("status = %s, want %s", got.Status, store.StatusPermanentlyFailed)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want exactly the budget", got.RetryCount)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(permanentTitles) != 1 || permanentTitles[0] != "scan.pdf" {
		t.Fatalf("permanent notifications = %v", permanentTitles)
	}
}

func TestSweepReschedulesFailedDocumentAtResumePoint(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-3", "/inbox/invoice.pdf")
	if err != nil {
		t.Fatal(err)
	}
	doc.OCRText = "invoice body"
	advance(t, st, doc, store.StatusOCRInProgress)
	doc.RetryCount = 1
	doc.SetFailed("classify blew up")
	if err := st.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusOCRCompleted {
		t.Fatalf("status = %s, want resume at %s", got.Status, store.StatusOCRCompleted)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message should clear on reschedule, got %q", got.ErrorMessage)
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry count = %d, each reschedule charges one", got.RetryCount)
	}
}

func TestSweepRetiresFailedDocumentAtBudget(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-3b", "/inbox/stubborn.pdf")
	if err != nil {
		t.Fatal(err)
	}
	doc.OCRText = "text"
	advance(t, st, doc, store.StatusOCRInProgress)
	doc.RetryCount = 2
	doc.SetFailed("classify blew up again")
	if err := st.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusPermanentlyFailed {
		t.Fatalf("status = %s, want %s", got.Status, store.StatusPermanentlyFailed)
	}
	if got.RetryCount != 3 {
		t.Fatalf("retry count = %d, want the full budget", got.RetryCount)
	}
}

func TestSweepLeavesExhaustedFailedDocumentsAlone(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-4", "/inbox/broken.pdf")
	if err != nil {
		t.Fatal(err)
	}
	advance(t, st, doc, store.StatusOCRInProgress)
	doc.RetryCount = 3
	doc.SetFailed("repeated failure")
	if err := st.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s; exhausted documents wait for manual retry", got.Status)
	}
}

func TestSweepReclaimsStaleFiles(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-5", "/inbox/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	file, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/report.md")
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := st.ClaimFile(ctx, file.ID, store.FileStatusPending, store.FileStatusGenerating)
	if err != nil || !claimed {
		t.Fatalf("claim file: %v claimed=%v", err, claimed)
	}
	file, err = st.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	started := time.Now().UTC().Add(-time.Hour)
	file.ProcessingStartedAt = &started
	if err := st.UpdateFile(ctx, file); err != nil {
		t.Fatal(err)
	}

	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.FileStatusPending {
		t.Fatalf("file status = %s, want %s", got.Status, store.FileStatusPending)
	}
	if got.RetryCount != 1 {
		t.Fatalf("file retry count = %d, want 1", got.RetryCount)
	}
	if got.ProcessingStartedAt != nil {
		t.Fatal("file processing marker should be cleared")
	}
}

func TestSweepReschedulesFailedFiles(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-7", "/inbox/summary.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/fresh.md")
	if err != nil {
		t.Fatal(err)
	}
	fresh.Status = store.FileStatusFailed
	fresh.ErrorMessage = "disk full"
	if err := st.UpdateFile(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	spent, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/spent.md")
	if err != nil {
		t.Fatal(err)
	}
	spent.Status = store.FileStatusFailed
	spent.ErrorMessage = "disk full"
	spent.RetryCount = 2
	if err := st.UpdateFile(ctx, spent); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := newSweeper(t, st, 3).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetFile(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.FileStatusPending {
		t.Fatalf("file status = %s, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("file retry count = %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message should clear on reschedule, got %q", got.ErrorMessage)
	}

	got, err = st.GetFile(ctx, spent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.FileStatusFailed {
		t.Fatalf("spent file status = %s, want failed", got.Status)
	}
	if got.RetryCount != 3 {
		t.Fatalf("spent file retry count = %d, want the full budget", got.RetryCount)
	}
}

func TestSweepIsIdempotentWhenNothingIsStale(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-6", "/inbox/fresh.pdf")
	if err != nil {
		t.Fatal(err)
	}
	advance(t, st, doc, store.StatusOCRInProgress)
	backdateProcessing(t, st, doc, time.Second)

	sweeper := newSweeper(t, st, 3)
	for i := 0; i < 3; i++ {
		if err := sweeper.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusOCRInProgress {
		t.Fatalf("fresh in-flight document moved to %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", got.RetryCount)
	}
}

type fakeNotifier struct {
	onPermanent func(title string)
}

func (f *fakeNotifier) NotifyDaemonStarted(context.Context, string) error             { return nil }
func (f *fakeNotifier) NotifyDaemonStopped(context.Context, time.Duration) error      { return nil }
func (f *fakeNotifier) NotifyDocumentIngested(context.Context, string) error          { return nil }
func (f *fakeNotifier) NotifyDocumentCompleted(context.Context, string, string) error { return nil }
func (f *fakeNotifier) NotifyDocumentFailed(context.Context, string, int, int) error  { return nil }
func (f *fakeNotifier) NotifyDocumentPermanentlyFailed(_ context.Context, title, _ string) error {
	if f.onPermanent != nil {
		f.onPermanent(title)
	}
	return nil
}
func (f *fakeNotifier) NotifySeriesReportGenerated(context.Context, string, int) error { return nil }
func (f *fakeNotifier) NotifyError(context.Context, error, string) error               { return nil }
func (f *fakeNotifier) TestNotification(context.Context) error                         { return nil }
