package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/store"
	"github.com/sirmick/alfrd-sub000/internal/testsupport"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func TestNewDocumentRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/statement.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if doc.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", doc.Status)
	}

	loaded, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if loaded.Fingerprint != "fp-1" || loaded.SourcePath != "/inbox/statement.pdf" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	found, err := st.FindByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("find by fingerprint: %v", err)
	}
	if found == nil || found.ID != doc.ID {
		t.Fatalf("fingerprint lookup = %+v", found)
	}

	missing, err := st.FindByFingerprint(ctx, "fp-unknown")
	if err != nil {
		t.Fatalf("find unknown fingerprint: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown fingerprint, got %+v", missing)
	}
}

func TestUpdateDocumentRejectsIllegalTransition(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	doc.Status = store.StatusCompleted
	err = st.UpdateDocument(ctx, doc)
	var transitionErr *store.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.From != store.StatusPending || transitionErr.To != store.StatusCompleted {
		t.Fatalf("transition error = %+v", transitionErr)
	}
}

func TestUpdateDocumentAllowsSameStatus(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	doc.OCRText = "extracted text"
	doc.ClassificationScore = 0.85
	doc.Summary = "## Statement\n\nBalance rose."
	doc.RetryCount = 1
	if err := st.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("same-status update: %v", err)
	}

	loaded, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if loaded.OCRText != "extracted text" {
		t.Fatalf("ocr text = %q", loaded.OCRText)
	}
	if loaded.ClassificationScore != 0.85 {
		t.Fatalf("classification score = %v", loaded.ClassificationScore)
	}
	if loaded.Summary != "## Statement\n\nBalance rose." {
		t.Fatalf("summary = %q", loaded.Summary)
	}
	if loaded.RetryCount != 1 {
		t.Fatalf("retry count = %d", loaded.RetryCount)
	}
}

func TestClaimDocumentIsExclusive(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	claimed, err := st.ClaimDocument(ctx, doc.ID, store.StatusPending, store.StatusOCRInProgress)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	claimed, err = st.ClaimDocument(ctx, doc.ID, store.StatusPending, store.StatusOCRInProgress)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim should lose")
	}

	loaded, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if loaded.ProcessingStartedAt == nil {
		t.Fatal("claim should stamp processing_started_at")
	}
}

func TestClaimDocumentRejectsIllegalMove(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := st.ClaimDocument(ctx, doc.ID, store.StatusPending, store.StatusSummarizing); err == nil {
		t.Fatal("expected transition error")
	}
}

func TestResumePointFollowsArtifacts(t *testing.T) {
	seriesID := int64(3)
	cases := []struct {
		name string
		doc  store.Document
		want store.Status
	}{
		{"nothing yet", store.Document{}, store.StatusPending},
		{"ocr text only", store.Document{OCRText: "text"}, store.StatusOCRCompleted},
		{"classified", store.Document{OCRText: "text", ClassificationJSON: "{}"}, store.StatusClassified},
		{"summarized", store.Document{OCRText: "text", ClassificationJSON: "{}", Summary: "sum"}, store.StatusSummarized},
		{"filed into series", store.Document{OCRText: "text", ClassificationJSON: "{}", Summary: "sum", SeriesID: &seriesID}, store.StatusFiled},
	}
	for _, tc := range cases {
		if got := tc.doc.ResumePoint(); got != tc.want {
			t.Errorf("%s: resume point = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRetryFailedDocumentsResetsBudget(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	failed, err := st.NewDocument(ctx, "fp-failed", "/inbox/failed.pdf")
	if err != nil {
		t.Fatalf("failed doc: %v", err)
	}
	failed.OCRText = "text"
	failed.RetryCount = 3
	failed.SetFailed("classify: boom")
	if err := st.UpdateDocument(ctx, failed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	permanent, err := st.NewDocument(ctx, "fp-permanent", "/inbox/permanent.pdf")
	if err != nil {
		t.Fatalf("permanent doc: %v", err)
	}
	permanent.SetFailed("ocr: unreadable")
	if err := st.UpdateDocument(ctx, permanent); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	permanent.Status = store.StatusPermanentlyFailed
	if err := st.UpdateDocument(ctx, permanent); err != nil {
		t.Fatalf("mark permanent: %v", err)
	}

	moved, err := st.RetryFailedDocuments(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}

	loaded, err := st.GetDocument(ctx, failed.ID)
	if err != nil {
		t.Fatalf("get retried: %v", err)
	}
	if loaded.Status != store.StatusOCRCompleted {
		t.Fatalf("retried status = %s, want ocr_completed", loaded.Status)
	}
	if loaded.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", loaded.RetryCount)
	}

	untouched, err := st.GetDocument(ctx, permanent.ID)
	if err != nil {
		t.Fatalf("get permanent: %v", err)
	}
	if untouched.Status != store.StatusPermanentlyFailed {
		t.Fatalf("permanent status = %s", untouched.Status)
	}
}

func TestFilesByStatusExcludesExhaustedRetries(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	fresh, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/fresh.md")
	if err != nil {
		t.Fatalf("fresh file: %v", err)
	}
	exhausted, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/exhausted.md")
	if err != nil {
		t.Fatalf("exhausted file: %v", err)
	}
	exhausted.RetryCount = 3
	if err := st.UpdateFile(ctx, exhausted); err != nil {
		t.Fatalf("update exhausted: %v", err)
	}

	files, err := st.FilesByStatus(ctx, 10, 3, store.FileStatusPending, store.FileStatusOutdated)
	if err != nil {
		t.Fatalf("files by status: %v", err)
	}
	if len(files) != 1 || files[0].ID != fresh.ID {
		t.Fatalf("files = %+v, want only fresh", files)
	}
}

func TestClaimFileIsExclusive(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	file, err := st.NewDocumentFile(ctx, doc.ID, store.FileKindDocumentSummary, "/out/a.md")
	if err != nil {
		t.Fatalf("new file: %v", err)
	}

	claimed, err := st.ClaimFile(ctx, file.ID, store.FileStatusPending, store.FileStatusGenerating)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}
	claimed, err = st.ClaimFile(ctx, file.ID, store.FileStatusPending, store.FileStatusGenerating)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim should lose")
	}
}

func TestEnsureSeriesConverges(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first, err := st.EnsureSeries(ctx, "jane", "bank_statement_2024", "jane bank_statement_2024")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := st.EnsureSeries(ctx, "jane", "bank_statement_2024", "jane bank_statement_2024")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ensure created two series: %d and %d", first.ID, second.ID)
	}

	other, err := st.EnsureSeries(ctx, "jane", "bank_statement_2025", "jane bank_statement_2025")
	if err != nil {
		t.Fatalf("other ensure: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("distinct series types must not share a row")
	}
}

func TestMarkSeriesReportsOutdatedSparesActivePrompt(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	series, err := st.EnsureSeries(ctx, "jane", "bank_statement_2024", "jane bank_statement_2024")
	if err != nil {
		t.Fatalf("ensure series: %v", err)
	}
	prompt, err := st.CreatePrompt(ctx, series.ID, "summarize the series")
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}

	current, err := st.NewSeriesFile(ctx, series.ID, store.FileKindSeriesReport, "/out/current.md")
	if err != nil {
		t.Fatalf("current report: %v", err)
	}
	current.Status = store.FileStatusGenerated
	current.PromptID = &prompt.ID
	if err := st.UpdateFile(ctx, current); err != nil {
		t.Fatalf("update current: %v", err)
	}

	stale, err := st.NewSeriesFile(ctx, series.ID, store.FileKindSeriesReport, "/out/stale.md")
	if err != nil {
		t.Fatalf("stale report: %v", err)
	}
	stale.Status = store.FileStatusGenerated
	if err := st.UpdateFile(ctx, stale); err != nil {
		t.Fatalf("update stale: %v", err)
	}

	flipped, err := st.MarkSeriesReportsOutdated(ctx, series.ID, &prompt.ID)
	if err != nil {
		t.Fatalf("mark outdated: %v", err)
	}
	if flipped != 1 {
		t.Fatalf("flipped = %d, want 1", flipped)
	}

	reloaded, err := st.GetFile(ctx, current.ID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if reloaded.Status != store.FileStatusGenerated {
		t.Fatalf("current report flipped to %s", reloaded.Status)
	}
	reloaded, err = st.GetFile(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if reloaded.Status != store.FileStatusOutdated {
		t.Fatalf("stale report = %s, want outdated", reloaded.Status)
	}
}

func TestSetActivePromptFlagsRegeneration(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	series, err := st.EnsureSeries(ctx, "jane", "bank_statement_2024", "jane bank_statement_2024")
	if err != nil {
		t.Fatalf("ensure series: %v", err)
	}
	prompt, err := st.CreatePrompt(ctx, series.ID, "first prompt")
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	if err := st.SetActivePrompt(ctx, series.ID, prompt.ID); err != nil {
		t.Fatalf("set active: %v", err)
	}

	loaded, err := st.GetSeries(ctx, series.ID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if loaded.ActivePromptID == nil || *loaded.ActivePromptID != prompt.ID {
		t.Fatalf("active prompt = %v", loaded.ActivePromptID)
	}
	if !loaded.RegenerationPending {
		t.Fatal("promotion must flag regeneration")
	}

	pending, err := st.SeriesWithRegenerationPending(ctx)
	if err != nil {
		t.Fatalf("regeneration pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != series.ID {
		t.Fatalf("pending = %+v", pending)
	}

	if err := st.SetRegenerationPending(ctx, series.ID, false); err != nil {
		t.Fatalf("clear pending: %v", err)
	}
	pending, err = st.SeriesWithRegenerationPending(ctx)
	if err != nil {
		t.Fatalf("regeneration pending after clear: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after clear = %+v", pending)
	}
}

func TestAddPromptScoreAccumulatesAverage(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	series, err := st.EnsureSeries(ctx, "jane", "bank_statement_2024", "jane bank_statement_2024")
	if err != nil {
		t.Fatalf("ensure series: %v", err)
	}
	prompt, err := st.CreatePrompt(ctx, series.ID, "prompt body")
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	if prompt.AverageScore() != 0 {
		t.Fatalf("unscored average = %f, want 0", prompt.AverageScore())
	}

	if err := st.AddPromptScore(ctx, prompt.ID, 0.6); err != nil {
		t.Fatalf("first score: %v", err)
	}
	if err := st.AddPromptScore(ctx, prompt.ID, 0.8); err != nil {
		t.Fatalf("second score: %v", err)
	}

	loaded, err := st.GetPrompt(ctx, prompt.ID)
	if err != nil {
		t.Fatalf("get prompt: %v", err)
	}
	if loaded.ScoreCount != 2 {
		t.Fatalf("score count = %d, want 2", loaded.ScoreCount)
	}
	if avg := loaded.AverageScore(); avg < 0.69 || avg > 0.71 {
		t.Fatalf("average = %f, want 0.7", avg)
	}
}

func TestStaleProcessingDocumentsHonorsCutoff(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	doc, err := st.NewDocument(ctx, "fp-1", "/inbox/a.pdf")
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := st.ClaimDocument(ctx, doc.ID, store.StatusPending, store.StatusOCRInProgress); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale, err := st.StaleProcessingDocuments(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh claim reported stale: %+v", stale)
	}

	stale, err = st.StaleProcessingDocuments(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale query with future cutoff: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != doc.ID {
		t.Fatalf("stale = %+v, want the claimed document", stale)
	}
}

func TestHealthCountsLifecycleBuckets(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	pending, err := st.NewDocument(ctx, "fp-pending", "/inbox/pending.pdf")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	_ = pending

	inflight, err := st.NewDocument(ctx, "fp-inflight", "/inbox/inflight.pdf")
	if err != nil {
		t.Fatalf("inflight: %v", err)
	}
	if _, err := st.ClaimDocument(ctx, inflight.ID, store.StatusPending, store.StatusOCRInProgress); err != nil {
		t.Fatalf("claim: %v", err)
	}

	failed, err := st.NewDocument(ctx, "fp-failed", "/inbox/failed.pdf")
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	failed.SetFailed("boom")
	if err := st.UpdateDocument(ctx, failed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 3 {
		t.Fatalf("total = %d, want 3", health.Total)
	}
	if health.Pending != 1 || health.Processing != 1 || health.Failed != 1 {
		t.Fatalf("health = %+v", health)
	}
}
