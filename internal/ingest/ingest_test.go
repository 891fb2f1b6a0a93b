package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newScanner(t *testing.T) (*Scanner, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	archive := filepath.Join(root, "archive")
	for _, dir := range []string{inbox, archive} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	st, err := store.OpenPath(filepath.Join(root, "alfrd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Paths.InboxDir = inbox
	cfg.Paths.ArchiveDir = archive
	scanner, err := New(st, cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	return scanner, st, inbox
}

func dropFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanRegistersSupportedFiles(t *testing.T) {
	scanner, st, inbox := newScanner(t)
	dropFile(t, inbox, "statement.txt", "march statement")
	dropFile(t, inbox, "notes.md", "meeting notes")
	dropFile(t, inbox, "photo.jpg", "not a document")
	dropFile(t, inbox, ".hidden.txt", "ignored")
	dropFile(t, inbox, "upload.txt.part", "ignored")

	registered, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if registered != 2 {
		t.Fatalf("registered = %d, want 2", registered)
	}

	docs, err := st.DocumentsByStatus(context.Background(), 10, store.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("pending documents = %d, want 2", len(docs))
	}
	for _, doc := range docs {
		if doc.ArchivePath == "" {
			t.Fatalf("document %d has no archive path", doc.ID)
		}
		if _, err := os.Stat(doc.ArchivePath); err != nil {
			t.Fatalf("archive copy missing: %v", err)
		}
	}
}

func TestScanRemovesIngestedInboxFiles(t *testing.T) {
	scanner, _, inbox := newScanner(t)
	path := dropFile(t, inbox, "statement.txt", "march statement")

	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("inbox file still present after ingest: %v", err)
	}
}

func TestScanSkipsKnownFingerprint(t *testing.T) {
	scanner, st, inbox := newScanner(t)
	dropFile(t, inbox, "statement.txt", "march statement")
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Same content under a new name must not create a second row.
	path := dropFile(t, inbox, "statement-copy.txt", "march statement")
	registered, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if registered != 0 {
		t.Fatalf("registered = %d, want 0", registered)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("duplicate inbox file not removed: %v", err)
	}
	docs, err := st.DocumentsByStatus(context.Background(), 10, store.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("pending documents = %d, want 1", len(docs))
	}
}

func TestScanDedupesWithinOneScan(t *testing.T) {
	scanner, st, inbox := newScanner(t)
	dropFile(t, inbox, "a.txt", "identical body")
	dropFile(t, inbox, "b.txt", "identical body")

	registered, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if registered != 1 {
		t.Fatalf("registered = %d, want 1", registered)
	}
	docs, err := st.DocumentsByStatus(context.Background(), 10, store.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("pending documents = %d, want 1", len(docs))
	}
}

func TestScanArchiveNameCarriesFingerprintPrefix(t *testing.T) {
	scanner, st, inbox := newScanner(t)
	dropFile(t, inbox, "statement.txt", "march statement")
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	docs, err := st.DocumentsByStatus(context.Background(), 10, store.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("pending documents = %d, want 1", len(docs))
	}
	doc := docs[0]
	base := filepath.Base(doc.ArchivePath)
	if !strings.HasPrefix(base, doc.Fingerprint[:12]+"_") {
		t.Fatalf("archive name %q missing fingerprint prefix", base)
	}
	if !strings.HasSuffix(base, "statement.txt") {
		t.Fatalf("archive name %q lost original name", base)
	}
}

func TestScanEmptyInboxIsNoop(t *testing.T) {
	scanner, _, _ := newScanner(t)
	registered, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if registered != 0 {
		t.Fatalf("registered = %d, want 0", registered)
	}
}
