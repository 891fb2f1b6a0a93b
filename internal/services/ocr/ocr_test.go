package ocr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/services"
	"github.com/sirmick/alfrd-sub000/internal/services/ocr"
)

func newExtractor(t *testing.T, opts ...ocr.Option) *ocr.Extractor {
	t.Helper()
	cfg := config.Default()
	return ocr.New(cfg, nil, opts...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeFile(t, "note.txt", "Hello document.\r\n\r\n\r\nSecond paragraph.  \n")
	got, err := newExtractor(t).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Hello document.\n\nSecond paragraph."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractHTMLConvertsToMarkdown(t *testing.T) {
	path := writeFile(t, "letter.html", `<html><body><h1>Notice</h1><p>Your balance is <strong>due</strong>.</p></body></html>`)
	got, err := newExtractor(t).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(got, "# Notice") {
		t.Fatalf("heading not converted: %q", got)
	}
	if !strings.Contains(got, "**due**") {
		t.Fatalf("emphasis not converted: %q", got)
	}
}

func TestExtractUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "photo.jpg", "not really a photo")
	_, err := newExtractor(t).Extract(context.Background(), path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	path := writeFile(t, "empty.txt", "   \n\t\n")
	_, err := newExtractor(t).Extract(context.Background(), path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
}

func TestExtractMissingFileIsTransient(t *testing.T) {
	_, err := newExtractor(t).Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, path := range []string{"a.pdf", "b.HTML", "c.txt", "d.md"} {
		if !ocr.Supported(path) {
			t.Fatalf("%s should be supported", path)
		}
	}
	for _, path := range []string{"a.jpg", "b.docx", "c"} {
		if ocr.Supported(path) {
			t.Fatalf("%s should not be supported", path)
		}
	}
}
