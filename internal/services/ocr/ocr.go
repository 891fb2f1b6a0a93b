package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/services"
	"github.com/sirmick/alfrd-sub000/internal/textutil"
)

const stage = "ocr"

// commandRunner executes an external binary and returns its stdout.
// Swapped in tests so the PDF path is exercisable without poppler installed.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Extractor turns inbox documents into normalized plain text.
type Extractor struct {
	binary   string
	timeout  time.Duration
	maxPages int
	logger   *slog.Logger
	run      commandRunner
}

// Option adjusts Extractor construction.
type Option func(*Extractor)

// WithCommandRunner replaces the external process runner.
func WithCommandRunner(run commandRunner) Option {
	return func(e *Extractor) {
		if run != nil {
			e.run = run
		}
	}
}

// New builds an Extractor from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Extractor{
		binary:   cfg.PdftotextBinary(),
		timeout:  cfg.OCRTimeout(),
		maxPages: cfg.OCR.MaxPages,
		logger:   logging.WithComponent(logger, "ocr"),
		run:      runCommand,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether the file extension is one the extractor handles.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".html", ".htm", ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}

// Extract returns the normalized text content of the document at path.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = e.extractPDF(ctx, path)
	case ".html", ".htm":
		text, err = e.extractHTML(path)
	case ".txt", ".md", ".markdown":
		text, err = e.extractPlain(path)
	default:
		return "", services.Wrap(services.ErrValidation, stage, "dispatch",
			fmt.Sprintf("unsupported file type %q", ext), nil)
	}
	if err != nil {
		return "", err
	}

	text = textutil.NormalizeText(text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, stage, "extract",
			"document produced no text", nil)
	}
	return text, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return "", services.Wrap(services.ErrValidation, stage, "validate pdf",
			"file is not a readable PDF", err)
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stage, "count pages",
			"could not determine page count", err)
	}
	if e.maxPages > 0 && pages > e.maxPages {
		return "", services.Wrap(services.ErrValidation, stage, "count pages",
			fmt.Sprintf("%d pages exceeds the %d page limit", pages, e.maxPages), nil)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := time.Now()
	// "-" writes the extracted text to stdout.
	out, err := e.run(runCtx, e.binary, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", services.Wrap(services.ErrTimeout, stage, "pdftotext",
				fmt.Sprintf("extraction exceeded %s", e.timeout), err)
		}
		return "", services.Wrap(services.ErrExternalTool, stage, "pdftotext",
			"pdftotext failed", err)
	}
	e.logger.Debug("pdf text extracted",
		logging.String("path", filepath.Base(path)),
		logging.Int("pages", pages),
		logging.Duration("elapsed", time.Since(started)),
	)
	return string(out), nil
}

func (e *Extractor) extractHTML(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stage, "read html", "", err)
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(data))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stage, "convert html",
			"html conversion failed", err)
	}
	return markdown, nil
}

func (e *Extractor) extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stage, "read text", "", err)
	}
	return string(data), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
