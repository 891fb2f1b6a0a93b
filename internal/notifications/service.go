package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/config"
)

const userAgent = "Alfrd-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyDaemonStarted(ctx context.Context, version string) error
	NotifyDaemonStopped(ctx context.Context, uptime time.Duration) error
	NotifyDocumentIngested(ctx context.Context, filename string) error
	NotifyDocumentCompleted(ctx context.Context, title, docType string) error
	NotifyDocumentFailed(ctx context.Context, title string, attempt, maxRetries int) error
	NotifyDocumentPermanentlyFailed(ctx context.Context, title, reason string) error
	NotifySeriesReportGenerated(ctx context.Context, seriesTitle string, documents int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		documents: cfg.Notifications.Documents,
		series:    cfg.Notifications.Series,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	documents bool
	series    bool
	errors    bool
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	data := payload{
		title:   "Alfrd - Started",
		message: fmt.Sprintf("Daemon started (%s), watching inbox", version),
		tags:    []string{"alfrd", "daemon", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context, uptime time.Duration) error {
	uptime = uptime.Round(time.Second)
	if uptime < 0 {
		uptime = 0
	}
	data := payload{
		title:   "Alfrd - Stopped",
		message: fmt.Sprintf("Daemon stopped after %s", uptime),
		tags:    []string{"alfrd", "daemon", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDocumentIngested(ctx context.Context, filename string) error {
	if !n.documents {
		return nil
	}
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Alfrd - Ingested",
		message: fmt.Sprintf("New document queued: %s", filename),
		tags:    []string{"alfrd", "ingest"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDocumentCompleted(ctx context.Context, title, docType string) error {
	if !n.documents {
		return nil
	}
	title = strings.TrimSpace(title)
	docType = strings.TrimSpace(docType)
	if docType == "" {
		docType = "unknown"
	}
	data := payload{
		title:   "Alfrd - Filed",
		message: fmt.Sprintf("Document filed: %s (%s)", title, docType),
		tags:    []string{"alfrd", "document", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDocumentFailed(ctx context.Context, title string, attempt, maxRetries int) error {
	if !n.errors {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Alfrd - Retry Scheduled",
		message: fmt.Sprintf("Processing failed for %s (attempt %d of %d)", title, attempt, maxRetries),
		tags:    []string{"alfrd", "document", "failed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDocumentPermanentlyFailed(ctx context.Context, title, reason string) error {
	if !n.errors {
		return nil
	}
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	message := fmt.Sprintf("Gave up on %s after exhausting retries", title)
	if reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Alfrd - Manual Review Required",
		message:  message,
		tags:     []string{"alfrd", "document", "permanent"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySeriesReportGenerated(ctx context.Context, seriesTitle string, documents int) error {
	if !n.series {
		return nil
	}
	seriesTitle = strings.TrimSpace(seriesTitle)
	data := payload{
		title:   "Alfrd - Series Report",
		message: fmt.Sprintf("Series report updated: %s (%d documents)", seriesTitle, documents),
		tags:    []string{"alfrd", "series", "report"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Alfrd - Error",
		message:  builder.String(),
		tags:     []string{"alfrd", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Alfrd - Test",
		message:  "Notification system test",
		tags:     []string{"alfrd", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDaemonStarted(context.Context, string) error                  { return nil }
func (noopService) NotifyDaemonStopped(context.Context, time.Duration) error           { return nil }
func (noopService) NotifyDocumentIngested(context.Context, string) error               { return nil }
func (noopService) NotifyDocumentCompleted(context.Context, string, string) error      { return nil }
func (noopService) NotifyDocumentFailed(context.Context, string, int, int) error       { return nil }
func (noopService) NotifyDocumentPermanentlyFailed(context.Context, string, string) error {
	return nil
}
func (noopService) NotifySeriesReportGenerated(context.Context, string, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
