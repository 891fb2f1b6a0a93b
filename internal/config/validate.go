package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateOCR(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.inbox_dir":   c.Paths.InboxDir,
		"paths.archive_dir": c.Paths.ArchiveDir,
		"paths.output_dir":  c.Paths.OutputDir,
		"paths.data_dir":    c.Paths.DataDir,
		"paths.log_dir":     c.Paths.LogDir,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval_seconds":        c.Workflow.PollIntervalSeconds,
		"workflow.recovery_interval_seconds":    c.Workflow.RecoveryIntervalSeconds,
		"workflow.stale_timeout_seconds":        c.Workflow.StaleTimeoutSeconds,
		"workflow.failed_retry_backoff_seconds": c.Workflow.FailedRetryBackoffSeconds,
		"workflow.max_retries":                  c.Workflow.MaxRetries,
		"workflow.ocr_concurrency":              c.Workflow.OCRConcurrency,
		"workflow.llm_concurrency":              c.Workflow.LLMConcurrency,
		"workflow.filegen_concurrency":          c.Workflow.FileGenConcurrency,
		"workflow.document_flow_concurrency":    c.Workflow.DocumentFlowConcurrency,
		"workflow.file_flow_concurrency":        c.Workflow.FileFlowConcurrency,
		"workflow.batch_multiplier":             c.Workflow.BatchMultiplier,
		"workflow.lock_timeout_seconds":         c.Workflow.LockTimeoutSeconds,
		"workflow.lock_backoff_ms":              c.Workflow.LockBackoffMillis,
		"workflow.lock_ttl_seconds":             c.Workflow.LockTTLSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.StaleTimeoutSeconds <= c.Workflow.PollIntervalSeconds {
		return errors.New("workflow.stale_timeout_seconds must be greater than workflow.poll_interval_seconds")
	}
	if c.Workflow.LockTTLSeconds <= c.Workflow.LockTimeoutSeconds {
		return errors.New("workflow.lock_ttl_seconds must be greater than workflow.lock_timeout_seconds")
	}
	return nil
}

func (c *Config) validateOCR() error {
	if c.OCR.TimeoutSeconds <= 0 {
		return errors.New("ocr.timeout_seconds must be positive")
	}
	if c.OCR.MaxPages <= 0 {
		return errors.New("ocr.max_pages must be positive")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return errors.New("llm.temperature must be between 0 and 1")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.RetryAttempts <= 0 {
		return errors.New("llm.retry_attempts must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
