package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/sirmick/alfrd-sub000/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a validated config rooted in a per-test temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.LLM.APIKey = "test-key"

	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return cfg
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.MaxRetries = n
	}
}

// WithPollInterval overrides the worker poll interval, in seconds.
func WithPollInterval(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.PollIntervalSeconds = seconds
	}
}
