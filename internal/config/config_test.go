package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultAllocatesPerCall(t *testing.T) {
	first := Default()
	first.Workflow.MaxRetries = 99
	first.Paths.DataDir = "/scratch"

	second := Default()
	if second.Workflow.MaxRetries != defaultMaxRetries {
		t.Fatalf("max retries = %d, mutation leaked between calls", second.Workflow.MaxRetries)
	}
	if second.Paths.DataDir != defaultDataDir {
		t.Fatalf("data dir = %q, mutation leaked between calls", second.Paths.DataDir)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("expected no config file to be found")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Workflow.MaxRetries != defaultMaxRetries {
		t.Fatalf("max retries = %d, want default %d", cfg.Workflow.MaxRetries, defaultMaxRetries)
	}
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`data_dir = "` + filepath.Join(dir, "data") + `"`,
		"",
		"[workflow]",
		"max_retries = 7",
		"poll_interval_seconds = 2",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("expected config file to be found")
	}
	if cfg.Workflow.MaxRetries != 7 {
		t.Fatalf("max retries = %d, want 7", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.PollIntervalSeconds != 2 {
		t.Fatalf("poll interval = %d, want 2", cfg.Workflow.PollIntervalSeconds)
	}
	if cfg.Paths.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir = %q", cfg.Paths.DataDir)
	}
	// Untouched keys keep their defaults.
	if cfg.Workflow.OCRConcurrency != defaultOCRConcurrency {
		t.Fatalf("ocr concurrency = %d, want default", cfg.Workflow.OCRConcurrency)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero retries", "[workflow]\nmax_retries = 0\n"},
		{"bad log format", "[logging]\nformat = \"xml\"\n"},
		{"stale below poll", "[workflow]\nstale_timeout_seconds = 3\npoll_interval_seconds = 5\n"},
		{"ttl below lock timeout", "[workflow]\nlock_ttl_seconds = 10\nlock_timeout_seconds = 30\n"},
		{"temperature out of range", "[llm]\ntemperature = 1.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandPathResolvesHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/documents/inbox")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "documents", "inbox") {
		t.Fatalf("expanded = %q", got)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.Workflow.PollIntervalSeconds = 7
	cfg.Workflow.LockBackoffMillis = 250
	if cfg.PollInterval() != 7*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.LockBackoff() != 250*time.Millisecond {
		t.Fatalf("lock backoff = %v", cfg.LockBackoff())
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.InboxDir = filepath.Join(dir, "inbox")
	cfg.Paths.ArchiveDir = filepath.Join(dir, "archive")
	cfg.Paths.OutputDir = filepath.Join(dir, "output")
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for _, sub := range []string{"inbox", "archive", "output", "data", "logs"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", sub, err)
		}
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[workflow]") {
		t.Fatal("sample config missing workflow section")
	}
	// The sample must itself load cleanly.
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}
