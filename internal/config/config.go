package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InboxDir    string `toml:"inbox_dir"`
	ArchiveDir  string `toml:"archive_dir"`
	OutputDir   string `toml:"output_dir"`
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	DocTypesPath string `toml:"doc_types_path"`
}

// Workflow contains pipeline timing, retry, and concurrency settings.
// Intervals and timeouts are expressed in the unit named by each key.
type Workflow struct {
	PollIntervalSeconds       int `toml:"poll_interval_seconds"`
	RecoveryIntervalSeconds   int `toml:"recovery_interval_seconds"`
	StaleTimeoutSeconds       int `toml:"stale_timeout_seconds"`
	FailedRetryBackoffSeconds int `toml:"failed_retry_backoff_seconds"`
	MaxRetries                int `toml:"max_retries"`
	OCRConcurrency            int `toml:"ocr_concurrency"`
	LLMConcurrency            int `toml:"llm_concurrency"`
	FileGenConcurrency        int `toml:"filegen_concurrency"`
	DocumentFlowConcurrency   int `toml:"document_flow_concurrency"`
	FileFlowConcurrency       int `toml:"file_flow_concurrency"`
	BatchMultiplier           int `toml:"batch_multiplier"`
	LockTimeoutSeconds        int `toml:"lock_timeout_seconds"`
	LockBackoffMillis         int `toml:"lock_backoff_ms"`
	LockTTLSeconds            int `toml:"lock_ttl_seconds"`
}

// OCR contains text-extraction settings.
type OCR struct {
	PdftotextBinary string `toml:"pdftotext_binary"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxPages        int    `toml:"max_pages"`
}

// LLM contains model connection settings shared by every LLM operation.
type LLM struct {
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RetryAttempts  int     `toml:"retry_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Documents      bool   `toml:"documents"`
	Series         bool   `toml:"series"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for alfrd.
//
// Configuration sections by subsystem:
//   - Paths: inbox, archive, output, data, and log directories
//   - Workflow: poll/recovery intervals, retry budget, concurrency bounds
//   - OCR: pdftotext binary and extraction limits
//   - LLM: model connection settings for classify/score/summarize
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	OCR           OCR           `toml:"ocr"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/alfrd/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The boolean reports whether a
// config file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("alfrd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.InboxDir,
		&c.Paths.ArchiveDir,
		&c.Paths.OutputDir,
		&c.Paths.DataDir,
		&c.Paths.LogDir,
		&c.Paths.DocTypesPath,
	}
	for _, field := range fields {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

// EnsureDirectories creates the directories required for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InboxDir, c.Paths.ArchiveDir, c.Paths.OutputDir, c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns how often the worker lanes poll for ready work.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

// RecoveryInterval returns how often the stale-work sweeper runs.
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Workflow.RecoveryIntervalSeconds) * time.Second
}

// StaleTimeout returns how long in-flight work may go without progress before
// the sweeper reclaims it.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Workflow.StaleTimeoutSeconds) * time.Second
}

// FailedRetryBackoff returns how long a failed document rests before the
// sweeper offers it another attempt.
func (c *Config) FailedRetryBackoff() time.Duration {
	return time.Duration(c.Workflow.FailedRetryBackoffSeconds) * time.Second
}

// LockTimeout returns how long lock acquisition may wait before giving up.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Workflow.LockTimeoutSeconds) * time.Second
}

// LockBackoff returns the base wait between lock acquisition attempts.
func (c *Config) LockBackoff() time.Duration {
	return time.Duration(c.Workflow.LockBackoffMillis) * time.Millisecond
}

// LockTTL returns how long a held lock survives a crashed holder.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Workflow.LockTTLSeconds) * time.Second
}

// OCRTimeout returns the per-document budget for text extraction.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCR.TimeoutSeconds) * time.Second
}

// PdftotextBinary returns the pdftotext executable name.
func (c *Config) PdftotextBinary() string {
	if bin := strings.TrimSpace(c.OCR.PdftotextBinary); bin != "" {
		return bin
	}
	return "pdftotext"
}

// DatabasePath returns the location of the pipeline SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "alfrd.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
