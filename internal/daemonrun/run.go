// Package daemonrun boots the alfrd daemon process: logging, preflight
// checks, service construction, and signal-driven shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/daemon"
	"github.com/sirmick/alfrd-sub000/internal/deps"
	"github.com/sirmick/alfrd-sub000/internal/dmutex"
	"github.com/sirmick/alfrd-sub000/internal/doctype"
	"github.com/sirmick/alfrd-sub000/internal/ingest"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/notifications"
	"github.com/sirmick/alfrd-sub000/internal/pipeline"
	"github.com/sirmick/alfrd-sub000/internal/recovery"
	"github.com/sirmick/alfrd-sub000/internal/services/llm"
	"github.com/sirmick/alfrd-sub000/internal/services/ocr"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("alfrd-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update alfrd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "alfrd-*.log", Exclude: []string{logPath}},
	)

	logDependencySnapshot(logger, cfg)
	if missing := deps.MissingRequired(deps.CheckBinaries(deps.Default(cfg))); len(missing) > 0 {
		for _, status := range missing {
			logger.Error("required dependency unavailable",
				logging.String("dependency", status.Name),
				logging.String("command", status.Command),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldEventType, "dependency_missing"),
				logging.String(logging.FieldErrorHint, "install the binary or point [ocr] pdftotext_binary at it"),
			)
		}
		return fmt.Errorf("missing required dependencies")
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "alfrd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.OpenPath(cfg.DatabasePath())
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	registry, err := doctype.Load(cfg.Paths.DocTypesPath)
	if err != nil {
		st.Close()
		return fmt.Errorf("load doctype registry: %w", err)
	}
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		st.Close()
		return fmt.Errorf("init model client: %w", err)
	}

	notifier := notifications.NewService(cfg)
	locker := dmutex.New(st,
		dmutex.WithTTL(cfg.LockTTL()),
		dmutex.WithBackoff(cfg.LockBackoff(), 2*cfg.LockBackoff()),
		dmutex.WithLogger(logger),
	)
	pipe, err := pipeline.New(pipeline.Options{
		Store:     st,
		Config:    cfg,
		Registry:  registry,
		Extractor: ocr.New(cfg, logger),
		Model:     client,
		Locker:    locker,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("create pipeline: %w", err)
	}
	scanner, err := ingest.New(st, cfg, logger, notifier)
	if err != nil {
		st.Close()
		return fmt.Errorf("create inbox scanner: %w", err)
	}
	sweeper, err := recovery.New(st, recovery.Options{
		Interval:           cfg.RecoveryInterval(),
		StaleTimeout:       cfg.StaleTimeout(),
		FailedRetryBackoff: cfg.FailedRetryBackoff(),
		MaxRetries:         cfg.Workflow.MaxRetries,
		Logger:             logger,
		Notifier:           notifier,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("create recovery sweeper: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Store:    st,
		Pipeline: pipe,
		Scanner:  scanner,
		Sweeper:  sweeper,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("alfrd daemon shutting down")
	return nil
}

// ensureCurrentLogPointer keeps a stable alfrd.log link pointing at the
// current run's log file.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "alfrd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("api_key_present", strings.TrimSpace(cfg.LLM.APIKey) != "" || strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) != ""),
		logging.String("model", cfg.LLM.Model),
		logging.String("pdftotext_binary", cfg.PdftotextBinary()),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
