package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/ingest"
	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/notifications"
	"github.com/sirmick/alfrd-sub000/internal/pipeline"
	"github.com/sirmick/alfrd-sub000/internal/recovery"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Daemon owns the background services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	pipeline *pipeline.Pipeline
	scanner  *ingest.Scanner
	sweeper  *recovery.Sweeper
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// Options wires the daemon's services.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	Scanner  *ingest.Scanner
	Sweeper  *recovery.Sweeper
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Status is the daemon runtime snapshot surfaced by the CLI.
type Status struct {
	Running      bool
	Uptime       time.Duration
	DBPath       string
	LockFilePath string
	Documents    store.HealthSummary
}

// New constructs a daemon with initialized services.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if opts.Pipeline == nil || opts.Scanner == nil || opts.Sweeper == nil {
		return nil, errors.New("daemon requires pipeline, scanner, and sweeper")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(opts.Config.Paths.DataDir, "alfrd.lock")
	return &Daemon{
		cfg:      opts.Config,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    opts.Store,
		pipeline: opts.Pipeline,
		scanner:  opts.Scanner,
		sweeper:  opts.Sweeper,
		notifier: opts.Notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the sweeper, scanner, and
// pipeline, in that order: recovery reclaims interrupted work before new
// work is admitted.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return errors.New("another alfrd daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.sweeper.Start(runCtx); err != nil {
		cancel()
		d.lock.Unlock()
		return fmt.Errorf("start recovery sweeper: %w", err)
	}
	if err := d.scanner.Start(runCtx); err != nil {
		d.sweeper.Stop()
		cancel()
		d.lock.Unlock()
		return fmt.Errorf("start inbox scanner: %w", err)
	}
	if err := d.pipeline.Start(runCtx); err != nil {
		d.scanner.Stop()
		d.sweeper.Stop()
		cancel()
		d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("version", Version),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	if d.notifier != nil {
		if err := d.notifier.NotifyDaemonStarted(ctx, Version); err != nil {
			d.logger.Warn("startup notification failed", logging.Error(err))
		}
	}
	return nil
}

// Stop shuts the services down in reverse order and releases the lock.
// The pipeline drains its in-flight work before the store can be closed.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pipeline.Stop()
	d.scanner.Stop()
	d.sweeper.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
	d.running.Store(false)

	uptime := time.Since(d.startedAt).Round(time.Second)
	d.logger.Info("daemon stopped",
		logging.Duration("uptime", uptime),
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
	if d.notifier != nil {
		if err := d.notifier.NotifyDaemonStopped(context.Background(), uptime); err != nil {
			d.logger.Warn("shutdown notification failed", logging.Error(err))
		}
	}
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports the daemon runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		Running:      d.running.Load(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Documents:    health,
	}
	if status.Running {
		status.Uptime = time.Since(d.startedAt).Round(time.Second)
	}
	return status, nil
}
