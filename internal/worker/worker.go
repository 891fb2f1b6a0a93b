package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sirmick/alfrd-sub000/internal/logging"
)

// Fetcher returns up to limit work items ready for processing, oldest first.
type Fetcher[T any] func(ctx context.Context, limit int) ([]T, error)

// Handler processes one item. Errors are logged; the item's own state machine
// records the failure.
type Handler[T any] func(ctx context.Context, item T) error

// Options tunes a Pool.
type Options struct {
	// Name identifies the pool in logs.
	Name string
	// Concurrency bounds simultaneous handlers. Must be positive.
	Concurrency int
	// BatchMultiplier scales the fetch size: each poll requests
	// Concurrency * BatchMultiplier candidates. Defaults to 1.
	BatchMultiplier int
	// PollInterval is the idle wait between fetches.
	PollInterval time.Duration
	// Logger receives pool lifecycle and failure events.
	Logger *slog.Logger
}

// Pool polls for ready work and dispatches it to bounded concurrent handlers.
// An item already being processed is never dispatched a second time, even
// when consecutive polls return it again.
type Pool[T any] struct {
	opts     Options
	fetch    Fetcher[T]
	handle   Handler[T]
	identify func(T) int64
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	inFlight map[int64]struct{}

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New builds a Pool. identify must return a stable ID per item; it keys the
// in-flight set.
func New[T any](opts Options, identify func(T) int64, fetch Fetcher[T], handle Handler[T]) (*Pool[T], error) {
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("worker %q: concurrency must be positive", opts.Name)
	}
	if opts.BatchMultiplier <= 0 {
		opts.BatchMultiplier = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if identify == nil || fetch == nil || handle == nil {
		return nil, fmt.Errorf("worker %q: identify, fetch, and handle are required", opts.Name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool[T]{
		opts:     opts,
		fetch:    fetch,
		handle:   handle,
		identify: identify,
		logger:   logger.With(logging.String(logging.FieldLane, opts.Name)),
		inFlight: make(map[int64]struct{}),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Start begins the poll loop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Stop cancels the poll loop and waits for in-flight handlers to drain.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		full := p.dispatchBatch(ctx)
		if ctx.Err() != nil {
			return
		}
		if full {
			// A full batch means the backlog likely holds more; fetch
			// again without waiting out the poll interval.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// dispatchBatch fetches and launches one batch. It reports whether the fetch
// filled the batch and dispatched new work, which signals the loop to re-poll
// immediately.
func (p *Pool[T]) dispatchBatch(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	limit := p.opts.Concurrency * p.opts.BatchMultiplier
	items, err := p.fetch(ctx, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		p.logger.Warn("fetch failed; will retry next poll",
			logging.Error(err),
			logging.String(logging.FieldEventType, "worker_fetch_failed"),
		)
		return false
	}

	dispatched := 0
	for _, item := range items {
		id := p.identify(item)
		if !p.claim(id) {
			continue
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.release(id)
			return false
		}
		p.wg.Add(1)
		go func(item T, id int64) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			defer p.release(id)
			p.runOne(ctx, item, id)
		}(item, id)
		dispatched++
	}
	return len(items) == limit && dispatched > 0
}

func (p *Pool[T]) runOne(ctx context.Context, item T, id int64) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				logging.Int64("item_id", id),
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "worker_panic"),
			)
		}
	}()
	if err := p.handle(ctx, item); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("handler failed",
			logging.Int64("item_id", id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "worker_item_failed"),
		)
	}
}

func (p *Pool[T]) claim(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool[T]) release(id int64) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// InFlight reports how many items are currently being processed.
func (p *Pool[T]) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}
