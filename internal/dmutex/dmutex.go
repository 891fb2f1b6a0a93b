// Package dmutex provides named mutual exclusion across processes sharing the
// pipeline database.
//
// A lock is a row in the locks table keyed by a stable hash of its name. The
// acquire path loops over conflict-tolerant inserts with randomized backoff
// until the row lands or the timeout expires. Each Guard pins a dedicated
// database connection so release always has a live connection to run on, even
// when the pool is saturated. Crashed holders are cleaned up through the TTL
// column.
package dmutex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirmick/alfrd-sub000/internal/logging"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

// ErrTimeout indicates the lock could not be acquired before the deadline.
var ErrTimeout = errors.New("lock acquire timed out")

const (
	defaultBackoffMin = 500 * time.Millisecond
	defaultBackoffMax = time.Second
	defaultTTL        = 2 * time.Minute
)

// Locker hands out named locks backed by the shared database.
type Locker struct {
	store      *store.Store
	logger     *slog.Logger
	backoffMin time.Duration
	backoffMax time.Duration
	ttl        time.Duration
}

// Option customizes a Locker.
type Option func(*Locker)

// WithBackoff overrides the randomized wait between acquire attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(l *Locker) {
		if min > 0 {
			l.backoffMin = min
		}
		if max >= l.backoffMin {
			l.backoffMax = max
		} else {
			l.backoffMax = l.backoffMin
		}
	}
}

// WithTTL overrides how long a held lock survives a crashed holder.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger attaches a logger for acquire/release diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logging.WithComponent(logger, "dmutex")
		}
	}
}

// New constructs a Locker over the provided store.
func New(st *store.Store, opts ...Option) *Locker {
	locker := &Locker{
		store:      st,
		logger:     logging.NewNop(),
		backoffMin: defaultBackoffMin,
		backoffMax: defaultBackoffMax,
		ttl:        defaultTTL,
	}
	for _, opt := range opts {
		opt(locker)
	}
	return locker
}

// Guard represents a held lock. Release is safe to call more than once; only
// the first call performs work.
type Guard struct {
	conn    *sql.Conn
	keyHash int64
	key     string
	token   string

	once       sync.Once
	releaseErr error
}

// Key returns the lock name this guard holds.
func (g *Guard) Key() string {
	return g.key
}

// KeyHash returns the stable hash a lock name maps to. Distinct names may
// collide; colliding names simply contend for the same lock.
func KeyHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire obtains the named lock, waiting up to timeout. A non-positive
// timeout attempts the lock exactly once.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (*Guard, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	ctx = ensureContext(ctx)

	conn, err := l.store.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	// The pinned connection bypasses the pool's configured pragmas, so it
	// needs its own busy timeout for contention with writers.
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure lock connection: %w", err)
	}

	keyHash := KeyHash(key)
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.tryLock(ctx, conn, keyHash, key, token)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if acquired {
			l.logger.Debug("lock acquired", logging.String("lock_key", key))
			return &Guard{conn: conn, keyHash: keyHash, key: key, token: token}, nil
		}

		if timeout <= 0 || !time.Now().Add(l.backoffMin).Before(deadline) {
			_ = conn.Close()
			return nil, fmt.Errorf("lock %q: %w", key, ErrTimeout)
		}

		select {
		case <-time.After(l.backoffDelay()):
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		}
	}
}

func (l *Locker) tryLock(ctx context.Context, conn *sql.Conn, keyHash int64, key, token string) (bool, error) {
	now := time.Now().UTC()

	// Clear leftovers from crashed holders before contending.
	if _, err := conn.ExecContext(
		ctx,
		`DELETE FROM locks WHERE key_hash = ? AND expires_at < ?`,
		keyHash,
		now.Format(time.RFC3339Nano),
	); err != nil {
		if store.IsBusyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("purge expired lock: %w", err)
	}

	res, err := conn.ExecContext(
		ctx,
		`INSERT INTO locks (key_hash, key_name, owner_token, acquired_at, expires_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(key_hash) DO NOTHING`,
		keyHash,
		key,
		token,
		now.Format(time.RFC3339Nano),
		now.Add(l.ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		// A busy database is contention, not failure; the backoff loop
		// tries again.
		if store.IsBusyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("try lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (l *Locker) backoffDelay() time.Duration {
	if l.backoffMax <= l.backoffMin {
		return l.backoffMin
	}
	spread := l.backoffMax - l.backoffMin
	return l.backoffMin + time.Duration(rand.Int63n(int64(spread)))
}

// Release drops the lock row and returns the pinned connection to the pool.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := g.conn.ExecContext(
			ctx,
			`DELETE FROM locks WHERE key_hash = ? AND owner_token = ?`,
			g.keyHash,
			g.token,
		)
		closeErr := g.conn.Close()
		if err != nil {
			g.releaseErr = fmt.Errorf("release lock %q: %w", g.key, err)
			return
		}
		if closeErr != nil {
			g.releaseErr = fmt.Errorf("close lock connection: %w", closeErr)
		}
	})
	return g.releaseErr
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
