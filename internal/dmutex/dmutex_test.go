package dmutex_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirmick/alfrd-sub000/internal/dmutex"
	"github.com/sirmick/alfrd-sub000/internal/store"
	"github.com/sirmick/alfrd-sub000/internal/testsupport"
)

func newLocker(t *testing.T, opts ...dmutex.Option) (*dmutex.Locker, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return dmutex.New(st, opts...), st
}

func TestAcquireAndRelease(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	guard, err := locker.Acquire(ctx, "doctype:bank_statement", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if guard.Key() != "doctype:bank_statement" {
		t.Fatalf("key = %q", guard.Key())
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The key is free again after release.
	guard, err = locker.Acquire(ctx, "doctype:bank_statement", time.Second)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("release after reacquire: %v", err)
	}
}

func TestHeldLockTimesOut(t *testing.T) {
	locker, _ := newLocker(t, dmutex.WithBackoff(5*time.Millisecond, 10*time.Millisecond))
	ctx := context.Background()

	guard, err := locker.Acquire(ctx, "series_prompt:1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer guard.Release()

	if _, err := locker.Acquire(ctx, "series_prompt:1", 50*time.Millisecond); !errors.Is(err, dmutex.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestZeroTimeoutTriesOnce(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	guard, err := locker.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer guard.Release()

	start := time.Now()
	_, err = locker.Acquire(ctx, "k", 0)
	if !errors.Is(err, dmutex.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("single attempt took %v", elapsed)
	}
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	locker, _ := newLocker(t)

	guard, err := locker.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	short := dmutex.New(st, dmutex.WithTTL(20*time.Millisecond))
	guard, err := short.Acquire(ctx, "crashed", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Simulate a crashed holder: never release, let the TTL lapse.
	_ = guard
	time.Sleep(50 * time.Millisecond)

	other := dmutex.New(st, dmutex.WithBackoff(5*time.Millisecond, 10*time.Millisecond))
	taken, err := other.Acquire(ctx, "crashed", time.Second)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if err := taken.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	locker, _ := newLocker(t, dmutex.WithBackoff(time.Millisecond, 3*time.Millisecond))
	ctx := context.Background()

	var mu sync.Mutex
	var holders int
	var maxHolders int

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				guard, err := locker.Acquire(ctx, "contended", 5*time.Second)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				mu.Lock()
				holders++
				if holders > maxHolders {
					maxHolders = holders
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				if err := guard.Release(); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if maxHolders != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxHolders)
	}
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "doctype:bank_statement", time.Second)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	defer first.Release()

	second, err := locker.Acquire(ctx, "doctype:utility_bill", time.Second)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	defer second.Release()
}
