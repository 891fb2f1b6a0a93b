package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeItem struct {
	id int64
}

func itemID(item fakeItem) int64 { return item.id }

func TestPoolRespectsConcurrencyBound(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		peak    int
		handled atomic.Int64
	)
	release := make(chan struct{})

	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) {
		items := make([]fakeItem, 0, limit)
		for i := 0; i < limit; i++ {
			items = append(items, fakeItem{id: int64(i + 1)})
		}
		return items, nil
	}
	handle := func(ctx context.Context, item fakeItem) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		handled.Add(1)
		return nil
	}

	pool, err := New(Options{Name: "test", Concurrency: 2, BatchMultiplier: 3, PollInterval: 10 * time.Millisecond}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for pool.InFlight() < 2 {
		select {
		case <-deadline:
			t.Fatal("handlers never started")
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	pool.Stop()

	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
	if handled.Load() == 0 {
		t.Fatal("no items handled")
	}
}

func TestPoolSkipsInFlightItems(t *testing.T) {
	var starts atomic.Int64
	release := make(chan struct{})

	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) {
		// The same item shows up on every poll, as a busy row would.
		return []fakeItem{{id: 99}}, nil
	}
	handle := func(ctx context.Context, item fakeItem) error {
		starts.Add(1)
		<-release
		return nil
	}

	pool, err := New(Options{Name: "test", Concurrency: 4, PollInterval: 5 * time.Millisecond}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	// Let several polls elapse while the single handler is blocked.
	time.Sleep(50 * time.Millisecond)
	close(release)
	pool.Stop()

	if got := starts.Load(); got != 1 {
		t.Fatalf("item dispatched %d times, want 1", got)
	}
}

func TestPoolDrainsFullBacklogWithoutWaiting(t *testing.T) {
	var (
		mu      sync.Mutex
		nextID  int64
		backlog = 6
		handled atomic.Int64
	)

	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) {
		mu.Lock()
		defer mu.Unlock()
		items := make([]fakeItem, 0, limit)
		for len(items) < limit && backlog > 0 {
			nextID++
			backlog--
			items = append(items, fakeItem{id: nextID})
		}
		return items, nil
	}
	handle := func(ctx context.Context, item fakeItem) error {
		handled.Add(1)
		return nil
	}

	// The poll interval is effectively infinite, so only full-batch
	// re-polls can reach the rest of the backlog.
	pool, err := New(Options{Name: "test", Concurrency: 2, BatchMultiplier: 1, PollInterval: time.Hour}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	deadline := time.After(5 * time.Second)
	for handled.Load() < 6 {
		select {
		case <-deadline:
			t.Fatalf("handled %d of 6 items; pool slept on a full batch", handled.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPoolIsolatesPanics(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) {
		n := calls.Add(1)
		return []fakeItem{{id: n}}, nil
	}
	handle := func(ctx context.Context, item fakeItem) error {
		if item.id == 1 {
			panic("boom")
		}
		return nil
	}

	pool, err := New(Options{Name: "test", Concurrency: 1, PollInterval: 5 * time.Millisecond}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("pool stopped fetching after panic")
		case <-time.After(time.Millisecond):
		}
	}
	pool.Stop()
}

func TestPoolStopDrainsHandlers(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) {
		return []fakeItem{{id: 1}}, nil
	}
	handle := func(ctx context.Context, item fakeItem) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	pool, err := New(Options{Name: "test", Concurrency: 1, PollInterval: time.Hour}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	pool.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight handler finished")
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	fetch := func(ctx context.Context, limit int) ([]fakeItem, error) { return nil, nil }
	handle := func(ctx context.Context, item fakeItem) error { return nil }
	pool, err := New(Options{Name: "test", Concurrency: 1, PollInterval: time.Hour}, itemID, fetch, handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()
	if err := pool.Start(t.Context()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
