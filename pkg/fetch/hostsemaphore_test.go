package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(limit int) *HostSemaphorePool {
	return NewHostSemaphorePool(limit, testLogger())
}

func TestHostSemaphore_AcquireRelease_Basic(t *testing.T) {
	pool := newTestPool(2)

	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (both slots held)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, "host-a"); err == nil {
		t.Fatal("expected third acquire to fail, but it succeeded")
	}

	pool.Release("host-a")
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}

	pool.Release("host-a")
	pool.Release("host-a")
}

func TestHostSemaphore_MultipleHosts(t *testing.T) {
	pool := newTestPool(1)

	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("host-a acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-b"); err != nil {
		t.Fatalf("host-b acquire failed: %v", err)
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", pool.Len())
	}

	pool.Release("host-a")
	pool.Release("host-b")
}

func TestHostSemaphore_ZeroLimitDefaultsToOne(t *testing.T) {
	pool := newTestPool(0)

	if err := pool.Acquire(context.Background(), "h"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, "h"); err == nil {
		t.Fatal("expected second acquire to block with limit 1")
	}
	pool.Release("h")
}

func TestHostSemaphore_ReleaseUnknownHost(t *testing.T) {
	pool := newTestPool(1)
	pool.Release("never-acquired") // logs, must not panic
	if pool.Len() != 0 {
		t.Errorf("expected 0 entries, got %d", pool.Len())
	}
}

func TestHostSemaphore_ConcurrentLimitEnforced(t *testing.T) {
	pool := newTestPool(3)
	host := "concurrent.com"
	const goroutines = 30

	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			if err := pool.Acquire(context.Background(), host); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			pool.Release(host)
		}()
	}
	wg.Wait()

	if maxSeen.Load() > 3 {
		t.Errorf("saw %d concurrent holders, limit is 3", maxSeen.Load())
	}
}
