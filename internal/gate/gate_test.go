package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireUpToLimit(t *testing.T) {
	g := New(2)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() #1 error = %v", err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() #2 error = %v", err)
	}
	if got := g.Active(); got != 2 {
		t.Fatalf("Active() = %d, want 2", got)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := g.Acquire(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() over limit error = %v, want deadline exceeded", err)
	}
	if got := g.Active(); got != 2 {
		t.Fatalf("Active() after failed acquire = %d, want 2", got)
	}
}

func TestReleaseWakesWaitersInFIFOOrder(t *testing.T) {
	g := New(1)
	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const waiters = 3
	order := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("waiter %d Acquire() error = %v", i, err)
				return
			}
			order <- i
		}()
		waitFor(t, func() bool { return g.Waiting() == i+1 })
	}

	for i := 0; i < waiters; i++ {
		g.Release()
		select {
		case got := <-order:
			if got != i {
				t.Fatalf("grant order[%d] = %d, want %d", i, got, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not granted a slot", i)
		}
	}
	wg.Wait()

	if got := g.Active(); got != 1 {
		t.Fatalf("Active() after hand-offs = %d, want 1", got)
	}
}

func TestClearRejectsWaitersAndResets(t *testing.T) {
	g := New(1)
	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Acquire(ctx)
	}()
	waitFor(t, func() bool { return g.Waiting() == 1 })

	g.Clear()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCleared) {
			t.Fatalf("pending Acquire() after Clear error = %v, want ErrCleared", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending waiter was not rejected by Clear")
	}
	if got := g.Active(); got != 0 {
		t.Fatalf("Active() after Clear = %d, want 0", got)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after Clear error = %v", err)
	}
}

func TestReleaseSkipsCancelledWaiters(t *testing.T) {
	g := New(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Acquire(waitCtx)
	}()
	waitFor(t, func() bool { return g.Waiting() == 1 })

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Acquire() error = %v, want context.Canceled", err)
	}

	// The release must skip the settled waiter and free the slot instead.
	g.Release()
	if got := g.Active(); got != 0 {
		t.Fatalf("Active() after release = %d, want 0", got)
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestActiveCountNeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := g.Acquire(ctx); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				if got := g.Active(); got > limit {
					t.Errorf("Active() = %d, exceeds limit %d", got, limit)
				}
				g.Release()
			}
		}()
	}
	wg.Wait()

	if got := g.Active(); got != 0 {
		t.Fatalf("Active() after drain = %d, want 0", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
