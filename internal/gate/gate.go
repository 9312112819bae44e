// Package gate provides the concurrency admission gate for sub-agent tasks:
// a counting semaphore with a FIFO wait queue and explicit shutdown clearing.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrCleared is returned to waiters rejected by Clear during shutdown.
var ErrCleared = errors.New("admission gate cleared")

type waiter struct {
	grant   chan error
	settled bool
}

// Gate admits up to max concurrent holders. Excess Acquire calls queue in
// arrival order; Release hands the slot to the longest-waiting caller
// directly instead of decrementing, so a releasing holder can never race a
// newly arriving acquirer past a queued one.
type Gate struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters []*waiter
}

func New(max int) *Gate {
	if max <= 0 {
		max = 1
	}
	return &Gate{max: max}
}

// Acquire grants a slot, blocking while the gate is full. It fails only when
// ctx is done or the gate is cleared.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.active < g.max {
		g.active++
		g.mu.Unlock()
		return nil
	}
	w := &waiter{grant: make(chan error, 1)}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case err := <-w.grant:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		if !w.settled {
			w.settled = true
			g.mu.Unlock()
			return ctx.Err()
		}
		g.mu.Unlock()
		// A release handed us the slot concurrently with cancellation;
		// pass it along so it is not lost.
		if err := <-w.grant; err == nil {
			g.Release()
		}
		return ctx.Err()
	}
}

// Release returns a slot. A queued waiter, if any, receives it directly;
// otherwise the active count drops, floored at zero.
func (g *Gate) Release() {
	g.mu.Lock()
	for len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		if w.settled {
			continue
		}
		w.settled = true
		g.mu.Unlock()
		w.grant <- nil
		return
	}
	if g.active > 0 {
		g.active--
	}
	g.mu.Unlock()
}

// Clear rejects every pending waiter and resets the active count.
// Intended only for process shutdown.
func (g *Gate) Clear() {
	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.active = 0
	g.mu.Unlock()

	for _, w := range waiters {
		g.mu.Lock()
		if w.settled {
			g.mu.Unlock()
			continue
		}
		w.settled = true
		g.mu.Unlock()
		w.grant <- ErrCleared
	}
}

// Active reports the number of granted slots.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Waiting reports the number of queued acquire calls.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.waiters {
		if !w.settled {
			n++
		}
	}
	return n
}
