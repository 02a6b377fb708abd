// Package rategate implements a leased launch budget: at most N holders at
// once, and successive grants spaced at least a fixed interval apart. The
// budget is an explicit value owned by whoever constructs the gate; there is
// no package level state.
package rategate

import (
	"context"
	"sync"
	"time"
)

type Gate struct {
	interval time.Duration
	sem      chan struct{}

	mu     sync.Mutex
	nextAt time.Time

	now func() time.Time
}

// New builds a gate granting at most slots concurrent leases, with grants
// spaced at least interval apart. Slots below 1 are clamped to 1.
func New(interval time.Duration, slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	return &Gate{
		interval: interval,
		sem:      make(chan struct{}, slots),
		now:      time.Now,
	}
}

// Acquire blocks until a lease is available and the spacing interval since
// the previous grant has passed. Every successful Acquire must be paired
// with a Release.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		g.mu.Lock()
		now := g.now()
		if !now.Before(g.nextAt) {
			g.nextAt = now.Add(g.interval)
			g.mu.Unlock()
			return nil
		}
		wait := g.nextAt.Sub(now)
		g.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-g.sem
			return ctx.Err()
		}
	}
}

// Release returns a lease to the gate.
func (g *Gate) Release() {
	<-g.sem
}

// InFlight reports how many leases are currently held.
func (g *Gate) InFlight() int {
	return len(g.sem)
}
