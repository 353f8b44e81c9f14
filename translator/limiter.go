package translator

import (
	"context"
	"log/slog"
)

// Limiter caps concurrent translation requests.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter allows n requests at once (at least one).
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is canceled. Returns true if
// a slot was acquired.
func (l *Limiter) Acquire(ctx context.Context) bool {
	select {
	case l.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release frees a slot.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		// Should not happen unless mismatched acquire/release
		slog.Warn("translation slot release called without corresponding acquire", slog.String("component", "translator"))
	}
}

// Active returns the number of held slots.
func (l *Limiter) Active() int { return len(l.slots) }

// Cap returns the configured maximum.
func (l *Limiter) Cap() int { return cap(l.slots) }
