// Package trade runs one trade cycle state machine per symbol and the shared
// admission gate that bounds how many of them may hold an open position.
package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pullbackbot/internal/ports"
)

// Admission bounds the number of concurrently open positions across all
// trade cycles. Capacity is pure configuration; the degenerate capacity of 1
// means at most one open position process-wide. Acquisition failure is not an
// error, only a signal to retry on a later tick.
type Admission struct {
	slots chan struct{}
}

// NewAdmission creates a gate with the given capacity. Capacity below 1 is
// raised to 1.
func NewAdmission(capacity int) *Admission {
	if capacity < 1 {
		capacity = 1
	}
	return &Admission{slots: make(chan struct{}, capacity)}
}

// Capacity returns the configured number of slots.
func (a *Admission) Capacity() int { return cap(a.slots) }

// Held returns the number of currently held tokens.
func (a *Admission) Held() int { return len(a.slots) }

// TryAcquire attempts to take a slot, waiting at most timeout (or until ctx
// is cancelled). A zero timeout makes the attempt non-blocking.
func (a *Admission) TryAcquire(ctx context.Context, timeout time.Duration) (*Token, bool) {
	if timeout <= 0 {
		select {
		case a.slots <- struct{}{}:
			return &Token{gate: a}, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case a.slots <- struct{}{}:
		return &Token{gate: a}, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Token is the exclusive right to hold one open position. It must be
// released exactly once, on every exit path of the holding cycle.
type Token struct {
	gate *Admission

	mu       sync.Mutex
	released bool
}

// Release returns the slot to the gate. Releasing twice is an invariant
// violation: the caller's bookkeeping is broken and its worker must stop.
func (t *Token) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return fmt.Errorf("%w: %w", ports.ErrInvariantViolation, ports.ErrTokenNotHeld)
	}
	t.released = true
	<-t.gate.slots
	return nil
}
