package probe

import (
	"context"
	"sync"

	"github.com/anstrom/lanprobe/internal/errors"
)

// DefaultGlobalLimit bounds simultaneously open probe sockets per process.
const DefaultGlobalLimit = 256

// Limiter is a fixed-capacity semaphore shared by all probes in the process,
// so concurrent requests cannot together exhaust file descriptors.
// A nil *Limiter never blocks.
type Limiter struct {
	capacity  int
	semaphore chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewLimiter creates a limiter with the specified capacity.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}

	return &Limiter{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
	}
}

// Acquire blocks until a slot is available or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return errors.NewProbeError(errors.CodeResourceExhausted, "probe limiter is closed")
	}

	// Prefer reporting cancellation over taking a free slot.
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case l.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	select {
	case <-l.semaphore:
	default:
	}
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	if l == nil {
		return 0
	}
	return len(l.semaphore)
}

// Capacity returns the maximum number of slots.
func (l *Limiter) Capacity() int {
	if l == nil {
		return 0
	}
	return l.capacity
}

// Close stops the limiter from handing out new slots.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// LimiterStats is a point-in-time view of limiter usage.
type LimiterStats struct {
	Capacity  int  `json:"capacity"`
	InUse     int  `json:"in_use"`
	Available int  `json:"available_slots"`
	Closed    bool `json:"closed"`
}

// Stats returns a snapshot of limiter usage. A nil limiter reports zeros.
func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	inUse := len(l.semaphore)
	return LimiterStats{
		Capacity:  l.capacity,
		InUse:     inUse,
		Available: l.capacity - inUse,
		Closed:    l.closed,
	}
}
