package importer

// limiter.go bounds how many import sessions can be live at once.
//
// The limiter uses a semaphore pattern: when all slots are occupied, new
// uploads wait up to maxWait before failing with ErrTooManySessions. It
// also supports graceful shutdown via WaitForDrain, which blocks until
// every live session completes.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManySessions is returned when all session slots are occupied and
// the wait timeout expires. Clients should retry after a short delay.
var ErrTooManySessions = errors.New("too many concurrent import sessions, please try again later")

// DefaultMaxConcurrentSessions is the default limit for live sessions.
const DefaultMaxConcurrentSessions = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// SessionLimiter controls how many import sessions run simultaneously.
type SessionLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewSessionLimiter creates a limiter allowing at most maxConcurrent live
// sessions. Requests that cannot acquire a slot within maxWait receive
// ErrTooManySessions.
func NewSessionLimiter(maxConcurrent int, maxWait time.Duration) *SessionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &SessionLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire attempts to acquire a session slot.
// The caller MUST call Release() when the session retires.
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManySessions
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *SessionLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of currently live sessions.
func (l *SessionLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *SessionLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all live sessions retire or the context is
// cancelled. Used for graceful shutdown.
func (l *SessionLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
