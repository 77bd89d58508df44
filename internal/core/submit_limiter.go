package core

// submit_limiter.go bounds how many documents are being handed to the
// extraction backend at once, across all sessions.
//
// A submission holds a slot from the moment its document is accepted for
// upload until the backend returns a job handle. Polling does not hold a
// slot. When all slots are taken, new submissions wait up to maxWait and
// then fail with ErrTooManySubmissions.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManySubmissions is returned when no slot frees up within maxWait.
var ErrTooManySubmissions = errors.New("too many concurrent submissions, please try again later")

// DefaultMaxConcurrentSubmissions is the default limit for parallel submissions.
const DefaultMaxConcurrentSubmissions = 5

// DefaultSubmitWait is how long to wait for a slot before rejecting.
const DefaultSubmitWait = 30 * time.Second

// SubmitLimiter is a semaphore over document submissions.
type SubmitLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewSubmitLimiter allows at most maxConcurrent simultaneous submissions.
func NewSubmitLimiter(maxConcurrent int, maxWait time.Duration) *SubmitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSubmissions
	}
	if maxWait <= 0 {
		maxWait = DefaultSubmitWait
	}
	return &SubmitLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. On success it returns a release func that is
// safe to call more than once.
func (l *SubmitLimiter) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooManySubmissions
	}

	l.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Add(-1)
			<-l.slots
		})
	}, nil
}

// Active returns the number of submissions holding a slot.
func (l *SubmitLimiter) Active() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *SubmitLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// SubmitLimiterStatus is a point-in-time view for monitoring.
type SubmitLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *SubmitLimiter) Status() SubmitLimiterStatus {
	return SubmitLimiterStatus{
		Active:        l.Active(),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}

// WaitForDrain blocks until no submission holds a slot or ctx is done.
// Used on shutdown so in-flight uploads reach the backend.
func (l *SubmitLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
