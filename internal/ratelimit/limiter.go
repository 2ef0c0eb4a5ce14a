// Package ratelimit implements rolling-window admission control for venue calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/oddstream/errs"
)

// Clock supplies the current time. Injectable for deterministic tests.
type Clock func() time.Time

// Sleeper blocks for the given duration or until the context ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SlidingWindow admits at most limit calls within any rolling window. Callers
// beyond the limit block until the oldest recorded call leaves the window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    Clock
	sleep  Sleeper
	sent   []time.Time
}

// NewSlidingWindow builds a limiter admitting limit calls per window. A nil
// clock or sleeper falls back to real time.
func NewSlidingWindow(limit int, window time.Duration, now Clock, sleep Sleeper) *SlidingWindow {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = defaultSleep
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    now,
		sleep:  sleep,
		sent:   make([]time.Time, 0, limit),
	}
}

// Wait blocks until the call is admitted, then records it. Returns a
// rate-limited error when the context ends before admission.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	if l.limit <= 0 || l.window <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.sent) < l.limit {
			l.sent = append(l.sent, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.sent[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return errs.New("monaco", errs.CodeRateLimited,
				errs.WithCanonicalCode(errs.CanonicalRateLimited),
				errs.WithMessage("rate limit wait aborted"),
				errs.WithCause(err))
		}
	}
}

// Pending reports how many recorded calls remain inside the window.
func (l *SlidingWindow) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.sent)
}

func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}
