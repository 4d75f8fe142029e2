package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/terryso/binance-dashboard/internal/clock"
)

// limiter enforces the exchange's request-weight budget over a sliding
// window, plus a token-bucket pace on raw request count. The window slides
// relative to each request: a call at second 58 still counts against every
// window that started within the last 60 seconds.
type limiter struct {
	clk    clock.Clock
	pace   *rate.Limiter
	window time.Duration
	budget int

	mu   sync.Mutex
	used []weightUse
}

type weightUse struct {
	at     time.Time
	weight int
}

func newLimiter(clk clock.Clock, budget int, window time.Duration, requestsPerSecond float64) *limiter {
	return &limiter{
		clk:    clk,
		pace:   rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
		window: window,
		budget: budget,
	}
}

// wait blocks until the given weight fits inside the trailing window, or
// the context is done.
func (l *limiter) wait(ctx context.Context, weight int) error {
	if err := l.pace.Wait(ctx); err != nil {
		return err
	}
	for {
		d := l.reserve(weight)
		if d <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// reserve records the weight if it fits in the trailing window, returning
// zero. Otherwise it returns how long to wait for enough spent weight to
// slide out of the window.
func (l *limiter) reserve(weight int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	cutoff := now.Add(-l.window)

	kept := l.used[:0]
	spent := 0
	for _, u := range l.used {
		if u.at.After(cutoff) {
			kept = append(kept, u)
			spent += u.weight
		}
	}
	l.used = kept

	if spent+weight <= l.budget || len(l.used) == 0 {
		// An empty window always admits: a single call heavier than the
		// whole budget must not deadlock.
		l.used = append(l.used, weightUse{at: now, weight: weight})
		return 0
	}

	// Wait until the oldest spent weight leaves the window, then re-check.
	return l.used[0].at.Add(l.window).Sub(now)
}
