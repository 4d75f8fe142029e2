// Package refresh orchestrates fetch-if-stale-else-return-cached per cache
// key, with single-flight de-duplication of concurrent refreshes and
// stale-value fallback on failure.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/terryso/binance-dashboard/internal/cache"
	"github.com/terryso/binance-dashboard/internal/clock"
	"github.com/terryso/binance-dashboard/internal/gateway"
)

// Result is a dataset read. When Stale is set the value is being served
// past its TTL because the last refresh failed; stale results must not
// drive alerting decisions (liquidation warnings and the like) without the
// caller checking the flag first.
type Result[T any] struct {
	Value     T
	Stale     bool
	FetchedAt time.Time
	Age       time.Duration
}

// Fetcher loads a fresh value from the upstream API.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Coordinator runs the per-key refresh state machine over a cache store:
// fresh entries return immediately, expired keys refresh under
// single-flight, failures fall back per the staleness policy.
type Coordinator[T any] struct {
	store  *cache.Store[T]
	clk    clock.Clock
	policy Policy
	logger *zap.Logger

	group singleflight.Group

	mu         sync.Mutex
	refreshing map[string]struct{}
	cooldowns  map[string]cooldown
}

type cooldown struct {
	until time.Time
	cause error
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator[T any](store *cache.Store[T], clk clock.Clock, policy Policy, logger *zap.Logger) *Coordinator[T] {
	return &Coordinator[T]{
		store:      store,
		clk:        clk,
		policy:     policy,
		logger:     logger.Named("refresh"),
		refreshing: make(map[string]struct{}),
		cooldowns:  make(map[string]cooldown),
	}
}

// GetOrRefresh returns the value for key, refreshing it when expired.
//
// The dominant path is a fresh cache hit and never blocks on the network.
// On expiry, at most one fetch per key is in flight at any time; callers
// arriving while a refresh runs are served the previous value immediately
// (marked stale) instead of waiting, when one exists.
func (c *Coordinator[T]) GetOrRefresh(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[T]) (Result[T], error) {
	now := c.clk.Now()

	if e, ok := c.store.Get(key); ok && e.Fresh(now) {
		return Result[T]{Value: e.Value, FetchedAt: e.FetchedAt, Age: e.Age(now)}, nil
	}

	// A recent rate-limit rejection put this key in cooldown: no further
	// upstream call until the hinted delay has passed.
	if cause, cooling := c.inCooldown(key, now); cooling {
		return c.fallback(key, now, cause)
	}

	if c.isRefreshing(key) {
		if e, ok := c.store.Get(key); ok && c.policy.serveable(e.Age(now)) {
			// Serve the expired value immediately rather than blocking
			// behind someone else's refresh.
			return Result[T]{Value: e.Value, Stale: true, FetchedAt: e.FetchedAt, Age: e.Age(now)}, nil
		}
		// No prior value to serve, so join the in-flight fetch.
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.setRefreshing(key, true)
		defer c.setRefreshing(key, false)
		return c.refresh(ctx, key, ttl, fetch)
	})
	if err != nil {
		return c.fallback(key, c.clk.Now(), err)
	}

	e := v.(cache.Entry[T])
	return Result[T]{Value: e.Value, FetchedAt: e.FetchedAt, Age: c.clk.Now().Sub(e.FetchedAt)}, nil
}

// refresh performs the upstream fetch and stores the result. The fetch is
// detached from the caller's cancellation: a consumer tearing down mid-
// refresh does not waste the request, the result still lands in the cache
// for the next caller.
func (c *Coordinator[T]) refresh(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[T]) (cache.Entry[T], error) {
	value, err := fetch(context.WithoutCancel(ctx))
	if err != nil {
		if hint, ok := gateway.RetryAfter(err); ok {
			c.setCooldown(key, c.clk.Now().Add(hint), err)
		}
		c.logger.Warn("refresh failed", zap.String("key", key), zap.Error(err))
		return cache.Entry[T]{}, err
	}

	c.store.Put(key, value, ttl)
	e, _ := c.store.Get(key)
	return e, nil
}

// fallback applies the staleness policy after a failed or skipped refresh.
// cause may be nil when falling back only because a refresh is in flight.
func (c *Coordinator[T]) fallback(key string, now time.Time, cause error) (Result[T], error) {
	e, ok := c.store.Get(key)
	if !ok || !c.policy.serveable(e.Age(now)) {
		var zero Result[T]
		return zero, cause
	}

	c.store.MarkStale(key)
	return Result[T]{Value: e.Value, Stale: true, FetchedAt: e.FetchedAt, Age: e.Age(now)}, nil
}

// Invalidate drops the key's cached value and cooldown state.
func (c *Coordinator[T]) Invalidate(key string) {
	c.store.Invalidate(key)
	c.mu.Lock()
	delete(c.cooldowns, key)
	c.mu.Unlock()
}

// InvalidateAll clears the cache and all cooldowns.
func (c *Coordinator[T]) InvalidateAll() {
	c.store.InvalidateAll()
	c.mu.Lock()
	c.cooldowns = make(map[string]cooldown)
	c.mu.Unlock()
}

func (c *Coordinator[T]) isRefreshing(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.refreshing[key]
	return ok
}

func (c *Coordinator[T]) setRefreshing(key string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.refreshing[key] = struct{}{}
	} else {
		delete(c.refreshing, key)
	}
}

func (c *Coordinator[T]) inCooldown(key string, now time.Time) (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.cooldowns[key]
	if !ok {
		return nil, false
	}
	if !now.Before(cd.until) {
		delete(c.cooldowns, key)
		return nil, false
	}
	return cd.cause, true
}

func (c *Coordinator[T]) setCooldown(key string, until time.Time, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldowns[key] = cooldown{until: until, cause: cause}
}
