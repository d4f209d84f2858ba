package engine

import (
	"log/slog"
	"sync"
	"time"

	"bgpdata-consumer-go/internal/recovery"
)

// SubscriptionTable maps resource strings ("AS<asn>") to expiration
// times. Subscribed resources trigger notification fan-out on matching
// prefix updates. Written by the consumer goroutine, swept by the
// sweeper goroutine, so access is lock-guarded.
type SubscriptionTable struct {
	mu      sync.RWMutex
	entries map[string]int64 // resource -> expiration unix millis
	ttl     time.Duration

	stop chan struct{}
	once sync.Once
}

func NewSubscriptionTable(ttl time.Duration) *SubscriptionTable {
	return &SubscriptionTable{
		entries: make(map[string]int64),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
}

// StartSweeper launches the periodic cleanup at the given interval.
func (t *SubscriptionTable) StartSweeper(interval time.Duration) {
	recovery.Go("subscription-sweeper", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	})
}

// Stop terminates the sweeper.
func (t *SubscriptionTable) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Subscribe creates or refreshes a resource subscription.
func (t *SubscriptionTable) Subscribe(resource string) {
	expiration := time.Now().Add(t.ttl).UnixMilli()

	t.mu.Lock()
	t.entries[resource] = expiration
	size := len(t.entries)
	t.mu.Unlock()

	GetMetrics().SubscriptionsActive.Set(float64(size))
	slog.Info("subscription_refreshed",
		slog.String("resource", resource),
		slog.Int64("expiration", expiration))
}

// Contains reports whether the resource has an active subscription.
func (t *SubscriptionTable) Contains(resource string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[resource]
	return ok
}

// Len reports the current subscription count.
func (t *SubscriptionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *SubscriptionTable) sweep() {
	now := time.Now().UnixMilli()
	expired := 0

	t.mu.Lock()
	for resource, expiration := range t.entries {
		if expiration < now {
			delete(t.entries, resource)
			expired++
		}
	}
	size := len(t.entries)
	t.mu.Unlock()

	GetMetrics().SubscriptionsActive.Set(float64(size))
	if expired > 0 {
		slog.Info("subscriptions_expired", slog.Int("count", expired))
	}
}
