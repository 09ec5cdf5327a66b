package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantRateLimiter keeps one token bucket per key (usually a tenant id).
type TenantRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*tenantBucket
	rate        rate.Limit
	burst       int
	idleTTL     time.Duration
	cleanupTick time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTenantRateLimiter creates a limiter allowing rps requests per second
// with the given burst per key, and starts the idle-bucket sweeper.
func NewTenantRateLimiter(rps float64, burst int) *TenantRateLimiter {
	rl := &TenantRateLimiter{
		buckets:     make(map[string]*tenantBucket),
		rate:        rate.Limit(rps),
		burst:       burst,
		idleTTL:     10 * time.Minute,
		cleanupTick: 5 * time.Minute,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow consumes one token for key if available.
func (rl *TenantRateLimiter) Allow(key string) bool {
	return rl.bucket(key).AllowN(rl.now(), 1)
}

// WaitTime returns how long until key may make its next request.
func (rl *TenantRateLimiter) WaitTime(key string) time.Duration {
	now := rl.now()
	r := rl.bucket(key).ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// Reset drops state for key.
func (rl *TenantRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

func (rl *TenantRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *TenantRateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		b = &tenantBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

func (rl *TenantRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *TenantRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
}

// GetStats returns limiter statistics.
func (rl *TenantRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_tenants": len(rl.buckets),
		"rate":           float64(rl.rate),
		"burst":          rl.burst,
	}
}
