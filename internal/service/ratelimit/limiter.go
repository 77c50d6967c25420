package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleTTL = 10 * time.Minute

// Limiter throttles outbound calls to one upstream.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter allows perMinute events with a burst of a tenth of that, capped at 5.
func NewLimiter(name string, perMinute int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(perSecond(perMinute), burstFor(perMinute)), name: name}
}

func (l *Limiter) Wait(ctx context.Context) error { return l.limiter.Wait(ctx) }
func (l *Limiter) Allow() bool                    { return l.limiter.Allow() }
func (l *Limiter) Name() string                   { return l.name }

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter keeps one token bucket per key, e.g. per client IP.
type KeyedLimiter struct {
	mu        sync.Mutex
	m         map[string]*entry
	perMinute int
	now       func() time.Time
}

func New(perMinute int) *KeyedLimiter {
	return &KeyedLimiter{m: make(map[string]*entry), perMinute: perMinute, now: time.Now}
}

// Allow returns true if one token can be consumed for key.
// A non-positive rate disables limiting.
func (k *KeyedLimiter) Allow(key string) bool {
	if k.perMinute <= 0 {
		return true
	}
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(perSecond(k.perMinute), burstFor(k.perMinute))}
		k.m[key] = e
		k.sweep(now)
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops buckets not touched for idleTTL. Caller holds mu.
func (k *KeyedLimiter) sweep(now time.Time) {
	for key, e := range k.m {
		if now.Sub(e.seen) > idleTTL {
			delete(k.m, key)
		}
	}
}

func perSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}

func burstFor(perMinute int) int {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}
	return burst
}
