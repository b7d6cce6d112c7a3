package ratelimit

import (
	"context"
	"sync"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/pkg/util"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Every key shares the same capacity and
// refill rate.
type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	m  map[string]*bucket
}

// New returns a limiter allowing perMinute calls per key with the given burst.
func New(perMinute, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		capacity:   float64(burst),
		refillRate: float64(perMinute) / 60,
		now:        time.Now,
		sleep:      util.SleepContext,
		m:          make(map[string]*bucket),
	}
}

// take consumes one token if available. Otherwise it returns how long until
// one will be.
func (l *Limiter) take(key string) (time.Duration, bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	if l.refillRate <= 0 {
		return time.Hour, false
	}
	need := (1 - b.tokens) / l.refillRate
	return time.Duration(need * float64(time.Second)), false
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	_, ok := l.take(key)
	return ok
}

// Wait blocks until a token for key is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		wait, ok := l.take(key)
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

type limitedProvider struct {
	next    drepo.QuoteProvider
	limiter *Limiter
}

// WrapProvider throttles Lookup calls on next. All tickers share one bucket
// keyed by the provider name.
func WrapProvider(next drepo.QuoteProvider, l *Limiter) drepo.QuoteProvider {
	if l == nil || l.refillRate <= 0 {
		return next
	}
	return &limitedProvider{next: next, limiter: l}
}

func (p *limitedProvider) Name() string { return p.next.Name() }

func (p *limitedProvider) Lookup(ctx context.Context, t models.Ticker) (models.QuoteRecord, error) {
	if err := p.limiter.Wait(ctx, p.next.Name()); err != nil {
		return nil, err
	}
	return p.next.Lookup(ctx, t)
}
