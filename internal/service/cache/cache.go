package cache

import (
	"context"
	"errors"
	"time"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/internal/service/pricing"
	pkgcache "PriceSheet/pkg/cache"
	"PriceSheet/pkg/logger"
)

// QuoteCache wraps a QuoteProvider and keeps lookups that resolve to a price
// for a short TTL, so instances sharing a Redis backend do not query the
// provider twice for the same ticker. Failed or unresolvable lookups are
// never cached and a retry always reaches the provider.
type QuoteCache struct {
	next  drepo.QuoteProvider
	store pkgcache.Service
	ttl   time.Duration
	log   *logger.Logger
}

// NewQuoteCache returns next unchanged when store is nil or ttl is not positive.
func NewQuoteCache(next drepo.QuoteProvider, store pkgcache.Service, ttl time.Duration, log *logger.Logger) drepo.QuoteProvider {
	if store == nil || ttl <= 0 {
		return next
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteCache{next: next, store: store, ttl: ttl, log: log}
}

func (c *QuoteCache) Name() string { return c.next.Name() }

func (c *QuoteCache) key(t models.Ticker) string {
	return pkgcache.GenerateKeyWithParams("quote", c.next.Name(), t)
}

func (c *QuoteCache) Lookup(ctx context.Context, t models.Ticker) (models.QuoteRecord, error) {
	key := c.key(t)

	var rec models.QuoteRecord
	err := c.store.Get(ctx, key, &rec)
	switch {
	case err == nil && !rec.IsEmpty():
		c.log.Debug("quote cache hit", logger.String("ticker", t.String()))
		return rec, nil
	case err != nil && !errors.Is(err, pkgcache.ErrCacheMiss):
		c.log.Warn("quote cache read failed", logger.String("ticker", t.String()), logger.Error(err))
	}

	rec, err = c.next.Lookup(ctx, t)
	if err != nil {
		return rec, err
	}
	if _, ok := pricing.Resolve(rec); !ok {
		return rec, nil
	}
	if err := c.store.Set(ctx, key, rec, c.ttl); err != nil {
		c.log.Warn("quote cache write failed", logger.String("ticker", t.String()), logger.Error(err))
	}
	return rec, nil
}
