package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
)

// CachedSource wraps a primary Source with a Redis read-through cache.
// Reads check Redis first then fall back to the primary; misses for
// unknown tickers are not cached. Redis errors degrade to the primary.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a cached wrapper around a primary source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedSource) GetPriceAndBeta(ctx context.Context, ticker string) (Quote, error) {
	key := quoteKey(NormalizeTicker(ticker))

	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.QuoteLookups.WithLabelValues("redis", "hit").Inc()
			return q, nil
		}
	}
	metrics.QuoteLookups.WithLabelValues("redis", "miss").Inc()

	// Cache miss: read from primary.
	q, err := s.primary.GetPriceAndBeta(ctx, ticker)
	if err != nil {
		return Quote{}, err
	}

	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return q, nil
}

// UpsertQuote writes q to the primary, then drops the cached copy so the
// next read sees it. A Redis failure is logged and does not fail the
// write; the stale entry expires with its TTL.
func (s *CachedSource) UpsertQuote(ctx context.Context, q Quote) error {
	w, ok := s.primary.(Writer)
	if !ok {
		return ErrReadOnly
	}
	if err := w.UpsertQuote(ctx, q); err != nil {
		return err
	}
	if err := s.Invalidate(ctx, q.Ticker); err != nil {
		slog.Warn("quote cache invalidation failed", "ticker", NormalizeTicker(q.Ticker), "err", err)
	}
	return nil
}

// Invalidate drops the cached quote for ticker.
func (s *CachedSource) Invalidate(ctx context.Context, ticker string) error {
	return s.rdb.Del(ctx, quoteKey(NormalizeTicker(ticker))).Err()
}

func quoteKey(ticker string) string { return fmt.Sprintf("quote:%s", ticker) }
