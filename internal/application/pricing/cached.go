package pricing

import (
	"context"
	"encoding/json"
	"time"

	"smartfolio-backend/internal/infrastructure/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const quoteKeyPrefix = "quote:"

// Cached keeps quotes from Inner in Redis for TTL. Only missing symbols reach Inner; if Redis is
// unreachable every symbol goes to Inner.
type Cached struct {
	Inner Provider
	Rdb   *redis.Client
	TTL   time.Duration
}

func (c *Cached) Name() string { return c.Inner.Name() }

func (c *Cached) Lookup(ctx context.Context, symbols []string) (map[string]Quote, error) {
	symbols = Normalize(symbols)
	if len(symbols) == 0 || c.Rdb == nil {
		return c.Inner.Lookup(ctx, symbols)
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = quoteKeyPrefix + sym
	}
	vals, err := c.Rdb.MGet(ctx, keys...).Result()
	if err != nil {
		metrics.QuoteCache.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("quote cache read failed")
		return c.Inner.Lookup(ctx, symbols)
	}

	out := make(map[string]Quote, len(symbols))
	var misses []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, symbols[i])
			continue
		}
		var q Quote
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			misses = append(misses, symbols[i])
			continue
		}
		out[symbols[i]] = q
	}
	metrics.QuoteCache.WithLabelValues("hit").Add(float64(len(out)))
	if len(misses) == 0 {
		return out, nil
	}
	metrics.QuoteCache.WithLabelValues("miss").Add(float64(len(misses)))

	fresh, err := c.Inner.Lookup(ctx, misses)
	if err != nil {
		if len(out) > 0 {
			log.Warn().Err(err).Strs("symbols", misses).Msg("quote provider failed, serving cached subset")
			return out, nil
		}
		return nil, err
	}

	pipe := c.Rdb.Pipeline()
	for sym, q := range fresh {
		out[sym] = q
		b, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, quoteKeyPrefix+sym, b, c.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("quote cache write failed")
	}
	return out, nil
}
