// Package cache provides a connection-managed key/value client over a
// Redis-compatible store, with bounded retries and per-operation timeouts.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/yatesi-xyz/statserver/internal/config"
	"github.com/yatesi-xyz/statserver/internal/errs"
)

// Client is a connection-managed cache client. It is cheap to share across
// many goroutines: the underlying redis.Client multiplexes commands over a
// pooled connection.
type Client struct {
	rdb *redis.Client
	cfg config.CacheConfig
}

// Open constructs a client and verifies connectivity with a bounded PING.
func Open(ctx context.Context, cfg config.CacheConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, errs.New("cache", errs.CodeCacheConnection,
			errs.WithMessage("parsing cache dsn"), errs.WithCause(err))
	}
	opts.DialTimeout = cfg.ConnectionTimeout
	opts.ReadTimeout = cfg.ResponseTimeout
	opts.WriteTimeout = cfg.ResponseTimeout

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.New("cache", errs.CodeCacheConnection,
			errs.WithMessage("pinging cache"), errs.WithCause(err))
	}

	return &Client{rdb: rdb, cfg: cfg}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Set overwrites key with value, retrying on failure per the configured
// retry budget and exponential backoff capped at max_delay_between_retries.
func (c *Client) Set(ctx context.Context, key string, value uint64) error {
	policy := backoffPolicy(c.cfg)

	tries := maxTries(c.cfg)
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
		err := c.rdb.Set(opCtx, key, strconv.FormatUint(value, 10), 0).Err()
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(policy.NextBackOff()):
			continue
		}
		break
	}

	return errs.New("cache", errs.CodeCacheCommand,
		errs.WithResource(key), errs.WithMessage("set"), errs.WithCause(lastErr))
}

// Get reads a single key. A missing key is not an error — it yields 0,
// mirroring the database client's "absence is not an error" rule.
func (c *Client) Get(ctx context.Context, key string) (uint64, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()

	val, err := c.rdb.Get(opCtx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errs.New("cache", errs.CodeCacheCommand,
			errs.WithResource(key), errs.WithMessage("get"), errs.WithCause(err))
	}
	return parseCount(val), nil
}

// MGet reads multiple keys in a single round trip. On timeout or error it
// returns a same-length slice of zeros rather than failing the caller —
// the broadcaster degrades to zero-valued fields instead of dropping the
// snapshot frame.
func (c *Client) MGet(ctx context.Context, keys ...string) []uint64 {
	zeros := make([]uint64, len(keys))

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()

	values, err := c.rdb.MGet(opCtx, keys...).Result()
	if err != nil {
		return zeros
	}

	out := make([]uint64, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = parseCount(s)
	}
	return out
}

func parseCount(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func maxTries(cfg config.CacheConfig) int {
	if cfg.NumberOfRetries <= 0 {
		return 1
	}
	return cfg.NumberOfRetries
}

func backoffPolicy(cfg config.CacheConfig) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.DelayExponentBase
	exp.MaxInterval = cfg.MaxDelayBetweenRetries
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	return exp
}
