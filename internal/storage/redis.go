package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	defaultOperationTimeout = 2 * time.Second
	defaultScanBatchSize    = 100
)

type RedisConfig struct {
	URL              string
	RetryAttempts    int
	RetryInterval    time.Duration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	ScanBatchSize    int
}

// RedisClient implements Store on top of a shared go-redis pool. The pool
// reconnects on its own after transient network failures.
type RedisClient struct {
	client    redis.UniversalClient
	opTimeout time.Duration
	scanCount int64
}

var (
	_ Store         = (*RedisClient)(nil)
	_ AtomicCounter = (*RedisClient)(nil)
)

// NewRedis parses a redis:// or rediss:// URL and pings the server with
// exponential backoff until it answers or the connect timeout expires.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToParseRedisConnString, err)
	}

	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	client := redis.NewClient(opts)

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(uint64(max(cfg.RetryAttempts, 0)), retry.NewExponential(cfg.RetryInterval))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrRedisNotReady, err)
	}

	return NewRedisFromClient(client, cfg.OperationTimeout, cfg.ScanBatchSize), nil
}

// NewRedisFromClient wraps an existing client. Zero values fall back to a 2s
// operation timeout and a SCAN batch of 100.
func NewRedisFromClient(client redis.UniversalClient, opTimeout time.Duration, scanBatchSize int) *RedisClient {
	if opTimeout <= 0 {
		opTimeout = defaultOperationTimeout
	}
	if scanBatchSize <= 0 {
		scanBatchSize = defaultScanBatchSize
	}

	return &RedisClient{
		client:    client,
		opTimeout: opTimeout,
		scanCount: int64(scanBatchSize),
	}
}

func (r *RedisClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}

	return val, nil
}

func (r *RedisClient) GetWithTTL(ctx context.Context, key string) (string, time.Duration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, fmt.Errorf("redis get with ttl %q: %w", key, err)
	}

	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("redis get with ttl %q: %w", key, err)
	}

	// PTTL reports -1 (no expiry) and -2 (missing) as negative durations.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	return val, ttl, nil
}

func (r *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}

	return nil
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}

	return nil
}

func (r *RedisClient) DeleteMany(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del %d keys: %w", len(keys), err)
	}

	return n, nil
}

func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}

	return n > 0, nil
}

// Scan walks the keyspace with SCAN MATCH COUNT. Each page gets its own
// timeout, and keys SCAN returns more than once are reported once.
func (r *RedisClient) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
		seen   = make(map[string]struct{})
	)

	for {
		pageCtx, cancel := r.withTimeout(ctx)
		batch, next, err := r.client.Scan(pageCtx, cursor, pattern, r.scanCount).Result()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
		}

		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}

		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// IncrWithExpiry creates the counter with the window TTL if it does not exist
// and increments it, all inside one MULTI/EXEC.
func (r *RedisClient) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, window)
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis incr %q: %w", key, err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}

	return incr.Val(), remaining, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
	}

	return nil
}

// Client exposes the underlying pool for components that need commands the
// Store contract does not cover.
func (r *RedisClient) Client() redis.UniversalClient {
	return r.client
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
