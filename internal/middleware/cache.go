package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/logger"
)

const (
	CacheStatusHeader = "X-Cache"
	CacheKeyHeader    = "X-Cache-Key"
	AgeHeader         = "Age"

	// CacheStateKey holds the cacheState stashed on a miss.
	CacheStateKey = "response_cache"

	defaultMaxCacheBody = 1 << 20
)

type CacheOptions struct {
	// Prefix namespaces the entries of this mount point.
	Prefix string
	// TTL defaults to the store's default TTL.
	TTL time.Duration
	// KeyBuilder defaults to the request path plus query string.
	KeyBuilder func(c *gin.Context) string
	// SkipCache forces a pass-through for matching requests.
	SkipCache func(c *gin.Context) bool
	// MaxBodyBytes caps how much of a response is buffered for storing.
	MaxBodyBytes int
	Logger       *slog.Logger
}

type cacheState struct {
	Prefix string
	Key    string
	TTL    time.Duration
}

// Cache serves GET requests from store and stores successful JSON responses
// on a miss. Other methods pass through untouched.
func Cache(store *cache.Store, opts CacheOptions) gin.HandlerFunc {
	if opts.TTL <= 0 {
		opts.TTL = store.DefaultTTL()
	}
	if opts.KeyBuilder == nil {
		opts.KeyBuilder = DefaultCacheKey
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxCacheBody
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	log := opts.Logger.With(logger.Component("cache"), slog.String("prefix", opts.Prefix))

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || (opts.SkipCache != nil && opts.SkipCache(c)) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := opts.KeyBuilder(c)
		fullKey := cache.FullKey(opts.Prefix, key)

		if env, ok := store.Get(ctx, opts.Prefix, key); ok {
			c.Header(CacheStatusHeader, "HIT")
			c.Header(CacheKeyHeader, fullKey)
			c.Header(AgeHeader, strconv.FormatInt(env.Age(store.Now()), 10))

			contentType := env.ContentType
			if contentType == "" {
				contentType = "application/json; charset=utf-8"
			}
			c.Data(env.StatusCode, contentType, env.Body)
			c.Abort()
			return
		}

		c.Header(CacheStatusHeader, "MISS")
		c.Header(CacheKeyHeader, fullKey)

		state := cacheState{Prefix: opts.Prefix, Key: key, TTL: opts.TTL}
		c.Set(CacheStateKey, state)

		w := &bodyCapture{ResponseWriter: c.Writer, limit: opts.MaxBodyBytes}
		c.Writer = w

		c.Next()

		c.Writer = w.ResponseWriter

		status := finalStatus(c)
		if !cache.Cacheable(status) {
			return
		}
		if w.overflow || !json.Valid(w.body.Bytes()) {
			log.Debug("response not cacheable", logger.Key(fullKey), logger.StatusCode(status), slog.Bool("overflow", w.overflow))
			return
		}

		env := cache.NewEnvelope(bytes.Clone(w.body.Bytes()), status, w.Header().Get("Content-Type"), store.Now())
		store.Set(context.WithoutCancel(ctx), state.Prefix, state.Key, env, state.TTL)
	}
}

// DefaultCacheKey is the request path plus its raw query string.
func DefaultCacheKey(c *gin.Context) string {
	if q := c.Request.URL.RawQuery; q != "" {
		return c.Request.URL.Path + "?" + q
	}
	return c.Request.URL.Path
}

// InvalidateOnSuccess evicts the entries described by build once the request
// completes with a 2xx status.
func InvalidateOnSuccess(store *cache.Store, build func(c *gin.Context) cache.Invalidation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !cache.Cacheable(finalStatus(c)) {
			return
		}
		store.Invalidate(context.WithoutCancel(c.Request.Context()), build(c))
	}
}

// bodyCapture tees the response body into a bounded buffer.
type bodyCapture struct {
	gin.ResponseWriter
	body     bytes.Buffer
	limit    int
	overflow bool
}

func (w *bodyCapture) capture(n int, write func()) {
	if w.overflow {
		return
	}
	if w.body.Len()+n > w.limit {
		w.overflow = true
		w.body.Reset()
		return
	}
	write()
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.capture(len(b), func() { w.body.Write(b) })
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.capture(len(s), func() { w.body.WriteString(s) })
	return w.ResponseWriter.WriteString(s)
}
