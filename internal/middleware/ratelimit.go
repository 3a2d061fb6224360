package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/ratelimit"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// IdentifyFunc derives the client identifier the limiter keys on.
type IdentifyFunc func(c *gin.Context) string

type rateLimitOptions struct {
	identify IdentifyFunc
}

type RateLimitOption func(*rateLimitOptions)

func WithIdentifier(fn IdentifyFunc) RateLimitOption {
	return func(o *rateLimitOptions) {
		if fn != nil {
			o.identify = fn
		}
	}
}

// ClientIdentifier returns the first non-empty of the first X-Forwarded-For
// hop, X-Real-IP, CF-Connecting-IP and the peer address, or
// ratelimit.UnknownIdentifier.
func ClientIdentifier(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return v
		}
	}

	if ip := c.RemoteIP(); ip != "" {
		return ip
	}

	return ratelimit.UnknownIdentifier
}

// RateLimit enforces limiter on every request. Rejections are attached with
// c.Error and left for ErrorHandler to render.
//
// The allowlist is matched against c.ClientIP(), which only honours
// forwarding headers from the engine's trusted proxies. A panic below this
// middleware is counted as a 500 before it propagates to Recovery.
func RateLimit(limiter *ratelimit.Limiter, opts ...RateLimitOption) gin.HandlerFunc {
	o := rateLimitOptions{identify: ClientIdentifier}
	for _, opt := range opts {
		opt(&o)
	}

	standardHeaders := limiter.Config().StandardHeaders

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		d, err := limiter.Check(ctx, ratelimit.Request{
			Identifier: o.identify(c),
			PeerIP:     c.ClientIP(),
			Path:       c.Request.URL.Path,
		})

		if standardHeaders && d.HasStatus {
			setRateLimitHeaders(c, d.Status)
		}

		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				limiter.Complete(ctx, d, http.StatusInternalServerError)
				panic(rec)
			}
		}()

		c.Next()

		limiter.Complete(ctx, d, finalStatus(c))
	}
}

// RateLimitFor is RateLimit for a class looked up in reg. It panics on an
// unknown class, which is a wiring bug.
func RateLimitFor(reg *ratelimit.Registry, class string, opts ...RateLimitOption) gin.HandlerFunc {
	return RateLimit(reg.MustFor(class), opts...)
}

func setRateLimitHeaders(c *gin.Context, st ratelimit.Status) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(st.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(st.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(st.ResetTime.Unix(), 10))

	if st.Remaining == 0 {
		c.Header(HeaderRetryAfter, strconv.Itoa(int(st.RetryAfter.Seconds())))
	}
}

// finalStatus is the status the client will see. An error attached but not
// yet rendered by ErrorHandler is never a success.
func finalStatus(c *gin.Context) int {
	if !c.Writer.Written() && len(c.Errors) > 0 {
		return http.StatusInternalServerError
	}
	return c.Writer.Status()
}
