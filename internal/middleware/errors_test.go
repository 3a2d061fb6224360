package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
)

func errorRouter(err error, write bool) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler(logger.Discard()))
	r.GET("/", func(c *gin.Context) {
		if write {
			c.JSON(http.StatusTeapot, gin.H{"already": "written"})
		}
		_ = c.Error(err)
	})
	return r
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
		wantBody   string
	}{
		{
			name:       "quota exceeded",
			err:        &ratelimit.LimitError{Class: "auth", Message: "slow down", RetryAfter: 1500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "2",
			wantBody:   `{"error":"slow down","retry_after":2}`,
		},
		{
			name:       "wrapped quota error",
			err:        fmt.Errorf("outer: %w", &ratelimit.LimitError{Message: "m"}),
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "1",
			wantBody:   `{"error":"m","retry_after":1}`,
		},
		{
			name:       "decision failure",
			err:        &ratelimit.DecisionError{Class: "auth", Path: "/login", Cause: ratelimit.ErrIdentityUnknown},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Service temporarily unavailable"}`,
		},
		{
			name:       "anything else",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(errorRouter(tt.err, false), http.MethodGet, "/", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRetry, w.Header().Get(HeaderRetryAfter))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestErrorHandler_LeavesWrittenResponses(t *testing.T) {
	w := do(errorRouter(errors.New("late"), true), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.JSONEq(t, `{"already":"written"}`, w.Body.String())
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(logger.Discard()))
	r.GET("/", func(*gin.Context) { panic("kaboom") })

	w := do(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
