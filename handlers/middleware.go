package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// serverComponent is the component the server's own requests are tracked under.
const serverComponent = "HTTPServer"

// routeOf returns the registered route pattern, keeping label cardinality bounded.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// TrackRequests records every request as an api event on the runtime and in
// Prometheus. 5xx responses are recorded as failed calls.
func TrackRequests(monitor *core.Monitor, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)
		call := monitor.TrackAPICall(route, c.Request.Method, serverComponent)

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			msg := c.Errors.ByType(gin.ErrorTypeAny).String()
			if msg == "" {
				msg = http.StatusText(status)
			}
			call.Fail(core.NewReportedError(fmt.Sprintf("%s %s: %s", c.Request.Method, route, strings.TrimSpace(msg)), status))
		} else {
			call.Success(status)
		}
		m.HTTPRequest(route, strconv.Itoa(status), time.Since(start).Seconds())
	}
}

// Recovery turns handler panics into 500 responses and reports them to the
// runtime's uncaught-error hook.
func Recovery(monitor *core.Monitor, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path))
				monitor.ReportUncaught(err, map[string]any{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				})
				_ = c.Error(err)
				abortV2(c, http.StatusInternalServerError, models.CodeInternal, "Internal server error")
			}
		}()
		c.Next()
	}
}

// RateLimiter bounds the log ingest rate across all clients.
type RateLimiter struct {
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRateLimiter creates a limiter; a non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burstSize int, m *metrics.Metrics, logger *zap.Logger) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0), metrics: m, logger: logger}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), max(burstSize, 1)),
		metrics: m,
		logger:  logger,
	}
}

// Limit rejects requests over the rate with 429 and Retry-After.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			rl.metrics.IngestRejected("rate_limited")
			c.Header("Retry-After", "1")
			abortV2(c, http.StatusTooManyRequests, models.CodeRateLimited, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

// TokenValidator resolves a bearer access token to a user id.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// RequireBearer rejects requests without a valid access token.
func RequireBearer(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortV2(c, http.StatusUnauthorized, models.CodeUnauthorized, "Missing bearer token")
			return
		}
		user, err := v.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			abortV2(c, http.StatusUnauthorized, models.CodeUnauthorized, err.Error())
			return
		}
		c.Set("userId", user)
		c.Next()
	}
}
