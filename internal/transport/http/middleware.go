package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// RateLimitMiddleware rejects requests once limiter's budget for the window is spent.
func RateLimitMiddleware(limiter *windowLimiter, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow() {
			wait := limiter.retryAfter()
			logger.Debug().Str("path", c.Request.URL.Path).Dur("retry_after", wait).Msg("rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: &core.CoreError{
				Code:    "rate_limited",
				Message: "too many messages, slow down",
			}})
			c.Abort()
			return
		}
		c.Next()
	}
}
