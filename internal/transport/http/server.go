package http

import (
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/config"
)

// NewServer builds the loopback bridge that exposes the session to a local
// presentation layer. Open event streams end when the server shuts down.
func NewServer(sess Session, cfg config.BridgeConfig, logger *zerolog.Logger) *stdhttp.Server {
	l := logger.With().Str("component", "bridge").Logger()
	closing := make(chan struct{})
	handlers := NewHandlers(sess, &l, closing)

	limiter := newWindowLimiter(cfg.RateLimit, time.Minute)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(&l))

	router.GET("/health", healthHandler)

	api := router.Group("/api")
	api.GET("/status", handlers.Status)
	api.GET("/history", handlers.History)
	api.GET("/events", handlers.Events)
	api.POST("/messages", RateLimitMiddleware(limiter, &l), handlers.PostMessage)

	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	var once sync.Once
	srv.RegisterOnShutdown(func() {
		once.Do(func() { close(closing) })
	})
	return srv
}

func healthHandler(c *gin.Context) {
	_, _ = fmt.Fprint(c.Writer, "ok")
}
