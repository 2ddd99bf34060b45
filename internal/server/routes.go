package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRoutes builds the gin engine serving the health probe, hub stats
// and the WebSocket endpoint.
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), s.origins.cors())

	r.GET("/health", s.health)
	r.GET("/stats", s.stats)
	r.GET("/ws", s.serveWebSocket)
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
