package server

import (
	"net/http"
	"time"

	"github.com/Tyrowin/relayhub/internal/relay"
	"github.com/gin-gonic/gin"
)

// serveWebSocket verifies the handshake token when one is required,
// upgrades the request and registers the new client with the hub.
func (s *Server) serveWebSocket(c *gin.Context) {
	var verified bool
	var ident relay.Identity
	if s.verifier != nil {
		id, err := s.verifier.verify(tokenFromRequest(c.Request))
		if err != nil {
			s.log.Info("rejected websocket handshake", "addr", c.Request.RemoteAddr, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		ident, verified = id, true
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Warn("websocket upgrade failed", "addr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, c.Request.RemoteAddr, s.cfg, s.log)

	// Registration is queued before the read pump can dispatch anything.
	if verified {
		s.hub.ConnectVerified(client, ident)
	} else {
		s.hub.Connect(client)
	}
	s.startPumps(client)
}

// health is the liveness probe.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(timestampLayout),
	})
}

// stats reports live connection, channel and typing counts.
func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}
