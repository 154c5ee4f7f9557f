package relayserver

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the relay's two endpoints (a liveness check and the
// sync websocket upgrade) with CORS and rate-limiting middleware, following
// the teacher's internal/api/routes.go wiring order: CORS first, then
// route groups, protected ones getting the rate limiter.
func SetupRouter(srv *Server) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("RELAY_ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sync := r.Group("/")
	sync.Use(NewRateLimiter(60, 10).Middleware())
	sync.GET("/sync", srv.Serve)

	return r
}
