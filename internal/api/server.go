package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer returns the gin engine serving the status endpoints.
func NewServer(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
	r.Use(gin.Recovery())

	setupRoutes(r, handler)
	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/", handler.Home)
	r.GET("/start_bot_manual", handler.StartBot)
	r.GET("/debug_info", handler.DebugInfo)
	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(handler.metrics.Handler()))

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}
