// Package httpapi exposes GraphCore over HTTP, in the shape of the
// teacher's cmd/zmux-server/main.go router: Recovery first, dev-only
// CORS, then a Zap request logger, then routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calvinalkan/graphcache/internal/config"
	"github.com/calvinalkan/graphcache/internal/graph/core"
	"github.com/calvinalkan/graphcache/internal/httpapi/middleware"
)

// NewRouter builds the Gin engine serving the graph cache API. store is
// the authoritative backing store's write side, kept in sync with g's
// in-memory edges on every follow/unfollow request.
func NewRouter(g *core.GraphCore, store followWriter, cfg config.Config, log *zap.Logger) *gin.Engine {
	log = log.Named("httpapi")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())

	if cfg.Dev {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.CapConcurrentRequests(256))
	r.Use(zapLogger(log))

	h := &handlers{core: g, store: store, log: log}

	r.GET("/healthz", h.healthz)
	r.GET("/debug/stats", h.stats)

	api := r.Group("/api/v1/users/:id")
	api.GET("/followed", h.followed)
	api.POST("/tell", h.tell)

	r.POST("/api/v1/follow", h.follow)
	r.DELETE("/api/v1/follow", h.unfollow)

	return r
}

// zapLogger mirrors the teacher's ZapLogger gin middleware: structured
// per-request logging with status-based severity and joined handler
// errors.
func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Duration("latency", latency),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(c.Errors.Last()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
