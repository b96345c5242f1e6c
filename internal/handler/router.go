// Package handler exposes the attendance pipeline over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanattend/internal/auth"
	"scanattend/internal/directory"
	"scanattend/internal/httpmiddleware"
)

// Router builds the gin engine with every route mounted.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("Authorization", "X-Enroll-Key")
	corsConfig.MaxAge = 24 * time.Hour
	r.Use(cors.New(corsConfig))
	r.Use(securityHeaders(h.opts.Production))

	limit := h.rateLimiter()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	r.POST("/v1/stations/register", limit(httpmiddleware.ClientIP), h.RegisterStation)

	v1 := r.Group("/v1", auth.StationAuth(h.opts.SigningKey, h.opts.Issuer), limit(stationKey))
	v1.POST("/attendance", h.Submit)
	v1.POST("/attendance/image", h.SubmitImage)
	v1.GET("/attendance", h.ListAttendance)
	v1.GET("/attendance/roster", h.Roster)
	v1.GET("/attendance/stats/:person_id", h.Stats)

	admin := v1.Group("/directory", auth.RequireRole(string(directory.RoleAdmin)))
	admin.PUT("/people", h.UpsertPerson)
	admin.PUT("/guardians", h.LinkGuardian)
	admin.GET("/people/:id/guardians", h.Guardians)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// rateLimiter returns a middleware factory sharing one bucket set. A
// non-positive limit disables limiting.
func (h *Handler) rateLimiter() func(httpmiddleware.KeyFunc) gin.HandlerFunc {
	if h.opts.RateLimitPerMin <= 0 {
		return func(httpmiddleware.KeyFunc) gin.HandlerFunc {
			return func(c *gin.Context) { c.Next() }
		}
	}
	bucket := httpmiddleware.NewSimpleTokenBucket(h.opts.RateLimitPerMin, h.opts.RateLimitPerMin)
	return bucket.GinMiddleware
}

// stationKey charges authenticated requests to the station rather than the IP.
func stationKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Station != "" {
		return "station:" + claims.Station
	}
	return "ip:" + httpmiddleware.ClientIP(c)
}

func securityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
