package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dispatch-service/internal/http/middleware"
	"dispatch-service/internal/model"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(handler *Handler, authMiddleware gin.HandlerFunc, store Pinger, env string, log zerolog.Logger) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Observe(log))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		emergencies := protected.Group("/emergencies")
		emergencies.POST("", handler.createEmergency)
		emergencies.GET("/active", handler.listActive)
		emergencies.GET("/mine", handler.listOwn)
		emergencies.GET("/:id", handler.getEmergency)
		emergencies.POST("/:id/assign", handler.assignEmergency)
		emergencies.POST("/:id/status", handler.advanceStatus)
		emergencies.POST("/:id/cancel", handler.cancelEmergency)
		emergencies.POST("/:id/confirm", handler.confirmDirect)
		emergencies.POST("/:id/proxy-confirm", handler.confirmProxy)
		emergencies.POST("/:id/timeout-advance", handler.timeoutAdvance)

		protected.PUT("/units/me/location", handler.updateUnitLocation)
		protected.GET("/units/:id", handler.getUnit)

		protected.PUT("/facilities/me", handler.upsertFacility)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRoles(model.UserRoleAdmin))
		admin.POST("/reconcile", handler.reconcile)
	}

	return router
}
