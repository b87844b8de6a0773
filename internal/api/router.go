// Package api assembles the HTTP surface.
package api

import (
	"net/http"
	"time"

	"face-attendance/internal/api/handlers"
	"face-attendance/internal/api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const sessionName = "face_attendance"

// RouterConfig holds what NewRouter needs besides the API handler.
type RouterConfig struct {
	CORSOrigins   []string
	SessionSecret string
	Translator    *middleware.Translator
	// Events streams server-sent events; nil disables /api/events.
	Events gin.HandlerFunc
	// Metrics serves Prometheus; nil disables /metrics.
	Metrics http.Handler
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *handlers.APIHandler, rc RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger())
	router.Use(cors.New(corsConfig(rc.CORSOrigins)))

	store := cookie.NewStore([]byte(rc.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 30 * 24 * 3600, HttpOnly: true})
	router.Use(sessions.Sessions(sessionName, store))
	router.Use(middleware.I18n(rc.Translator))

	api := router.Group("/api")
	h.RegisterRoutes(api)
	if rc.Events != nil {
		api.GET("/events", rc.Events)
	}
	if rc.Metrics != nil {
		router.GET("/metrics", gin.WrapH(rc.Metrics))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Accept-Language", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
