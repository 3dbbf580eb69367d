package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/handlers"
	"github.com/procurelabs/vendorgate-backend/internal/middleware"
)

type RouterConfig struct {
	AllowOrigins []string

	AuthHandler  *handlers.AuthHandler
	CTFHandler   *handlers.CTFHandler
	AdminHandler *handlers.AdminHandler

	SessionMiddleware *middleware.SessionMiddleware
	CSRFMiddleware    *middleware.CSRFMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", "X-CSRF-Token", "X-Admin-Token"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Session bootstrap and magic-link sign-in run before a session
		// necessarily exists, so they take the optional variant.
		open := api.Group("/")
		open.Use(cfg.SessionMiddleware.OptionalSession())
		open.POST("/session", cfg.AuthHandler.Bootstrap)
		open.POST("/auth/magic-link", cfg.AuthHandler.RequestMagicLink)
		open.POST("/auth/magic-link/consume", cfg.AuthHandler.ConsumeMagicLink)
		open.POST("/logout", cfg.AuthHandler.Logout)

		// ===============
		// || Protected ||
		// ===============
		protected := api.Group("/")
		protected.Use(cfg.SessionMiddleware.RequireSession())
		protected.Use(cfg.CSRFMiddleware.Protect())
		// Session
		protected.GET("/session/me", cfg.AuthHandler.Me)
		protected.GET("/session/fingerprints", cfg.AuthHandler.Fingerprints)
		protected.POST("/vendor-context", cfg.AuthHandler.SwitchVendorContext)
		// CTF
		protected.GET("/ctf/challenges", cfg.CTFHandler.Challenges)
		protected.GET("/ctf/badges", cfg.CTFHandler.Badges)
		protected.GET("/ctf/events", cfg.CTFHandler.RecentEvents)
	}

	// ===============
	// || Admin     ||
	// ===============
	admin := router.Group("/admin")
	admin.Use(cfg.AdminHandler.RequireAdmin())
	admin.POST("/definitions/reload", cfg.AdminHandler.ReloadDefinitions)

	return router
}
