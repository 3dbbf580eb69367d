package app

import (
	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/server"
)

func wireRouter(cfg Config, h Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AllowOrigins:      cfg.AllowOrigins,
		AuthHandler:       h.Auth,
		CTFHandler:        h.CTF,
		AdminHandler:      h.Admin,
		SessionMiddleware: mw.Session,
		CSRFMiddleware:    mw.CSRF,
	})
}
