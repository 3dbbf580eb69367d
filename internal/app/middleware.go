package app

import (
	"github.com/procurelabs/vendorgate-backend/internal/middleware"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type Middleware struct {
	Session *middleware.SessionMiddleware
	CSRF    *middleware.CSRFMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config, services Services) Middleware {
	log.Info("Wiring middleware...")

	cookie := middleware.DefaultCookieConfig()
	cookie.Name = cfg.CookieName
	cookie.Domain = cfg.CookieDomain
	cookie.Secure = cfg.CookieSecure

	csrf := middleware.DefaultCSRFConfig()
	csrf.HeaderName = cfg.CSRFHeaderName

	return Middleware{
		Session: middleware.NewSessionMiddleware(log, services.Sessions, cookie),
		CSRF:    middleware.NewCSRFMiddleware(log, csrf),
	}
}
