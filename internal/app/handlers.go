package app

import (
	"github.com/procurelabs/vendorgate-backend/internal/handlers"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type Handlers struct {
	Auth  *handlers.AuthHandler
	CTF   *handlers.CTFHandler
	Admin *handlers.AdminHandler
}

func wireHandlers(log *logger.Logger, cfg Config, services Services, repos Repos, mw Middleware) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:  handlers.NewAuthHandler(log, services.Sessions, mw.Session, cfg.EchoMagicLinks),
		CTF:   handlers.NewCTFHandler(services.Challenges, services.Badges, repos.Event),
		Admin: handlers.NewAdminHandler(log, services.Loader, services.Challenges, services.Badges, cfg.AdminToken),
	}
}
