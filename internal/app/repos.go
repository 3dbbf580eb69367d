package app

import (
	"gorm.io/gorm"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	sessionrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/session"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type Repos struct {
	Session   sessionrepos.SessionRepo
	MagicLink sessionrepos.MagicLinkRepo

	Event      ctfrepos.EventRepo
	Definition ctfrepos.DefinitionRepo
	Progress   ctfrepos.ProgressRepo
	Badge      ctfrepos.BadgeRepo
	Aggregates *ctfrepos.AggregateStore
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Session:    sessionrepos.NewSessionRepo(db, log),
		MagicLink:  sessionrepos.NewMagicLinkRepo(db, log),
		Event:      ctfrepos.NewEventRepo(db, log),
		Definition: ctfrepos.NewDefinitionRepo(db, log),
		Progress:   ctfrepos.NewProgressRepo(db, log),
		Badge:      ctfrepos.NewBadgeRepo(db, log),
		Aggregates: ctfrepos.NewAggregateStore(db, log),
	}
}
