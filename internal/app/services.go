package app

import (
	"gorm.io/gorm"

	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	"github.com/procurelabs/vendorgate-backend/internal/processor"
	"github.com/procurelabs/vendorgate-backend/internal/rules"
	ctfservices "github.com/procurelabs/vendorgate-backend/internal/services/ctf"
	sessionsvc "github.com/procurelabs/vendorgate-backend/internal/services/session"
)

type Services struct {
	Sessions   sessionsvc.Manager
	Challenges ctfservices.ChallengeService
	Badges     ctfservices.BadgeService
	Loader     *ctfservices.Loader
	Registry   *rules.Registry
	Processor  *processor.Processor

	InvoiceReview *InvoiceReviewConfig
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	registry := rules.NewRegistry()
	if err := rules.RegisterBuiltins(registry); err != nil {
		return Services{}, err
	}

	// The redis client may be absent; services take the bus as nil and
	// degrade to log-only emission.
	var bus events.Bus
	if clients.Streams != nil {
		bus = clients.Streams
	}

	sessionCfg := sessionsvc.DefaultConfig(cfg.MasterSecret)
	sessions, err := sessionsvc.NewManager(db, log, repos.Session, repos.MagicLink, bus, sessionCfg)
	if err != nil {
		return Services{}, err
	}

	challenges := ctfservices.NewChallengeService(db, log, repos.Definition, repos.Progress, registry, bus)
	badges := ctfservices.NewBadgeService(db, log, repos.Definition, repos.Badge, registry, repos.Aggregates, bus)
	loader := ctfservices.NewLoader(log, repos.Definition, registry, cfg.DefinitionsDir)

	invoiceReview, err := LoadInvoiceReviewConfig(cfg.InvoiceConfigPath)
	if err != nil {
		return Services{}, err
	}

	var proc *processor.Processor
	if clients.Streams != nil {
		procCfg := processor.DefaultConfig()
		procCfg.Lookback = cfg.ProcessorLookback
		procCfg.Consumer = cfg.ProcessorConsumer
		procCfg.MinIdle = cfg.ProcessorMinIdle
		proc = processor.New(log, clients.Streams, repos.Event, challenges, badges, procCfg)
	}

	return Services{
		Sessions:      sessions,
		Challenges:    challenges,
		Badges:        badges,
		Loader:        loader,
		Registry:      registry,
		Processor:     proc,
		InvoiceReview: invoiceReview,
	}, nil
}
