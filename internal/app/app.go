package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/procurelabs/vendorgate-backend/internal/db"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	store, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := store.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := store.DB()

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	// Definitions load once at startup; the admin reload endpoint covers
	// later edits.
	if _, err := os.Stat(cfg.DefinitionsDir); err == nil {
		if _, err := serviceset.Loader.LoadDir(context.Background()); err != nil {
			clients.Close()
			log.Sync()
			return nil, fmt.Errorf("load definitions: %w", err)
		}
	} else {
		log.Warn("definitions directory missing, starting with stored definitions only", "dir", cfg.DefinitionsDir)
	}

	mw := wireMiddleware(log, cfg, serviceset)
	handlerset := wireHandlers(log, cfg, serviceset, reposet, mw)
	router := wireRouter(cfg, handlerset, mw)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the background workers: the stream processor and the
// hourly expired-session sweep.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Processor != nil {
		go func() {
			if err := a.Services.Processor.Run(ctx); err != nil {
				a.Log.Error("event processor stopped", "error", err)
			}
		}()
	}

	go a.sweepLoop(ctx)
}

func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Services.Sessions.SweepExpired(ctx)
			if err != nil {
				a.Log.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.Log.Info("swept expired sessions", "deleted", n)
			}
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
