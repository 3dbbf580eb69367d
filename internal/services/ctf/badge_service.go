package ctf

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	"github.com/procurelabs/vendorgate-backend/internal/rules"
)

// BadgeStatus merges a definition with the user's award state and the
// evaluator's progress projection.
type BadgeStatus struct {
	Definition *types.BadgeDefinition `json:"definition"`
	Earned     bool                   `json:"earned"`
	EarnedAt   *time.Time             `json:"earned_at,omitempty"`
	Progress   rules.ProgressView     `json:"progress"`
}

type BadgeService interface {
	// HandleEvent runs every active badge definition whose evaluator finds
	// the event relevant. Awards are insert-once; replays are no-ops.
	HandleEvent(ctx context.Context, ev *events.Event) error
	Overview(ctx context.Context, namespace, userID string) ([]*BadgeStatus, error)
	InvalidateCache()
}

type badgeService struct {
	db       *gorm.DB
	log      *logger.Logger
	defs     ctfrepos.DefinitionRepo
	awards   ctfrepos.BadgeRepo
	registry *rules.Registry
	store    rules.AggregateStore
	bus      events.Bus

	mu    sync.RWMutex
	cache map[string]rules.Evaluator
}

func NewBadgeService(db *gorm.DB, baseLog *logger.Logger, defs ctfrepos.DefinitionRepo, awards ctfrepos.BadgeRepo, registry *rules.Registry, store rules.AggregateStore, bus events.Bus) BadgeService {
	return &badgeService{
		db:       db,
		log:      baseLog.With("service", "BadgeService"),
		defs:     defs,
		awards:   awards,
		registry: registry,
		store:    store,
		bus:      bus,
		cache:    make(map[string]rules.Evaluator),
	}
}

func (bs *badgeService) HandleEvent(ctx context.Context, ev *events.Event) error {
	defs, err := bs.defs.ListActiveBadges(ctx, nil)
	if err != nil {
		return fmt.Errorf("list badge definitions: %w", err)
	}
	// Same full scan as the challenge side; see the note there.
	for _, def := range defs {
		bs.checkDefinition(ctx, def, ev)
	}
	return nil
}

func (bs *badgeService) checkDefinition(ctx context.Context, def *types.BadgeDefinition, ev *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			bs.log.Error("evaluator panicked", "badge_id", def.ID, "event_type", ev.Type, "panic", r)
		}
	}()

	eval, err := bs.evaluatorFor(def)
	if err != nil {
		bs.log.Warn("badge definition is inert", "badge_id", def.ID, "evaluator_class", def.EvaluatorClass, "error", err)
		return
	}
	if !rules.MatchesType(eval.RelevantEventTypes(), ev.Type) {
		return
	}

	awarded := false
	err = bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := bs.awards.Exists(ctx, tx, ev.Namespace, ev.UserID, def.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		res := eval.CheckEvent(ctx, ev)
		if !res.Detected {
			res, err = eval.CheckAggregate(ctx, ev.Namespace, ev.UserID, bs.store)
			if err != nil {
				return err
			}
		}
		if !res.Detected {
			return nil
		}

		evidence, err := json.Marshal(map[string]any{
			"confidence":        res.Confidence,
			"message":           res.Message,
			"details":           res.Evidence,
			"event_external_id": ev.ExternalID(),
		})
		if err != nil {
			return err
		}
		awarded, err = bs.awards.AwardOnce(ctx, tx, &types.BadgeAward{
			Namespace: ev.Namespace,
			UserID:    ev.UserID,
			BadgeID:   def.ID,
			Evidence:  datatypes.JSON(evidence),
		})
		return err
	})
	if err != nil {
		bs.log.Error("badge evaluation failed", "badge_id", def.ID, "event_type", ev.Type, "error", err)
		return
	}

	if awarded {
		bs.log.Info("badge awarded", "badge_id", def.ID, "namespace", ev.Namespace, "user_id", ev.UserID)
		if bs.bus != nil {
			_ = bs.bus.Publish(ctx, events.StreamBusinessEvents, &events.Event{
				Category:  events.CategoryBusiness,
				Type:      "ctf.badge_awarded",
				Namespace: ev.Namespace,
				UserID:    ev.UserID,
				SessionID: ev.SessionID,
				Summary:   fmt.Sprintf("badge %s awarded", def.ID),
				Payload:   map[string]any{"badge_id": def.ID, "rarity": def.Rarity},
			})
		}
	}
}

func (bs *badgeService) Overview(ctx context.Context, namespace, userID string) ([]*BadgeStatus, error) {
	defs, err := bs.defs.ListActiveBadges(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows, err := bs.awards.ListByUser(ctx, nil, namespace, userID)
	if err != nil {
		return nil, err
	}
	earnedAt := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		earnedAt[r.BadgeID] = r.EarnedAt
	}

	out := make([]*BadgeStatus, 0, len(defs))
	for _, def := range defs {
		st := &BadgeStatus{Definition: def}
		if at, ok := earnedAt[def.ID]; ok {
			st.Earned = true
			t := at
			st.EarnedAt = &t
			st.Progress = rules.ProgressView{Current: 1, Target: 1, Percentage: 100}
			out = append(out, st)
			continue
		}
		if eval, err := bs.evaluatorFor(def); err == nil {
			if p, err := eval.Progress(ctx, namespace, userID, bs.store); err == nil {
				st.Progress = p
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (bs *badgeService) InvalidateCache() {
	bs.mu.Lock()
	bs.cache = make(map[string]rules.Evaluator)
	bs.mu.Unlock()
}

func (bs *badgeService) evaluatorFor(def *types.BadgeDefinition) (rules.Evaluator, error) {
	key := fmt.Sprintf("%s@%d", def.ID, def.Version)
	bs.mu.RLock()
	eval, ok := bs.cache[key]
	bs.mu.RUnlock()
	if ok {
		return eval, nil
	}
	eval, err := bs.registry.NewEvaluator(def.EvaluatorClass, json.RawMessage(def.EvaluatorConfig))
	if err != nil {
		return nil, err
	}
	bs.mu.Lock()
	bs.cache[key] = eval
	bs.mu.Unlock()
	return eval, nil
}
