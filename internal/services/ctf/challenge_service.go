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

// ChallengeStatus merges a definition with the user's progress for display.
type ChallengeStatus struct {
	Definition  *types.ChallengeDefinition `json:"definition"`
	Status      string                     `json:"status"`
	Attempts    int                        `json:"attempts"`
	HintsUsed   int                        `json:"hints_used"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

type ChallengeService interface {
	// HandleEvent runs every active challenge definition against the event.
	// Idempotent: replaying an event against an already-completed challenge
	// is a no-op.
	HandleEvent(ctx context.Context, ev *events.Event) error
	Overview(ctx context.Context, namespace, userID string) ([]*ChallengeStatus, error)
	// InvalidateCache drops cached rule instances; call after definitions
	// reload. Not synchronized against in-flight evaluations: a brief
	// window of stale-rule use is accepted.
	InvalidateCache()
}

type challengeService struct {
	db       *gorm.DB
	log      *logger.Logger
	defs     ctfrepos.DefinitionRepo
	progress ctfrepos.ProgressRepo
	registry *rules.Registry
	bus      events.Bus

	mu    sync.RWMutex
	cache map[string]rules.Detector
}

func NewChallengeService(db *gorm.DB, baseLog *logger.Logger, defs ctfrepos.DefinitionRepo, progress ctfrepos.ProgressRepo, registry *rules.Registry, bus events.Bus) ChallengeService {
	return &challengeService{
		db:       db,
		log:      baseLog.With("service", "ChallengeService"),
		defs:     defs,
		progress: progress,
		registry: registry,
		bus:      bus,
		cache:    make(map[string]rules.Detector),
	}
}

func (cs *challengeService) HandleEvent(ctx context.Context, ev *events.Event) error {
	defs, err := cs.defs.ListActiveChallenges(ctx, nil)
	if err != nil {
		return fmt.Errorf("list challenge definitions: %w", err)
	}

	// Every event is checked against every active definition. O(events x
	// definitions), fine at current catalog sizes; an event-type index
	// would need to keep the wildcard semantics.
	for _, def := range defs {
		cs.checkDefinition(ctx, def, ev)
	}
	return nil
}

// checkDefinition never lets one broken rule abort the rest of the batch.
func (cs *challengeService) checkDefinition(ctx context.Context, def *types.ChallengeDefinition, ev *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			cs.log.Error("detector panicked", "challenge_id", def.ID, "event_type", ev.Type, "panic", r)
		}
	}()

	det, err := cs.detectorFor(def)
	if err != nil {
		cs.log.Warn("challenge definition is inert", "challenge_id", def.ID, "detector_class", def.DetectorClass, "error", err)
		return
	}
	if !rules.MatchesType(det.RelevantEventTypes(), ev.Type) {
		return
	}

	completed := false
	err = cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := cs.progress.Get(ctx, tx, ev.Namespace, ev.UserID, def.ID)
		if err != nil {
			return err
		}
		if p != nil && p.Status == types.ProgressStatusCompleted {
			return nil
		}

		now := time.Now().UTC()
		if p == nil {
			p = &types.ChallengeProgress{
				Namespace:   ev.Namespace,
				UserID:      ev.UserID,
				ChallengeID: def.ID,
				Status:      types.ProgressStatusAvailable,
			}
			if err := cs.progress.Create(ctx, tx, p); err != nil {
				return err
			}
		}

		res := det.CheckEvent(ctx, ev)

		p.Attempts++
		if p.FirstAttemptAt == nil {
			p.FirstAttemptAt = &now
		}

		if res.Detected {
			elapsed := now.Sub(*p.FirstAttemptAt)
			evidence, err := json.Marshal(map[string]any{
				"confidence":        res.Confidence,
				"message":           res.Message,
				"details":           res.Evidence,
				"event_external_id": ev.ExternalID(),
				"elapsed_ms":        elapsed.Milliseconds(),
			})
			if err != nil {
				return err
			}
			p.Status = types.ProgressStatusCompleted
			p.CompletedAt = &now
			p.Evidence = datatypes.JSON(evidence)
			completed = true
		} else {
			p.Failures++
			p.Status = types.ProgressStatusInProgress
		}
		return cs.progress.Update(ctx, tx, p)
	})
	if err != nil {
		cs.log.Error("challenge evaluation failed", "challenge_id", def.ID, "event_type", ev.Type, "error", err)
		return
	}

	if completed {
		cs.log.Info("challenge completed", "challenge_id", def.ID, "namespace", ev.Namespace, "user_id", ev.UserID)
		if cs.bus != nil {
			_ = cs.bus.Publish(ctx, events.StreamBusinessEvents, &events.Event{
				Category:  events.CategoryBusiness,
				Type:      "ctf.challenge_completed",
				Namespace: ev.Namespace,
				UserID:    ev.UserID,
				SessionID: ev.SessionID,
				Summary:   fmt.Sprintf("challenge %s completed", def.ID),
				Payload:   map[string]any{"challenge_id": def.ID, "points": def.Points},
			})
		}
	}
}

func (cs *challengeService) Overview(ctx context.Context, namespace, userID string) ([]*ChallengeStatus, error) {
	defs, err := cs.defs.ListActiveChallenges(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows, err := cs.progress.ListByUser(ctx, nil, namespace, userID)
	if err != nil {
		return nil, err
	}
	byChallenge := make(map[string]*types.ChallengeProgress, len(rows))
	for _, r := range rows {
		byChallenge[r.ChallengeID] = r
	}

	out := make([]*ChallengeStatus, 0, len(defs))
	for _, def := range defs {
		st := &ChallengeStatus{Definition: def, Status: types.ProgressStatusAvailable}
		if p, ok := byChallenge[def.ID]; ok {
			st.Status = p.Status
			st.Attempts = p.Attempts
			st.HintsUsed = p.HintsUsed
			st.CompletedAt = p.CompletedAt
		}
		out = append(out, st)
	}
	return out, nil
}

func (cs *challengeService) InvalidateCache() {
	cs.mu.Lock()
	cs.cache = make(map[string]rules.Detector)
	cs.mu.Unlock()
}

func (cs *challengeService) detectorFor(def *types.ChallengeDefinition) (rules.Detector, error) {
	key := fmt.Sprintf("%s@%d", def.ID, def.Version)
	cs.mu.RLock()
	det, ok := cs.cache[key]
	cs.mu.RUnlock()
	if ok {
		return det, nil
	}
	det, err := cs.registry.NewDetector(def.DetectorClass, json.RawMessage(def.DetectorConfig))
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	cs.cache[key] = det
	cs.mu.Unlock()
	return det, nil
}
