package ctf

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

// Definitions are upserted from declarative files, keyed by their slug id.
// Re-loading identical content is a no-op; changed content overwrites. Only
// this repo needs to know how the dialect spells the upsert.
type DefinitionRepo interface {
	UpsertChallenge(ctx context.Context, tx *gorm.DB, def *types.ChallengeDefinition) error
	UpsertBadge(ctx context.Context, tx *gorm.DB, def *types.BadgeDefinition) error
	ListActiveChallenges(ctx context.Context, tx *gorm.DB) ([]*types.ChallengeDefinition, error)
	ListActiveBadges(ctx context.Context, tx *gorm.DB) ([]*types.BadgeDefinition, error)
	GetChallenge(ctx context.Context, tx *gorm.DB, id string) (*types.ChallengeDefinition, error)
	GetBadge(ctx context.Context, tx *gorm.DB, id string) (*types.BadgeDefinition, error)
}

type definitionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDefinitionRepo(db *gorm.DB, baseLog *logger.Logger) DefinitionRepo {
	return &definitionRepo{db: db, log: baseLog.With("repo", "DefinitionRepo")}
}

func (dr *definitionRepo) UpsertChallenge(ctx context.Context, tx *gorm.DB, def *types.ChallengeDefinition) error {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	def.UpdatedAt = time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = def.UpdatedAt
	}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"version", "title", "description", "category", "difficulty",
				"points", "detector_class", "detector_config", "active", "updated_at",
			}),
		}).
		Create(def).Error
}

func (dr *definitionRepo) UpsertBadge(ctx context.Context, tx *gorm.DB, def *types.BadgeDefinition) error {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	def.UpdatedAt = time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = def.UpdatedAt
	}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"version", "title", "description", "rarity",
				"evaluator_class", "evaluator_config", "active", "updated_at",
			}),
		}).
		Create(def).Error
}

func (dr *definitionRepo) ListActiveChallenges(ctx context.Context, tx *gorm.DB) ([]*types.ChallengeDefinition, error) {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	var out []*types.ChallengeDefinition
	err := conn.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}

func (dr *definitionRepo) ListActiveBadges(ctx context.Context, tx *gorm.DB) ([]*types.BadgeDefinition, error) {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	var out []*types.BadgeDefinition
	err := conn.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}

func (dr *definitionRepo) GetChallenge(ctx context.Context, tx *gorm.DB, id string) (*types.ChallengeDefinition, error) {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	var def types.ChallengeDefinition
	err := conn.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (dr *definitionRepo) GetBadge(ctx context.Context, tx *gorm.DB, id string) (*types.BadgeDefinition, error) {
	conn := tx
	if conn == nil {
		conn = dr.db
	}
	var def types.BadgeDefinition
	err := conn.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}
