package ctf

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type BadgeRepo interface {
	// AwardOnce inserts the award unless one already exists for the
	// (namespace, user, badge) triple. Returns true when a row was written.
	AwardOnce(ctx context.Context, tx *gorm.DB, award *types.BadgeAward) (bool, error)
	Exists(ctx context.Context, tx *gorm.DB, namespace, userID, badgeID string) (bool, error)
	ListByUser(ctx context.Context, tx *gorm.DB, namespace, userID string) ([]*types.BadgeAward, error)
}

type badgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBadgeRepo(db *gorm.DB, baseLog *logger.Logger) BadgeRepo {
	return &badgeRepo{db: db, log: baseLog.With("repo", "BadgeRepo")}
}

func (br *badgeRepo) AwardOnce(ctx context.Context, tx *gorm.DB, award *types.BadgeAward) (bool, error) {
	conn := tx
	if conn == nil {
		conn = br.db
	}
	if award.ID == uuid.Nil {
		award.ID = uuid.New()
	}
	now := time.Now().UTC()
	if award.EarnedAt.IsZero() {
		award.EarnedAt = now
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = now
	}
	if len(award.Evidence) == 0 {
		award.Evidence = datatypes.JSON([]byte("{}"))
	}
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "user_id"}, {Name: "badge_id"}},
			DoNothing: true,
		}).
		Create(award)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (br *badgeRepo) Exists(ctx context.Context, tx *gorm.DB, namespace, userID, badgeID string) (bool, error) {
	conn := tx
	if conn == nil {
		conn = br.db
	}
	var n int64
	err := conn.WithContext(ctx).Model(&types.BadgeAward{}).
		Where("namespace = ? AND user_id = ? AND badge_id = ?", namespace, userID, badgeID).
		Count(&n).Error
	return n > 0, err
}

func (br *badgeRepo) ListByUser(ctx context.Context, tx *gorm.DB, namespace, userID string) ([]*types.BadgeAward, error) {
	conn := tx
	if conn == nil {
		conn = br.db
	}
	var out []*types.BadgeAward
	err := conn.WithContext(ctx).
		Where("namespace = ? AND user_id = ?", namespace, userID).
		Order("earned_at DESC").
		Find(&out).Error
	return out, err
}
