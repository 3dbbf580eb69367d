package ctf

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type ProgressRepo interface {
	Get(ctx context.Context, tx *gorm.DB, namespace, userID, challengeID string) (*types.ChallengeProgress, error)
	Create(ctx context.Context, tx *gorm.DB, p *types.ChallengeProgress) error
	Update(ctx context.Context, tx *gorm.DB, p *types.ChallengeProgress) error
	ListByUser(ctx context.Context, tx *gorm.DB, namespace, userID string) ([]*types.ChallengeProgress, error)
	CountCompleted(ctx context.Context, tx *gorm.DB, namespace, userID string) (int64, error)
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (pr *progressRepo) Get(ctx context.Context, tx *gorm.DB, namespace, userID, challengeID string) (*types.ChallengeProgress, error) {
	conn := tx
	if conn == nil {
		conn = pr.db
	}
	var p types.ChallengeProgress
	err := conn.WithContext(ctx).
		Where("namespace = ? AND user_id = ? AND challenge_id = ?", namespace, userID, challengeID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (pr *progressRepo) Create(ctx context.Context, tx *gorm.DB, p *types.ChallengeProgress) error {
	conn := tx
	if conn == nil {
		conn = pr.db
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if len(p.Evidence) == 0 {
		p.Evidence = datatypes.JSON([]byte("{}"))
	}
	return conn.WithContext(ctx).Create(p).Error
}

func (pr *progressRepo) Update(ctx context.Context, tx *gorm.DB, p *types.ChallengeProgress) error {
	conn := tx
	if conn == nil {
		conn = pr.db
	}
	p.UpdatedAt = time.Now().UTC()
	return conn.WithContext(ctx).Save(p).Error
}

func (pr *progressRepo) ListByUser(ctx context.Context, tx *gorm.DB, namespace, userID string) ([]*types.ChallengeProgress, error) {
	conn := tx
	if conn == nil {
		conn = pr.db
	}
	var out []*types.ChallengeProgress
	err := conn.WithContext(ctx).
		Where("namespace = ? AND user_id = ?", namespace, userID).
		Order("challenge_id ASC").
		Find(&out).Error
	return out, err
}

func (pr *progressRepo) CountCompleted(ctx context.Context, tx *gorm.DB, namespace, userID string) (int64, error) {
	conn := tx
	if conn == nil {
		conn = pr.db
	}
	var n int64
	err := conn.WithContext(ctx).Model(&types.ChallengeProgress{}).
		Where("namespace = ? AND user_id = ? AND status = ?", namespace, userID, types.ProgressStatusCompleted).
		Count(&n).Error
	return n, err
}
