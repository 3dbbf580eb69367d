package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/session"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

var (
	ErrLinkNotFound = errors.New("magic link not found")
	ErrLinkExpired  = errors.New("magic link expired")
	ErrLinkUsed     = errors.New("magic link already used")
)

type MagicLinkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, link *types.MagicLink) error
	GetByToken(ctx context.Context, tx *gorm.DB, token string) (*types.MagicLink, error)
	// Consume marks the link used. The transition is a single conditional
	// update: it succeeds exactly once per link, concurrent consumers lose.
	Consume(ctx context.Context, tx *gorm.DB, token string, now time.Time) (*types.MagicLink, error)
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type magicLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMagicLinkRepo(db *gorm.DB, baseLog *logger.Logger) MagicLinkRepo {
	return &magicLinkRepo{db: db, log: baseLog.With("repo", "MagicLinkRepo")}
}

func (mr *magicLinkRepo) Create(ctx context.Context, tx *gorm.DB, link *types.MagicLink) error {
	conn := tx
	if conn == nil {
		conn = mr.db
	}
	return conn.WithContext(ctx).Create(link).Error
}

func (mr *magicLinkRepo) GetByToken(ctx context.Context, tx *gorm.DB, token string) (*types.MagicLink, error) {
	conn := tx
	if conn == nil {
		conn = mr.db
	}
	var link types.MagicLink
	err := conn.WithContext(ctx).Where("token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (mr *magicLinkRepo) Consume(ctx context.Context, tx *gorm.DB, token string, now time.Time) (*types.MagicLink, error) {
	conn := tx
	if conn == nil {
		conn = mr.db
	}
	res := conn.WithContext(ctx).Model(&types.MagicLink{}).
		Where("token = ? AND used_at IS NULL AND expires_at > ?", token, now).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return mr.GetByToken(ctx, tx, token)
	}

	// The conditional update missed; report why.
	existing, err := mr.GetByToken(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil:
		return nil, ErrLinkNotFound
	case existing.UsedAt != nil:
		return nil, ErrLinkUsed
	default:
		return nil, ErrLinkExpired
	}
}

func (mr *magicLinkRepo) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = mr.db
	}
	res := conn.WithContext(ctx).Where("expires_at <= ?", now).Delete(&types.MagicLink{})
	return res.RowsAffected, res.Error
}
