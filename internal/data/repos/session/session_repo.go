package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/session"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.Session) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Session, error)
	Update(ctx context.Context, tx *gorm.DB, s *types.Session) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id string) error
	// Replace deletes the old record and inserts the new one in a single
	// transaction, so a concurrent reader sees either the fully-old or the
	// fully-new session, never a half-written pair.
	Replace(ctx context.Context, tx *gorm.DB, oldID string, next *types.Session) error
	// SetVendorForUser updates the vendor context on every session owned by
	// the user, keeping concurrent browser tabs in sync.
	SetVendorForUser(ctx context.Context, tx *gorm.DB, userID string, vendorID *uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (sr *sessionRepo) Create(ctx context.Context, tx *gorm.DB, s *types.Session) error {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	return conn.WithContext(ctx).Create(s).Error
}

func (sr *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Session, error) {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	var s types.Session
	err := conn.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (sr *sessionRepo) Update(ctx context.Context, tx *gorm.DB, s *types.Session) error {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	return conn.WithContext(ctx).Save(s).Error
}

func (sr *sessionRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id string) error {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	return conn.WithContext(ctx).Where("id = ?", id).Delete(&types.Session{}).Error
}

func (sr *sessionRepo) Replace(ctx context.Context, tx *gorm.DB, oldID string, next *types.Session) error {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	return conn.WithContext(ctx).Transaction(func(itx *gorm.DB) error {
		if err := itx.Where("id = ?", oldID).Delete(&types.Session{}).Error; err != nil {
			return err
		}
		return itx.Create(next).Error
	})
}

func (sr *sessionRepo) SetVendorForUser(ctx context.Context, tx *gorm.DB, userID string, vendorID *uuid.UUID) (int64, error) {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	res := conn.WithContext(ctx).Model(&types.Session{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"vendor_id": vendorID, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (sr *sessionRepo) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = sr.db
	}
	res := conn.WithContext(ctx).Where("expires_at <= ?", now).Delete(&types.Session{})
	return res.RowsAffected, res.Error
}
