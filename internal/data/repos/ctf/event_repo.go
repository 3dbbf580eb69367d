package ctf

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type EventRepo interface {
	// InsertDedup persists the normalized event unless a row with the same
	// external id already exists. Returns true when a new row was written.
	InsertDedup(ctx context.Context, tx *gorm.DB, ev *types.Event) (bool, error)
	ListRecent(ctx context.Context, tx *gorm.DB, namespace string, limit int) ([]*types.Event, error)
	ListByTypeSince(ctx context.Context, tx *gorm.DB, namespace, eventType string, since time.Time) ([]*types.Event, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{db: db, log: baseLog.With("repo", "EventRepo")}
}

func (er *eventRepo) InsertDedup(ctx context.Context, tx *gorm.DB, ev *types.Event) (bool, error) {
	conn := tx
	if conn == nil {
		conn = er.db
	}
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (er *eventRepo) ListRecent(ctx context.Context, tx *gorm.DB, namespace string, limit int) ([]*types.Event, error) {
	conn := tx
	if conn == nil {
		conn = er.db
	}
	var out []*types.Event
	err := conn.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (er *eventRepo) ListByTypeSince(ctx context.Context, tx *gorm.DB, namespace, eventType string, since time.Time) ([]*types.Event, error) {
	conn := tx
	if conn == nil {
		conn = er.db
	}
	var out []*types.Event
	err := conn.WithContext(ctx).
		Where("namespace = ? AND event_type = ? AND occurred_at >= ?", namespace, eventType, since).
		Order("occurred_at ASC").
		Find(&out).Error
	return out, err
}
