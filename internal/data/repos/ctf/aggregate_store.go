package ctf

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

// AggregateStore answers the historical questions evaluators ask. It
// satisfies rules.AggregateStore.
type AggregateStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAggregateStore(db *gorm.DB, baseLog *logger.Logger) *AggregateStore {
	return &AggregateStore{db: db, log: baseLog.With("repo", "AggregateStore")}
}

func (as *AggregateStore) CountEvents(ctx context.Context, namespace, userID, eventType string) (int64, error) {
	var n int64
	err := as.db.WithContext(ctx).Model(&types.Event{}).
		Where("namespace = ? AND user_id = ? AND event_type = ?", namespace, userID, eventType).
		Count(&n).Error
	return n, err
}

// SumEventField totals a numeric payload field across the user's events of
// one type. Summed in Go rather than SQL so the payload column stays an
// opaque JSON blob on every dialect.
func (as *AggregateStore) SumEventField(ctx context.Context, namespace, userID, eventType, field string) (float64, error) {
	var rows []*types.Event
	err := as.db.WithContext(ctx).
		Where("namespace = ? AND user_id = ? AND event_type = ?", namespace, userID, eventType).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	var total float64
	for _, row := range rows {
		if len(row.Payload) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			as.log.Warn("unparseable event payload skipped in aggregate", "external_id", row.ExternalID, "error", err)
			continue
		}
		if v, ok := payload[field].(float64); ok {
			total += v
		}
	}
	return total, nil
}

func (as *AggregateStore) CountCompletedChallenges(ctx context.Context, namespace, userID string) (int64, error) {
	var n int64
	err := as.db.WithContext(ctx).Model(&types.ChallengeProgress{}).
		Where("namespace = ? AND user_id = ? AND status = ?", namespace, userID, types.ProgressStatusCompleted).
		Count(&n).Error
	return n, err
}
