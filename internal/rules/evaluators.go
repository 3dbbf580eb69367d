package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/procurelabs/vendorgate-backend/internal/events"
)

// VendorCountEvaluator awards once the user has produced at least MinCount
// events of the configured type (by default vendor creations).
type VendorCountEvaluator struct {
	MinCount  int64  `json:"min_count"`
	EventType string `json:"event_type"`
}

func NewVendorCountEvaluator(config json.RawMessage) (Rule, error) {
	e := &VendorCountEvaluator{EventType: "vendor.created"}
	if err := applyConfig(config, e); err != nil {
		return nil, err
	}
	if e.MinCount <= 0 {
		return nil, fmt.Errorf("vendor_count: min_count must be positive")
	}
	return e, nil
}

func (e *VendorCountEvaluator) RelevantEventTypes() []string { return []string{e.EventType} }

// Single events never qualify on their own; the aggregate path decides.
func (e *VendorCountEvaluator) CheckEvent(context.Context, *events.Event) DetectionResult {
	return DetectionResult{}
}

func (e *VendorCountEvaluator) CheckAggregate(ctx context.Context, namespace, userID string, store AggregateStore) (DetectionResult, error) {
	count, err := store.CountEvents(ctx, namespace, userID, e.EventType)
	if err != nil {
		return DetectionResult{}, err
	}
	if count < e.MinCount {
		return DetectionResult{}, nil
	}
	return DetectionResult{
		Detected:   true,
		Confidence: 1,
		Evidence:   map[string]any{"count": count, "min_count": e.MinCount},
		Message:    fmt.Sprintf("%s reached %d occurrences", e.EventType, count),
	}, nil
}

func (e *VendorCountEvaluator) Progress(ctx context.Context, namespace, userID string, store AggregateStore) (ProgressView, error) {
	count, err := store.CountEvents(ctx, namespace, userID, e.EventType)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{Current: count, Target: e.MinCount, Percentage: percentage(count, e.MinCount)}, nil
}

// InvoiceVolumeEvaluator awards once the summed amount across the user's
// invoice events reaches MinTotal.
type InvoiceVolumeEvaluator struct {
	MinTotal  float64 `json:"min_total"`
	EventType string  `json:"event_type"`
	Field     string  `json:"field"`
}

func NewInvoiceVolumeEvaluator(config json.RawMessage) (Rule, error) {
	e := &InvoiceVolumeEvaluator{EventType: "invoice.submitted", Field: "amount"}
	if err := applyConfig(config, e); err != nil {
		return nil, err
	}
	if e.MinTotal <= 0 {
		return nil, fmt.Errorf("invoice_volume: min_total must be positive")
	}
	return e, nil
}

func (e *InvoiceVolumeEvaluator) RelevantEventTypes() []string { return []string{e.EventType} }

func (e *InvoiceVolumeEvaluator) CheckEvent(context.Context, *events.Event) DetectionResult {
	return DetectionResult{}
}

func (e *InvoiceVolumeEvaluator) CheckAggregate(ctx context.Context, namespace, userID string, store AggregateStore) (DetectionResult, error) {
	total, err := store.SumEventField(ctx, namespace, userID, e.EventType, e.Field)
	if err != nil {
		return DetectionResult{}, err
	}
	if total < e.MinTotal {
		return DetectionResult{}, nil
	}
	return DetectionResult{
		Detected:   true,
		Confidence: 1,
		Evidence:   map[string]any{"total": total, "min_total": e.MinTotal},
		Message:    fmt.Sprintf("invoice volume reached %.2f", total),
	}, nil
}

func (e *InvoiceVolumeEvaluator) Progress(ctx context.Context, namespace, userID string, store AggregateStore) (ProgressView, error) {
	total, err := store.SumEventField(ctx, namespace, userID, e.EventType, e.Field)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{
		Current:    int64(total),
		Target:     int64(e.MinTotal),
		Percentage: percentage(int64(total), int64(e.MinTotal)),
	}, nil
}

// ChallengeStreakEvaluator awards once the user has completed at least
// MinCompleted challenges. It listens for the completion events the
// challenge service publishes back onto the bus.
type ChallengeStreakEvaluator struct {
	MinCompleted int64 `json:"min_completed"`
}

func NewChallengeStreakEvaluator(config json.RawMessage) (Rule, error) {
	e := &ChallengeStreakEvaluator{}
	if err := applyConfig(config, e); err != nil {
		return nil, err
	}
	if e.MinCompleted <= 0 {
		return nil, fmt.Errorf("challenge_streak: min_completed must be positive")
	}
	return e, nil
}

func (e *ChallengeStreakEvaluator) RelevantEventTypes() []string {
	return []string{"ctf.challenge_completed"}
}

func (e *ChallengeStreakEvaluator) CheckEvent(context.Context, *events.Event) DetectionResult {
	return DetectionResult{}
}

func (e *ChallengeStreakEvaluator) CheckAggregate(ctx context.Context, namespace, userID string, store AggregateStore) (DetectionResult, error) {
	count, err := store.CountCompletedChallenges(ctx, namespace, userID)
	if err != nil {
		return DetectionResult{}, err
	}
	if count < e.MinCompleted {
		return DetectionResult{}, nil
	}
	return DetectionResult{
		Detected:   true,
		Confidence: 1,
		Evidence:   map[string]any{"completed": count, "min_completed": e.MinCompleted},
		Message:    fmt.Sprintf("%d challenges completed", count),
	}, nil
}

func (e *ChallengeStreakEvaluator) Progress(ctx context.Context, namespace, userID string, store AggregateStore) (ProgressView, error) {
	count, err := store.CountCompletedChallenges(ctx, namespace, userID)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{Current: count, Target: e.MinCompleted, Percentage: percentage(count, e.MinCompleted)}, nil
}
