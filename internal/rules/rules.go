package rules

import (
	"context"
	"strings"

	"github.com/procurelabs/vendorgate-backend/internal/events"
)

// DetectionResult is a single rule judgment. Confidence is 0..1; Evidence
// carries whatever the rule wants persisted alongside a completion/award.
type DetectionResult struct {
	Detected   bool           `json:"detected"`
	Confidence float64        `json:"confidence"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// ProgressView is a read-only projection for UI display.
type ProgressView struct {
	Current    int64   `json:"current"`
	Target     int64   `json:"target"`
	Percentage float64 `json:"percentage"`
}

// AggregateStore answers historical questions on the slow path. Implemented
// by the relational store adapter.
type AggregateStore interface {
	CountEvents(ctx context.Context, namespace, userID, eventType string) (int64, error)
	SumEventField(ctx context.Context, namespace, userID, eventType, field string) (float64, error)
	CountCompletedChallenges(ctx context.Context, namespace, userID string) (int64, error)
}

// Rule is the shared shape of both families. CheckEvent must be fast and
// synchronous; CheckAggregate may query the store. Rules are stateless
// after construction and safe to share across events.
type Rule interface {
	// RelevantEventTypes returns exact types or prefix wildcards
	// ("agent.*"); the processor uses them as a cheap pre-filter.
	RelevantEventTypes() []string
	CheckEvent(ctx context.Context, ev *events.Event) DetectionResult
	CheckAggregate(ctx context.Context, namespace, userID string, store AggregateStore) (DetectionResult, error)
	Progress(ctx context.Context, namespace, userID string, store AggregateStore) (ProgressView, error)
}

// Detector judges single events for challenge completion.
type Detector interface{ Rule }

// Evaluator judges aggregate state for badge awards.
type Evaluator interface{ Rule }

// MatchesType reports whether the event type matches any pattern. A
// trailing ".*" (or bare "*") matches by prefix; anything else is exact.
func MatchesType(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(eventType, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == eventType {
			return true
		}
	}
	return false
}

func percentage(current, target int64) float64 {
	if target <= 0 {
		return 0
	}
	pct := float64(current) / float64(target) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
