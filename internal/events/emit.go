package events

import (
	"context"
	"time"
)

// EmissionMeta describes the instrumented operation for the start, success
// and failure events emitted around it.
type EmissionMeta struct {
	Stream     string
	Category   string
	Type       string
	Namespace  string
	UserID     string
	SessionID  string
	WorkflowID string
	AgentName  string
	ToolName   string
	Summary    string
}

// WithEventEmission wraps an operation so every invocation emits a start
// event, then a success or failure event carrying the elapsed duration.
// Publish failures never fail the wrapped operation.
func WithEventEmission(bus Bus, meta EmissionMeta, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		emit(ctx, bus, meta, "start", 0, nil)
		started := time.Now()
		err := fn(ctx)
		elapsed := time.Since(started)
		if err != nil {
			emit(ctx, bus, meta, "failure", elapsed, err)
			return err
		}
		emit(ctx, bus, meta, "success", elapsed, nil)
		return nil
	}
}

func emit(ctx context.Context, bus Bus, meta EmissionMeta, phase string, elapsed time.Duration, opErr error) {
	if bus == nil {
		return
	}
	payload := map[string]any{}
	if meta.AgentName != "" {
		payload["agent_name"] = meta.AgentName
	}
	if meta.ToolName != "" {
		payload["tool_name"] = meta.ToolName
	}
	if phase != "start" {
		payload["duration_ms"] = elapsed.Milliseconds()
	}
	if opErr != nil {
		payload["error"] = opErr.Error()
	}
	stream := meta.Stream
	if stream == "" {
		stream = StreamAgentEvents
	}
	_ = bus.Publish(ctx, stream, &Event{
		Category:   meta.Category,
		Type:       meta.Type,
		Subtype:    phase,
		Namespace:  meta.Namespace,
		UserID:     meta.UserID,
		SessionID:  meta.SessionID,
		WorkflowID: meta.WorkflowID,
		Summary:    meta.Summary,
		Payload:    payload,
	})
}
