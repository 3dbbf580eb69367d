package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	CategoryBusiness = "business"
	CategoryAgent    = "agent"
)

const (
	StreamAgentEvents    = "agent_events"
	StreamBusinessEvents = "business_events"
)

// Event is one message on the bus. Every event is namespace-scoped;
// Timestamp is assigned at publish time.
type Event struct {
	Category   string         `json:"category"`
	Type       string         `json:"type"`
	Subtype    string         `json:"subtype,omitempty"`
	Namespace  string         `json:"namespace"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ExternalID derives the idempotency key for the persisted copy of this
// event: an explicit event_id from the payload when the producer set one,
// otherwise publish-timestamp plus type.
func (e *Event) ExternalID() string {
	if id, ok := e.Payload["event_id"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%d:%s", e.Timestamp.UnixNano(), e.Type)
}

// Reserved wire keys. Anything else on a message is treated as a payload
// field, which keeps old decoders compatible with new producer fields.
const (
	wireCategory   = "category"
	wireType       = "type"
	wireSubtype    = "subtype"
	wireNamespace  = "namespace"
	wireUserID     = "user_id"
	wireSessionID  = "session_id"
	wireWorkflowID = "workflow_id"
	wireSummary    = "summary"
	wireTimestamp  = "timestamp"
)

// EncodeWire flattens the event into the stream transport's string-keyed
// map. Plain strings pass through unencoded; everything else is JSON.
func EncodeWire(e *Event) (map[string]string, error) {
	values := map[string]string{
		wireCategory:  e.Category,
		wireType:      e.Type,
		wireNamespace: e.Namespace,
		wireTimestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Subtype != "" {
		values[wireSubtype] = e.Subtype
	}
	if e.UserID != "" {
		values[wireUserID] = e.UserID
	}
	if e.SessionID != "" {
		values[wireSessionID] = e.SessionID
	}
	if e.WorkflowID != "" {
		values[wireWorkflowID] = e.WorkflowID
	}
	if e.Summary != "" {
		values[wireSummary] = e.Summary
	}
	for k, v := range e.Payload {
		if isReservedWireKey(k) {
			continue
		}
		if s, ok := v.(string); ok {
			values[k] = s
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload field %q: %w", k, err)
		}
		values[k] = string(raw)
	}
	return values, nil
}

// DecodeWire rebuilds an event from a stream entry. Every non-reserved
// field is JSON-parsed when possible and kept as a plain string otherwise,
// so a decoder built before a new producer field still round-trips it.
func DecodeWire(values map[string]string) (*Event, error) {
	e := &Event{Payload: map[string]any{}}
	for k, v := range values {
		switch k {
		case wireCategory:
			e.Category = v
		case wireType:
			e.Type = v
		case wireSubtype:
			e.Subtype = v
		case wireNamespace:
			e.Namespace = v
		case wireUserID:
			e.UserID = v
		case wireSessionID:
			e.SessionID = v
		case wireWorkflowID:
			e.WorkflowID = v
		case wireSummary:
			e.Summary = v
		case wireTimestamp:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("parse timestamp %q: %w", v, err)
			}
			e.Timestamp = ts
		default:
			var parsed any
			if err := json.Unmarshal([]byte(v), &parsed); err == nil {
				e.Payload[k] = parsed
			} else {
				e.Payload[k] = v
			}
		}
	}
	if e.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	if e.Namespace == "" {
		return nil, fmt.Errorf("event missing namespace")
	}
	// A zero timestamp would collapse every derived idempotency key for
	// this type onto the same value, silently deduping distinct events.
	if e.Timestamp.IsZero() {
		return nil, fmt.Errorf("event missing timestamp")
	}
	return e, nil
}

func isReservedWireKey(k string) bool {
	switch k {
	case wireCategory, wireType, wireSubtype, wireNamespace, wireUserID,
		wireSessionID, wireWorkflowID, wireSummary, wireTimestamp:
		return true
	}
	return false
}
