package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/procurelabs/vendorgate-backend/internal/events"
)

// responseFields are the payload keys detectors scan for LLM output.
var responseFields = []string{"response", "response_text", "output", "message"}

// inputFields are the payload keys detectors scan for user/tool input.
var inputFields = []string{"prompt", "input", "query", "arguments", "message"}

const contextRadius = 40

// PromptLeakDetector flags agent responses that contain fragments of the
// system prompt. Patterns come from the definition config; matching is
// case-insensitive substring.
type PromptLeakDetector struct {
	Patterns       []string `json:"patterns"`
	EventPatterns  []string `json:"relevant_event_types"`
	BaseConfidence float64  `json:"base_confidence"`
}

func NewPromptLeakDetector(config json.RawMessage) (Rule, error) {
	d := &PromptLeakDetector{BaseConfidence: 0.6}
	if err := applyConfig(config, d); err != nil {
		return nil, err
	}
	if len(d.Patterns) == 0 {
		return nil, fmt.Errorf("prompt_leak: patterns required")
	}
	if len(d.EventPatterns) == 0 {
		d.EventPatterns = []string{"agent.*"}
	}
	return d, nil
}

func (d *PromptLeakDetector) RelevantEventTypes() []string { return d.EventPatterns }

func (d *PromptLeakDetector) CheckEvent(_ context.Context, ev *events.Event) DetectionResult {
	text := collectText(ev, responseFields)
	return matchPatterns(text, d.Patterns, d.BaseConfidence, "system prompt fragment leaked in agent response")
}

func (d *PromptLeakDetector) CheckAggregate(context.Context, string, string, AggregateStore) (DetectionResult, error) {
	return DetectionResult{}, nil
}

func (d *PromptLeakDetector) Progress(context.Context, string, string, AggregateStore) (ProgressView, error) {
	return ProgressView{Target: 1}, nil
}

// SQLInjectionDetector flags classic injection shapes in tool-call input.
type SQLInjectionDetector struct {
	Patterns      []string `json:"patterns"`
	EventPatterns []string `json:"relevant_event_types"`
}

func NewSQLInjectionDetector(config json.RawMessage) (Rule, error) {
	d := &SQLInjectionDetector{}
	if err := applyConfig(config, d); err != nil {
		return nil, err
	}
	if len(d.Patterns) == 0 {
		d.Patterns = []string{"' or 1=1", "' or '1'='1", "union select", "; drop table", "-- ", "';--"}
	}
	if len(d.EventPatterns) == 0 {
		d.EventPatterns = []string{"agent.*"}
	}
	return d, nil
}

func (d *SQLInjectionDetector) RelevantEventTypes() []string { return d.EventPatterns }

func (d *SQLInjectionDetector) CheckEvent(_ context.Context, ev *events.Event) DetectionResult {
	text := collectText(ev, inputFields)
	return matchPatterns(text, d.Patterns, 0.7, "SQL injection payload observed in input")
}

func (d *SQLInjectionDetector) CheckAggregate(context.Context, string, string, AggregateStore) (DetectionResult, error) {
	return DetectionResult{}, nil
}

func (d *SQLInjectionDetector) Progress(context.Context, string, string, AggregateStore) (ProgressView, error) {
	return ProgressView{Target: 1}, nil
}

// RoleOverrideDetector flags prompt-injection attempts that try to override
// the agent's instructions.
type RoleOverrideDetector struct {
	Patterns      []string `json:"patterns"`
	EventPatterns []string `json:"relevant_event_types"`
}

func NewRoleOverrideDetector(config json.RawMessage) (Rule, error) {
	d := &RoleOverrideDetector{}
	if err := applyConfig(config, d); err != nil {
		return nil, err
	}
	if len(d.Patterns) == 0 {
		d.Patterns = []string{"ignore previous instructions", "ignore all previous", "disregard all prior", "you are now"}
	}
	if len(d.EventPatterns) == 0 {
		d.EventPatterns = []string{"agent.*"}
	}
	return d, nil
}

func (d *RoleOverrideDetector) RelevantEventTypes() []string { return d.EventPatterns }

func (d *RoleOverrideDetector) CheckEvent(_ context.Context, ev *events.Event) DetectionResult {
	text := collectText(ev, inputFields)
	return matchPatterns(text, d.Patterns, 0.6, "instruction-override attempt observed in input")
}

func (d *RoleOverrideDetector) CheckAggregate(context.Context, string, string, AggregateStore) (DetectionResult, error) {
	return DetectionResult{}, nil
}

func (d *RoleOverrideDetector) Progress(context.Context, string, string, AggregateStore) (ProgressView, error) {
	return ProgressView{Target: 1}, nil
}

func applyConfig(config json.RawMessage, target any) error {
	if len(config) == 0 {
		return nil
	}
	return json.Unmarshal(config, target)
}

func collectText(ev *events.Event, fields []string) string {
	var parts []string
	for _, f := range fields {
		if s, ok := ev.Payload[f].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if ev.Summary != "" {
		parts = append(parts, ev.Summary)
	}
	return strings.Join(parts, "\n")
}

// matchPatterns does case-insensitive substring matching and records a
// short context window around each hit as evidence.
func matchPatterns(text string, patterns []string, baseConfidence float64, message string) DetectionResult {
	if text == "" {
		return DetectionResult{}
	}
	lower := strings.ToLower(text)
	var matches []map[string]any
	for _, p := range patterns {
		needle := strings.ToLower(p)
		idx := strings.Index(lower, needle)
		if idx < 0 {
			continue
		}
		start := idx - contextRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(needle) + contextRadius
		if end > len(text) {
			end = len(text)
		}
		matches = append(matches, map[string]any{
			"pattern": p,
			"context": text[start:end],
		})
	}
	if len(matches) == 0 {
		return DetectionResult{}
	}
	confidence := baseConfidence + 0.1*float64(len(matches)-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return DetectionResult{
		Detected:   true,
		Confidence: confidence,
		Evidence:   map[string]any{"matches": matches},
		Message:    message,
	}
}
