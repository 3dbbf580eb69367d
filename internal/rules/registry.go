package rules

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Constructor builds a rule instance from its definition's configuration
// blob. A nil/empty config must yield a usable instance with defaults.
type Constructor func(config json.RawMessage) (Rule, error)

// Registry maps configuration-declared class names to constructors. Both
// families live here; registration happens once at startup through
// RegisterBuiltins, never as an import-time side effect.
type Registry struct {
	mu         sync.RWMutex
	detectors  map[string]Constructor
	evaluators map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		detectors:  make(map[string]Constructor),
		evaluators: make(map[string]Constructor),
	}
}

func (r *Registry) RegisterDetector(class string, c Constructor) error {
	return r.register(r.detectors, "detector", class, c)
}

func (r *Registry) RegisterEvaluator(class string, c Constructor) error {
	return r.register(r.evaluators, "evaluator", class, c)
}

func (r *Registry) register(m map[string]Constructor, kind, class string, c Constructor) error {
	if class == "" {
		return fmt.Errorf("%s class name is empty", kind)
	}
	if c == nil {
		return fmt.Errorf("nil constructor for %s %q", kind, class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := m[class]; exists {
		return fmt.Errorf("%s already registered for class=%s", kind, class)
	}
	m[class] = c
	return nil
}

func (r *Registry) NewDetector(class string, config json.RawMessage) (Detector, error) {
	return r.construct(r.detectors, "detector", class, config)
}

func (r *Registry) NewEvaluator(class string, config json.RawMessage) (Evaluator, error) {
	return r.construct(r.evaluators, "evaluator", class, config)
}

func (r *Registry) construct(m map[string]Constructor, kind, class string, config json.RawMessage) (Rule, error) {
	r.mu.RLock()
	c, ok := m[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s registered for class=%s", kind, class)
	}
	rule, err := c(config)
	if err != nil {
		return nil, fmt.Errorf("construct %s class=%s: %w", kind, class, err)
	}
	return rule, nil
}

func (r *Registry) HasDetector(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.detectors[class]
	return ok
}

func (r *Registry) HasEvaluator(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.evaluators[class]
	return ok
}
