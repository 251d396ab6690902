// Package rules is the deterministic half of the analysis: a registry of
// matcher functions bound to manifest rules, run over a normalized document.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/proofcheck/internal/schema"
	"github.com/dshills/proofcheck/internal/textnorm"
)

// EngineVersion is reported as script_engine_version in results.
const EngineVersion = "1.3.0"

// Matcher inspects a document and returns the issues it finds for one rule.
// A returned error means "this matcher failed"; the engine records it and
// treats the matcher as having found nothing.
type Matcher func(doc *textnorm.Document) ([]schema.Issue, error)

// Registry maps rule IDs to matchers. It is populated at startup and sealed
// when an Engine is built from it.
type Registry struct {
	mu       sync.Mutex
	matchers map[string]Matcher
	sealed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{matchers: map[string]Matcher{}}
}

// Register binds m to ruleID. Registering a rule twice, or registering after
// an engine was built from the registry, is an error.
func (r *Registry) Register(ruleID string, m Matcher) error {
	id := strings.ToUpper(strings.TrimSpace(ruleID))
	if id == "" || m == nil {
		return fmt.Errorf("rules: register: empty rule id or nil matcher")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("rules: register %s: registry is sealed", id)
	}
	if _, dup := r.matchers[id]; dup {
		return fmt.Errorf("rules: register %s: matcher already registered", id)
	}
	r.matchers[id] = m
	return nil
}

// MustRegister is Register that panics; for static builtin tables.
func (r *Registry) MustRegister(ruleID string, m Matcher) {
	if err := r.Register(ruleID, m); err != nil {
		panic(err)
	}
}

// IDs returns the registered rule IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.matchers))
	for id := range r.matchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) lookup(id string) (Matcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matchers[id]
	return m, ok
}

func (r *Registry) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}
