package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/upb/tenantguard/models"
)

// Registry maps each resource type to exactly one policy pattern. It is filled at
// start-up and frozen before the first request.
type Registry struct {
	mu       sync.RWMutex
	patterns map[models.ResourceType]models.PolicyPattern
	frozen   bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[models.ResourceType]models.PolicyPattern)}
}

// Register assigns a pattern to a resource type
func (r *Registry) Register(t models.ResourceType, p models.PolicyPattern) error {
	if t == "" {
		return fmt.Errorf("resource type is required")
	}
	if !p.Valid() {
		return fmt.Errorf("resource %s: unknown policy pattern %q", t, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("resource %s: registry is frozen", t)
	}
	if existing, ok := r.patterns[t]; ok {
		return fmt.Errorf("resource %s: already registered with pattern %s", t, existing)
	}
	r.patterns[t] = p
	return nil
}

// Freeze prevents further registration
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Pattern returns the pattern registered for t
func (r *Registry) Pattern(t models.ResourceType) (models.PolicyPattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[t]
	return p, ok
}

// Types returns the registered resource types in sorted order
func (r *Registry) Types() []models.ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ResourceType, 0, len(r.patterns))
	for t := range r.patterns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry registers the service's resource types and freezes the result
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	defaults := []struct {
		t models.ResourceType
		p models.PolicyPattern
	}{
		{models.ResourceTenant, models.PatternRootEntity},
		{models.ResourceContact, models.PatternStandard},
		{models.ResourceContactNote, models.PatternRelationshipDerived},
		{models.ResourceBillingSettings, models.PatternAdminOnlyMutation},
		{models.ResourceUserPreference, models.PatternPersonalScope},
		{models.ResourceAuditLog, models.PatternAppendOnly},
	}
	for _, d := range defaults {
		if err := r.Register(d.t, d.p); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// MustDefaultRegistry is DefaultRegistry for wiring code; it panics on error
func MustDefaultRegistry() *Registry {
	r, err := DefaultRegistry()
	if err != nil {
		panic(err)
	}
	return r
}
