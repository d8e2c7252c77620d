// Package plan provides credit plan value types and pure catalog lookups.
package plan

import (
	"fmt"
	"sync/atomic"
)

// DefaultModelCost is charged for any model without a configured cost.
const DefaultModelCost int64 = 1

// Plan is a purchasable credit bundle (immutable value type).
type Plan struct {
	ID          string
	Name        string
	Credits     int64 // credits granted on completion
	PriceAmount int64 // minor units (cents)
	Currency    string
	Popular     bool // display hint only
	Features    []string
	Description string
}

// FindPlan finds a plan by ID in a list.
// This is a PURE function.
func FindPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Catalog is an immutable snapshot of plans and per-model costs.
// Safe for concurrent use.
type Catalog struct {
	plans       []Plan
	modelCosts  map[string]int64
	defaultCost int64
}

// NewCatalog builds a catalog. Plans keep their given order.
// A non-positive defaultCost falls back to DefaultModelCost.
func NewCatalog(plans []Plan, modelCosts map[string]int64, defaultCost int64) (*Catalog, error) {
	if defaultCost < 1 {
		defaultCost = DefaultModelCost
	}

	seen := make(map[string]bool, len(plans))
	copied := make([]Plan, 0, len(plans))
	for i, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plans[%d]: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plans[%d]: duplicate id %q", i, p.ID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("plan %q: credits must be positive", p.ID)
		}
		if p.PriceAmount < 0 {
			return nil, fmt.Errorf("plan %q: price must not be negative", p.ID)
		}
		seen[p.ID] = true
		p.Features = append([]string(nil), p.Features...)
		copied = append(copied, p)
	}

	costs := make(map[string]int64, len(modelCosts))
	for model, cost := range modelCosts {
		if cost < 1 {
			return nil, fmt.Errorf("model %q: cost must be at least 1", model)
		}
		costs[model] = cost
	}

	return &Catalog{plans: copied, modelCosts: costs, defaultCost: defaultCost}, nil
}

// GetPlan looks up a plan. A missing plan is a normal outcome.
func (c *Catalog) GetPlan(id string) (Plan, bool) {
	p, ok := FindPlan(c.plans, id)
	if !ok {
		return Plan{}, false
	}
	p.Features = append([]string(nil), p.Features...)
	return p, true
}

// GetModelCost returns the credits charged per invocation of a model.
// Unknown models cost the catalog default, never zero.
func (c *Catalog) GetModelCost(modelID string) int64 {
	if cost, ok := c.modelCosts[modelID]; ok {
		return cost
	}
	return c.defaultCost
}

// HasModel reports whether modelID has a configured cost.
func (c *Catalog) HasModel(modelID string) bool {
	_, ok := c.modelCosts[modelID]
	return ok
}

// Plans returns all plans in configured order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	for i, p := range c.plans {
		p.Features = append([]string(nil), p.Features...)
		out[i] = p
	}
	return out
}

// ModelCosts returns a copy of the configured per-model costs.
func (c *Catalog) ModelCosts() map[string]int64 {
	out := make(map[string]int64, len(c.modelCosts))
	for k, v := range c.modelCosts {
		out[k] = v
	}
	return out
}

// Registry serves the current catalog and allows it to be replaced
// atomically on config reload. Readers never see a partial update.
type Registry struct {
	current atomic.Pointer[Catalog]
}

// NewRegistry creates a registry serving c.
func NewRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(c)
	return r
}

// Swap replaces the served catalog and returns the previous one.
func (r *Registry) Swap(c *Catalog) *Catalog {
	return r.current.Swap(c)
}

// Current returns the catalog being served.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// GetPlan delegates to the current catalog.
func (r *Registry) GetPlan(id string) (Plan, bool) {
	return r.Current().GetPlan(id)
}

// GetModelCost delegates to the current catalog.
func (r *Registry) GetModelCost(modelID string) int64 {
	return r.Current().GetModelCost(modelID)
}

// HasModel delegates to the current catalog.
func (r *Registry) HasModel(modelID string) bool {
	return r.Current().HasModel(modelID)
}

// Plans delegates to the current catalog.
func (r *Registry) Plans() []Plan {
	return r.Current().Plans()
}
