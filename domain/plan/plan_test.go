package plan_test

import (
	"sync"
	"testing"

	"github.com/artpar/creditgate/domain/plan"
)

func testPlans() []plan.Plan {
	return []plan.Plan{
		{ID: "starter", Name: "Starter", Credits: 100, PriceAmount: 999, Currency: "usd", Features: []string{"100 credits"}},
		{ID: "pro", Name: "Pro", Credits: 500, PriceAmount: 2999, Currency: "usd", Popular: true},
	}
}

func mustCatalog(t *testing.T, plans []plan.Plan, costs map[string]int64) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog(plans, costs, plan.DefaultModelCost)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

func TestCatalog_GetPlan(t *testing.T) {
	c := mustCatalog(t, testPlans(), nil)

	p, ok := c.GetPlan("pro")
	if !ok {
		t.Fatal("expected pro plan to be found")
	}
	if p.Credits != 500 {
		t.Errorf("Credits = %d, want 500", p.Credits)
	}

	if _, ok := c.GetPlan("enterprise"); ok {
		t.Error("expected unknown plan to be not found")
	}
}

func TestCatalog_GetModelCost(t *testing.T) {
	c := mustCatalog(t, nil, map[string]int64{"gpt-4": 5, "claude-3-opus": 4})

	tests := []struct {
		model string
		want  int64
	}{
		{"gpt-4", 5},
		{"claude-3-opus", 4},
		{"unknown-model-xyz", 1},
		{"", 1},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.GetModelCost(tt.model); got != tt.want {
				t.Errorf("GetModelCost(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func TestCatalog_CustomDefaultCost(t *testing.T) {
	c, err := plan.NewCatalog(nil, nil, 3)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if got := c.GetModelCost("anything"); got != 3 {
		t.Errorf("GetModelCost = %d, want 3", got)
	}

	c, err = plan.NewCatalog(nil, nil, 0)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if got := c.GetModelCost("anything"); got != plan.DefaultModelCost {
		t.Errorf("GetModelCost = %d, want %d", got, plan.DefaultModelCost)
	}
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name  string
		plans []plan.Plan
		costs map[string]int64
	}{
		{"missing id", []plan.Plan{{Credits: 10}}, nil},
		{"duplicate id", []plan.Plan{{ID: "a", Credits: 10}, {ID: "a", Credits: 20}}, nil},
		{"zero credits", []plan.Plan{{ID: "a"}}, nil},
		{"negative price", []plan.Plan{{ID: "a", Credits: 1, PriceAmount: -1}}, nil},
		{"zero model cost", nil, map[string]int64{"m": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := plan.NewCatalog(tt.plans, tt.costs, 1); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCatalog_PlansPreserveOrderAndAreCopies(t *testing.T) {
	c := mustCatalog(t, testPlans(), nil)

	plans := c.Plans()
	if len(plans) != 2 || plans[0].ID != "starter" || plans[1].ID != "pro" {
		t.Fatalf("Plans() = %+v", plans)
	}

	plans[0].Features[0] = "mutated"
	plans[0].Credits = 1

	again, _ := c.GetPlan("starter")
	if again.Features[0] != "100 credits" || again.Credits != 100 {
		t.Errorf("catalog was mutated through returned slice: %+v", again)
	}
}

func TestRegistry_Swap(t *testing.T) {
	r := plan.NewRegistry(mustCatalog(t, testPlans(), map[string]int64{"gpt-4": 5}))

	p, _ := r.GetPlan("pro")
	if p.Credits != 500 {
		t.Fatalf("Credits = %d, want 500", p.Credits)
	}

	updated := testPlans()
	updated[1].Credits = 750
	old := r.Swap(mustCatalog(t, updated, map[string]int64{"gpt-4": 8}))

	if got, _ := old.GetPlan("pro"); got.Credits != 500 {
		t.Errorf("old catalog Credits = %d, want 500", got.Credits)
	}
	if got, _ := r.GetPlan("pro"); got.Credits != 750 {
		t.Errorf("new catalog Credits = %d, want 750", got.Credits)
	}
	if got := r.GetModelCost("gpt-4"); got != 8 {
		t.Errorf("GetModelCost = %d, want 8", got)
	}
}

func TestRegistry_ConcurrentReadsDuringSwap(t *testing.T) {
	r := plan.NewRegistry(mustCatalog(t, testPlans(), nil))
	next := mustCatalog(t, testPlans(), map[string]int64{"gpt-4": 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if cost := r.GetModelCost("gpt-4"); cost != 1 && cost != 2 {
					t.Errorf("unexpected cost %d", cost)
					return
				}
			}
		}()
	}
	r.Swap(next)
	wg.Wait()
}

func TestFindPlan(t *testing.T) {
	plans := testPlans()

	if _, ok := plan.FindPlan(plans, "starter"); !ok {
		t.Error("expected starter to be found")
	}
	if _, ok := plan.FindPlan(nil, "starter"); ok {
		t.Error("expected nil list to find nothing")
	}
}
