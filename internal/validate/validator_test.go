package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
)

func scenarioWithDiscount(dept string, discount float64) *api.PromoScenario {
	return &api.PromoScenario{
		ID:   "scn-val",
		Name: "validation fixture",
		Range: api.DateRange{
			Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 10, 14, 0, 0, 0, 0, time.UTC),
		},
		Mechanics: []api.PromoMechanic{
			{Department: dept, Channel: api.ChannelOnline, DiscountPct: discount},
		},
	}
}

func healthyKPI() *api.ScenarioKPI {
	return &api.ScenarioKPI{
		ScenarioID:  "scn-val",
		TotalSales:  1_150_000,
		TotalMargin: 264_500,
		MarginPct:   23,
		TotalUnits:  55_000,
		DeltaVsBaseline: map[string]float64{
			"sales": 150_000,
			"units": 5_000,
		},
	}
}

func TestValidateDiscountOverCapBlocks(t *testing.T) {
	rules := DefaultRules()
	rules.MaxDiscountPct = map[string]float64{"TV": 25}

	report, err := NewEngine().Validate(scenarioWithDiscount("TV", 30), healthyKPI(), rules)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if report.Status != api.StatusBlock {
		t.Errorf("status = %s, want BLOCK", report.Status)
	}

	var found *api.Issue
	for i := range report.Issues {
		if report.Issues[i].Type == "discount_limit" {
			found = &report.Issues[i]
		}
	}
	if found == nil {
		t.Fatal("expected a discount_limit issue")
	}
	if found.Department != "TV" {
		t.Errorf("issue department = %q, want TV", found.Department)
	}
	if found.SuggestedFix == nil || *found.SuggestedFix != 25 {
		t.Errorf("suggested_fix should be the exact cap 25, got %v", found.SuggestedFix)
	}
}

func TestValidateCapMonotonicity(t *testing.T) {
	rules := DefaultRules()
	rules.MaxDiscountPct = map[string]float64{"TV": 25}
	engine := NewEngine()

	// Every discount beyond the cap must produce at least one blocking
	// issue referencing the department.
	for _, discount := range []float64{25.1, 30, 50, 99} {
		report, err := engine.Validate(scenarioWithDiscount("TV", discount), healthyKPI(), rules)
		if err != nil {
			t.Fatalf("Validate(%v) failed: %v", discount, err)
		}
		blocked := false
		for _, issue := range report.Issues {
			if issue.Severity == api.SeverityCritical && issue.Department == "TV" {
				blocked = true
			}
		}
		if !blocked {
			t.Errorf("discount %.1f over cap produced no blocking issue for TV", discount)
		}
	}

	// At or below the cap there is no discount issue.
	report, err := engine.Validate(scenarioWithDiscount("TV", 25), healthyKPI(), rules)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	for _, issue := range report.Issues {
		if issue.Type == "discount_limit" {
			t.Errorf("discount at the cap flagged: %s", issue.Message)
		}
	}
}

func TestValidateCleanScenarioPasses(t *testing.T) {
	report, err := NewEngine().Validate(scenarioWithDiscount("TV", 20), healthyKPI(), DefaultRules())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.Status != api.StatusPass {
		t.Errorf("status = %s, want PASS (issues: %+v)", report.Status, report.Issues)
	}
	if report.Score != 100 {
		t.Errorf("clean score = %.1f, want 100", report.Score)
	}
}

func TestValidateMarginFloorWarns(t *testing.T) {
	kpi := healthyKPI()
	kpi.MarginPct = 4

	report, err := NewEngine().Validate(scenarioWithDiscount("TV", 20), kpi, DefaultRules())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.Status != api.StatusWarn {
		t.Errorf("status = %s, want WARN", report.Status)
	}
	if len(report.Issues) != 1 || report.Issues[0].Type != "margin_floor" {
		t.Errorf("expected a single margin_floor issue, got %+v", report.Issues)
	}
	if report.Score != 75 {
		t.Errorf("score = %.1f, want 75 (100 - high penalty)", report.Score)
	}
}

func TestValidateImplausibleUpliftWarns(t *testing.T) {
	kpi := healthyKPI()
	// Baseline 100k, total 700k: +600% uplift.
	kpi.TotalSales = 700_000
	kpi.DeltaVsBaseline["sales"] = 600_000

	report, err := NewEngine().Validate(scenarioWithDiscount("TV", 20), kpi, DefaultRules())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.Status != api.StatusWarn {
		t.Errorf("status = %s, want WARN", report.Status)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Type == "implausible_uplift" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected implausible_uplift issue, got %+v", report.Issues)
	}
}

func TestValidateExcludedDepartmentBlocks(t *testing.T) {
	rules := DefaultRules()
	rules.ExcludedDepartments = []string{"Clearance"}

	report, err := NewEngine().Validate(scenarioWithDiscount("Clearance", 10), healthyKPI(), rules)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.Status != api.StatusBlock {
		t.Errorf("status = %s, want BLOCK for excluded department", report.Status)
	}
}

func TestValidateScoreFlooredAtZero(t *testing.T) {
	rules := DefaultRules()
	rules.MaxDiscountPct = map[string]float64{"TV": 5}
	rules.ExcludedDepartments = []string{"TV"}

	kpi := healthyKPI()
	kpi.MarginPct = 1

	report, err := NewEngine().Validate(scenarioWithDiscount("TV", 90), kpi, rules)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.Score != 0 {
		t.Errorf("score = %.1f, want floor of 0", report.Score)
	}
}

func TestValidateMalformedRules(t *testing.T) {
	tests := []struct {
		name  string
		rules RuleSet
	}{
		{"negative margin floor", RuleSet{MinMarginPct: -5}},
		{"cap over 100", RuleSet{MaxDiscountPct: map[string]float64{"TV": 140}}},
		{"negative default cap", RuleSet{DefaultMaxDiscountPct: -1}},
		{"negative penalty", RuleSet{Penalties: map[api.Severity]float64{api.SeverityHigh: -10}}},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Validate(scenarioWithDiscount("TV", 10), healthyKPI(), tt.rules)
			var cfgErr *api.RuleConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected RuleConfigError, got %v", err)
			}
		})
	}
}
