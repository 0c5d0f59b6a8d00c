package validate

import (
	"fmt"

	"github.com/promo-copilot/promoplan/internal/api"
)

// RuleSet is the business-rule configuration the validator applies. It is
// configuration, not code: loaded from YAML or assembled by the caller.
type RuleSet struct {
	// MaxDiscountPct caps the discount per department; departments without
	// an entry fall back to DefaultMaxDiscountPct.
	MaxDiscountPct        map[string]float64 `yaml:"max_discount_pct"`
	DefaultMaxDiscountPct float64            `yaml:"default_max_discount_pct"`
	// MinMarginPct is the floor for the scenario's overall margin_pct.
	MinMarginPct float64 `yaml:"min_margin_pct"`
	// MaxUpliftPct bounds plausible sales uplift vs baseline; deltas above
	// it are flagged as implausible, not blocked.
	MaxUpliftPct float64 `yaml:"max_uplift_pct"`
	// ExcludedDepartments may never be promoted.
	ExcludedDepartments []string `yaml:"excluded_departments"`
	// Penalties weight the score deduction per issue severity.
	Penalties map[api.Severity]float64 `yaml:"penalties"`
}

// DefaultRules returns a permissive but bounded rule set.
func DefaultRules() RuleSet {
	return RuleSet{
		DefaultMaxDiscountPct: 50,
		MinMarginPct:          10,
		MaxUpliftPct:          500,
		Penalties:             DefaultPenalties(),
	}
}

// DefaultPenalties returns the standard per-severity score deductions.
func DefaultPenalties() map[api.Severity]float64 {
	return map[api.Severity]float64{
		api.SeverityCritical: 40,
		api.SeverityHigh:     25,
		api.SeverityMedium:   10,
		api.SeverityLow:      5,
	}
}

// Validate checks the rule configuration itself. Malformed configuration is
// the only error this package ever returns.
func (r RuleSet) Validate() error {
	if r.MinMarginPct < 0 {
		return &api.RuleConfigError{Field: "min_margin_pct", Reason: "must not be negative"}
	}
	if r.MaxUpliftPct < 0 {
		return &api.RuleConfigError{Field: "max_uplift_pct", Reason: "must not be negative"}
	}
	if r.DefaultMaxDiscountPct < 0 || r.DefaultMaxDiscountPct > 100 {
		return &api.RuleConfigError{Field: "default_max_discount_pct", Reason: "must be in [0, 100]"}
	}
	for dept, cap := range r.MaxDiscountPct {
		if cap < 0 || cap > 100 {
			return &api.RuleConfigError{
				Field:  "max_discount_pct." + dept,
				Reason: "must be in [0, 100]",
			}
		}
	}
	for severity, penalty := range r.Penalties {
		if penalty < 0 {
			return &api.RuleConfigError{
				Field:  "penalties." + string(severity),
				Reason: "must not be negative",
			}
		}
	}
	return nil
}

// capFor resolves the discount cap for a department.
func (r RuleSet) capFor(department string) (float64, bool) {
	if cap, ok := r.MaxDiscountPct[department]; ok {
		return cap, true
	}
	if r.DefaultMaxDiscountPct > 0 {
		return r.DefaultMaxDiscountPct, true
	}
	return 0, false
}

// Engine applies business rules to evaluated scenarios. Rule violations are
// first-class results (PASS/WARN/BLOCK), never errors.
type Engine struct{}

// NewEngine creates a validation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Validate checks one (scenario, KPI) pair against the rule set.
//
// Status resolution: any critical issue blocks; any lesser issue warns; a
// clean run passes. The score starts at 100 and loses the configured penalty
// per issue, floored at 0.
func (e *Engine) Validate(scenario *api.PromoScenario, kpi *api.ScenarioKPI, rules RuleSet) (*api.ValidationReport, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	report := &api.ValidationReport{
		ScenarioID: scenario.ID,
		Status:     api.StatusPass,
	}

	excluded := make(map[string]bool, len(rules.ExcludedDepartments))
	for _, dept := range rules.ExcludedDepartments {
		excluded[dept] = true
	}

	// Per-mechanic rules.
	for _, m := range scenario.Mechanics {
		if excluded[m.Department] {
			report.Issues = append(report.Issues, api.Issue{
				Type:       "department_excluded",
				Severity:   api.SeverityCritical,
				Department: m.Department,
				Message:    fmt.Sprintf("department %s is excluded from promotions", m.Department),
			})
		}

		if cap, ok := rules.capFor(m.Department); ok && m.DiscountPct > cap {
			fix := cap
			report.Issues = append(report.Issues, api.Issue{
				Type:       "discount_limit",
				Severity:   api.SeverityCritical,
				Department: m.Department,
				Message: fmt.Sprintf("discount %.1f%% on %s exceeds the %.1f%% cap",
					m.DiscountPct, m.Department, cap),
				SuggestedFix: &fix,
			})
		}
	}

	// KPI-level rules.
	if kpi != nil {
		if kpi.MarginPct < rules.MinMarginPct {
			report.Issues = append(report.Issues, api.Issue{
				Type:     "margin_floor",
				Severity: api.SeverityHigh,
				Message: fmt.Sprintf("scenario margin %.2f%% is below the %.2f%% floor",
					kpi.MarginPct, rules.MinMarginPct),
			})
		}

		if rules.MaxUpliftPct > 0 {
			if u, ok := salesUpliftPct(kpi); ok && u > rules.MaxUpliftPct {
				report.Issues = append(report.Issues, api.Issue{
					Type:     "implausible_uplift",
					Severity: api.SeverityMedium,
					Message: fmt.Sprintf("sales uplift %.1f%% exceeds the %.1f%% plausibility bound",
						u, rules.MaxUpliftPct),
				})
			}
			if u, ok := unitsUpliftPct(kpi); ok && u > rules.MaxUpliftPct {
				report.Issues = append(report.Issues, api.Issue{
					Type:     "implausible_units_uplift",
					Severity: api.SeverityMedium,
					Message: fmt.Sprintf("units uplift %.1f%% exceeds the %.1f%% plausibility bound",
						u, rules.MaxUpliftPct),
				})
			}
		}
	}

	report.Status = resolveStatus(report.Issues)
	report.Score = score(report.Issues, rules.penalties())
	return report, nil
}

func (r RuleSet) penalties() map[api.Severity]float64 {
	if len(r.Penalties) == 0 {
		return DefaultPenalties()
	}
	return r.Penalties
}

func resolveStatus(issues []api.Issue) api.ValidationStatus {
	if len(issues) == 0 {
		return api.StatusPass
	}
	for _, issue := range issues {
		if issue.Severity == api.SeverityCritical {
			return api.StatusBlock
		}
	}
	return api.StatusWarn
}

func score(issues []api.Issue, penalties map[api.Severity]float64) float64 {
	s := 100.0
	for _, issue := range issues {
		s -= penalties[issue.Severity]
	}
	if s < 0 {
		s = 0
	}
	return s
}

// salesUpliftPct derives the relative sales uplift from the KPI's delta and
// totals: baseline = total - delta.
func salesUpliftPct(kpi *api.ScenarioKPI) (float64, bool) {
	delta := kpi.DeltaVsBaseline["sales"]
	baseline := kpi.TotalSales - delta
	if baseline <= 0 {
		return 0, false
	}
	return delta / baseline * 100, true
}

func unitsUpliftPct(kpi *api.ScenarioKPI) (float64, bool) {
	delta := kpi.DeltaVsBaseline["units"]
	baseline := kpi.TotalUnits - delta
	if baseline <= 0 {
		return 0, false
	}
	return delta / baseline * 100, true
}
