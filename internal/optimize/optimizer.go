package optimize

import (
	"context"
	"log"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/evaluate"
	"github.com/promo-copilot/promoplan/internal/validate"
)

// Constraints bound the candidate search.
type Constraints struct {
	// MaxDiscountPct is the grid ceiling, not a business rule: the rule set
	// still validates every candidate independently.
	MaxDiscountPct float64 `json:"max_discount_pct"`
	// GridStep is the spacing of the discount grid, default 5 points.
	GridStep float64 `json:"grid_step"`
	// Rules validate every candidate.
	Rules validate.RuleSet `json:"rules"`
	// Concurrency bounds the evaluation worker pool, default NumCPU.
	Concurrency int `json:"concurrency"`
}

// DefaultConstraints returns a 5-point grid up to 30% discount under the
// default rule set.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxDiscountPct: 30,
		GridStep:       5,
		Rules:          validate.DefaultRules(),
	}
}

func (c Constraints) withDefaults() Constraints {
	if c.MaxDiscountPct <= 0 {
		c.MaxDiscountPct = 30
	}
	if c.GridStep <= 0 {
		c.GridStep = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	return c
}

// Candidate is one generated scenario with its evaluation outcome.
type Candidate struct {
	Index    int                   `json:"-"` // insertion order, the tie-break key
	Scenario *api.PromoScenario    `json:"scenario"`
	KPI      *api.ScenarioKPI      `json:"kpi,omitempty"`
	Report   *api.ValidationReport `json:"report,omitempty"`
	Score    float64               `json:"score"`
	Reason   string                `json:"reason,omitempty"` // set when excluded
}

// Result is the outcome of one optimization run.
type Result struct {
	// Ranked holds the feasible candidates, best first, truncated to the
	// requested count.
	Ranked []Candidate `json:"ranked"`
	// Excluded holds blocked or unevaluable candidates with their reasons.
	Excluded []Candidate `json:"excluded"`
	// Frontier positions every feasible candidate on the sales/margin axes.
	Frontier []api.FrontierPoint `json:"frontier"`
	// Truncated is set when the context expired before all candidates were
	// evaluated; Ranked then covers only the candidates finished in time.
	Truncated    bool   `json:"truncated"`
	ModelVersion string `json:"model_version"`
}

// Optimizer generates candidate scenarios and evaluates them in parallel.
type Optimizer struct {
	evaluator *evaluate.Evaluator
	validator *validate.Engine
}

// New creates an optimizer over the given evaluator and validator.
func New(evaluator *evaluate.Evaluator, validator *validate.Engine) *Optimizer {
	return &Optimizer{evaluator: evaluator, validator: validator}
}

// Optimize generates candidates for the brief, evaluates and validates each
// one concurrently, and returns the top numScenarios feasible candidates
// ranked by the brief's objective weights.
//
// Candidates are collected by generation index, so results are deterministic
// regardless of worker scheduling. A context deadline yields a truncated
// partial result, not an error. When every candidate is blocked or fails,
// the returned error carries the least-bad blocked candidate so the caller
// can surface why nothing was feasible.
func (o *Optimizer) Optimize(ctx context.Context, brief Brief, constraints Constraints, numScenarios int, baseline *api.BaselineForecast, model *api.UpliftModel) (*Result, error) {
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	constraints = constraints.withDefaults()
	if numScenarios <= 0 {
		numScenarios = 3
	}

	scenarios := generate(brief, constraints)
	log.Printf("optimize: brief %q generated %d candidates (grid step %g up to %g%%)",
		brief.Name, len(scenarios), constraints.GridStep, constraints.MaxDiscountPct)

	type outcome struct {
		candidate Candidate
		skipped   bool
	}
	outcomes := make([]outcome, len(scenarios))

	g := &errgroup.Group{}
	g.SetLimit(constraints.Concurrency)
	for i, scenario := range scenarios {
		g.Go(func() error {
			// A deadline hit mid-run skips the remaining candidates
			// instead of failing the whole run.
			if ctx.Err() != nil {
				outcomes[i] = outcome{skipped: true}
				return nil
			}
			outcomes[i] = outcome{candidate: o.assess(i, scenario, constraints.Rules, baseline, model)}
			return nil
		})
	}
	g.Wait()

	result := &Result{ModelVersion: model.Version}
	var feasible []Candidate
	for _, oc := range outcomes {
		switch {
		case oc.skipped:
			result.Truncated = true
		case oc.candidate.Reason != "":
			result.Excluded = append(result.Excluded, oc.candidate)
		default:
			feasible = append(feasible, oc.candidate)
		}
	}

	if len(feasible) == 0 {
		if result.Truncated {
			// The deadline, not the rules, emptied the run.
			return result, nil
		}
		return nil, noFeasible(len(scenarios), result.Excluded)
	}

	Rank(feasible, brief.Objectives)
	// The frontier covers every feasible candidate, not just the top slice.
	result.Frontier = Frontier(feasible)
	if len(feasible) > numScenarios {
		feasible = feasible[:numScenarios]
	}
	result.Ranked = feasible

	log.Printf("optimize: brief %q kept %d of %d candidates (excluded %d, truncated %v)",
		brief.Name, len(result.Ranked), len(scenarios), len(result.Excluded), result.Truncated)
	return result, nil
}

// assess runs one candidate through evaluation and validation.
func (o *Optimizer) assess(index int, scenario *api.PromoScenario, rules validate.RuleSet, baseline *api.BaselineForecast, model *api.UpliftModel) Candidate {
	c := Candidate{Index: index, Scenario: scenario}

	kpi, err := o.evaluator.Evaluate(scenario, baseline, model)
	if err != nil {
		c.Reason = "evaluation failed: " + err.Error()
		return c
	}
	c.KPI = kpi

	report, err := o.validator.Validate(scenario, kpi, rules)
	if err != nil {
		c.Reason = "validation failed: " + err.Error()
		return c
	}
	c.Report = report

	if report.Status == api.StatusBlock {
		c.Reason = blockReason(report)
	}
	return c
}

func blockReason(report *api.ValidationReport) string {
	for _, issue := range report.Issues {
		if issue.Severity == api.SeverityCritical {
			return "blocked: " + issue.Message
		}
	}
	return "blocked"
}

// noFeasible builds the all-candidates-blocked error, carrying the blocked
// candidate with the highest validation score as the best starting point for
// a manual fix.
func noFeasible(total int, excluded []Candidate) error {
	err := &api.NoFeasibleScenarioError{Candidates: total}
	for _, c := range excluded {
		if c.Report == nil {
			continue
		}
		if err.BestReport == nil || c.Report.Score > err.BestReport.Score {
			err.BestBlocked = c.Scenario
			err.BestReport = c.Report
		}
	}
	return err
}

// Rank orders candidates in place, best first, by the weighted sum of
// min-max normalized objectives. Each objective is normalized over the
// candidate set so weights are comparable across differently-scaled KPIs.
// Ties keep generation order.
func Rank(candidates []Candidate, weights map[string]float64) {
	if len(weights) == 0 {
		weights = map[string]float64{"sales": 1, "margin": 1}
	}

	for name, weight := range weights {
		if weight == 0 {
			continue
		}
		lo, hi := objectiveRange(candidates, name)
		if hi <= lo {
			continue // constant objective, no signal
		}
		for i := range candidates {
			v := objectiveValue(candidates[i].KPI, name)
			candidates[i].Score += weight * (v - lo) / (hi - lo)
		}
	}
	for i := range candidates {
		candidates[i].Score = api.Round4(candidates[i].Score)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Index < candidates[j].Index
	})
}

func objectiveRange(candidates []Candidate, name string) (lo, hi float64) {
	for i, c := range candidates {
		v := objectiveValue(c.KPI, name)
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi
}

func objectiveValue(kpi *api.ScenarioKPI, name string) float64 {
	if kpi == nil {
		return 0
	}
	switch name {
	case "sales":
		return kpi.TotalSales
	case "margin":
		return kpi.TotalMargin
	case "ebit":
		return kpi.TotalEBIT
	case "units":
		return kpi.TotalUnits
	default:
		return 0
	}
}
