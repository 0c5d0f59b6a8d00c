package evaluate

import (
	"sort"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/uplift"
)

// CostModel supplies the fixed promotional cost allocation subtracted from
// margin to derive EBIT. It is a pluggable input, never a hard-coded
// constant.
type CostModel interface {
	// PromoCost returns the total promotional cost for the scenario given
	// its resulting total sales.
	PromoCost(scenario *api.PromoScenario, totalSales float64) float64
}

// ZeroCost is the default cost model: EBIT equals margin.
type ZeroCost struct{}

func (ZeroCost) PromoCost(*api.PromoScenario, float64) float64 { return 0 }

// FixedAllocation charges a flat amount per scenario plus a flat amount per
// mechanic.
type FixedAllocation struct {
	PerScenario float64
	PerMechanic float64
}

func (c FixedAllocation) PromoCost(s *api.PromoScenario, _ float64) float64 {
	return c.PerScenario + c.PerMechanic*float64(len(s.Mechanics))
}

// SegmentProfile describes customer segments for the optional segment
// breakdown: historical share-of-revenue per segment, optionally discounted
// by segment-level discount sensitivity (absent = 1.0).
type SegmentProfile struct {
	RevenueShare        map[string]float64 `yaml:"revenue_share"`
	DiscountSensitivity map[string]float64 `yaml:"discount_sensitivity"`
}

// Evaluator computes ScenarioKPIs. Pure and deterministic: identical
// (scenario, baseline, model) inputs yield identical KPI numbers.
type Evaluator struct {
	estimator *uplift.Estimator
	costModel CostModel
	segments  *SegmentProfile
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostModel replaces the zero-cost default.
func WithCostModel(cm CostModel) Option {
	return func(ev *Evaluator) { ev.costModel = cm }
}

// WithSegmentProfile enables the segment breakdown.
func WithSegmentProfile(p *SegmentProfile) Option {
	return func(ev *Evaluator) { ev.segments = p }
}

// NewEvaluator creates an evaluator using the estimator for coefficient
// lookups.
func NewEvaluator(estimator *uplift.Estimator, opts ...Option) *Evaluator {
	ev := &Evaluator{estimator: estimator, costModel: ZeroCost{}}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// mechanicEffect is one mechanic's coefficient applied to one baseline cell.
type mechanicEffect struct {
	upliftSales  float64 // fraction, e.g. 0.15
	upliftUnits  float64
	marginPoints float64
}

// Evaluate applies the scenario's mechanics to the baseline and derives the
// full KPI set.
//
// Composition rule for overlapping mechanics on one cell: sales and units
// compose multiplicatively (avoids double-counting volume); margin-point
// impacts average weighted by each mechanic's standalone sales contribution.
func (ev *Evaluator) Evaluate(scenario *api.PromoScenario, baseline *api.BaselineForecast, model *api.UpliftModel) (*api.ScenarioKPI, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	// 1. Resolve each mechanic to the baseline cells it affects. A
	// mechanic naming a dimension the baseline never forecast cannot be
	// evaluated.
	effects := make(map[string][]mechanicEffect)
	for _, m := range scenario.Mechanics {
		if _, ok := baseline.ByDepartment[m.Department]; !ok {
			return nil, &api.UnknownDimensionError{Department: m.Department, Channel: m.Channel}
		}

		touched := 0
		for _, ch := range m.ExpandChannels() {
			key := api.CellKey(m.Department, ch)
			if _, ok := baseline.ByCell[key]; !ok {
				if m.Channel != api.ChannelBoth {
					return nil, &api.UnknownDimensionError{Department: m.Department, Channel: ch}
				}
				continue // "both" applies to whichever cells exist
			}
			touched++

			coeff := ev.estimator.Lookup(model, m.Department, ch, m.DiscountPct)
			effects[key] = append(effects[key], mechanicEffect{
				upliftSales:  coeff.UpliftSalesPct / 100,
				upliftUnits:  coeff.UpliftUnitsPct / 100,
				marginPoints: coeff.MarginImpactPct,
			})
		}
		if touched == 0 {
			return nil, &api.UnknownDimensionError{Department: m.Department, Channel: m.Channel}
		}
	}

	// 2. Recompute every cell, promoted or not, in sorted key order.
	cellKeys := make([]string, 0, len(baseline.ByCell))
	for k := range baseline.ByCell {
		cellKeys = append(cellKeys, k)
	}
	sort.Strings(cellKeys)

	kpi := &api.ScenarioKPI{
		ScenarioID:   scenario.ID,
		ModelVersion: model.Version,
		ByChannel:    make(map[string]api.MetricBlock),
		ByDepartment: make(map[string]api.MetricBlock),
		ComputedAt:   time.Now().UTC(),
	}

	var affectedSales float64
	for _, key := range cellKeys {
		base := baseline.ByCell[key]
		cell := applyEffects(base, effects[key])
		if len(effects[key]) > 0 {
			affectedSales += cell.SalesValue
		}

		dept, ch := splitCellKey(key)
		addBlock(kpi.ByDepartment, dept, cell)
		addBlock(kpi.ByChannel, ch, cell)

		kpi.TotalSales += cell.SalesValue
		kpi.TotalMargin += cell.MarginValue
		kpi.TotalUnits += cell.Units
	}

	for k, block := range kpi.ByDepartment {
		block.MarginPct = api.Round4(api.MarginPercent(block.MarginValue, block.SalesValue))
		roundBlock(&block)
		kpi.ByDepartment[k] = block
	}
	for k, block := range kpi.ByChannel {
		block.MarginPct = api.Round4(api.MarginPercent(block.MarginValue, block.SalesValue))
		roundBlock(&block)
		kpi.ByChannel[k] = block
	}

	// 3. EBIT and totals.
	cost := ev.costModel.PromoCost(scenario, kpi.TotalSales)
	kpi.TotalSales = api.Round4(kpi.TotalSales)
	kpi.TotalMargin = api.Round4(kpi.TotalMargin)
	kpi.TotalUnits = api.Round4(kpi.TotalUnits)
	kpi.TotalEBIT = api.Round4(kpi.TotalMargin - cost)
	kpi.MarginPct = api.Round4(api.MarginPercent(kpi.TotalMargin, kpi.TotalSales))

	// 4. Optional segment breakdown over the promoted slice.
	if ev.segments != nil {
		kpi.BySegment = ev.segmentBreakdown(scenario, affectedSales)
	}

	// 5. Delta versus the unmodified baseline totals. The baseline carries
	// no promotional cost, so its EBIT reference is its margin.
	kpi.DeltaVsBaseline = map[string]float64{
		"sales":  api.Round4(kpi.TotalSales - baseline.TotalSales),
		"margin": api.Round4(kpi.TotalMargin - baseline.TotalMargin),
		"ebit":   api.Round4(kpi.TotalEBIT - baseline.TotalMargin),
		"units":  api.Round4(kpi.TotalUnits - baseline.TotalUnits),
	}

	return kpi, nil
}

// applyEffects composes all mechanic effects touching one cell.
func applyEffects(base api.MetricBlock, effects []mechanicEffect) api.MetricBlock {
	if len(effects) == 0 {
		out := base
		out.MarginPct = api.MarginPercent(out.MarginValue, out.SalesValue)
		return out
	}

	salesMult, unitsMult := 1.0, 1.0
	var weightedPoints, weightSum float64
	for _, e := range effects {
		salesMult *= 1 + e.upliftSales
		unitsMult *= 1 + e.upliftUnits

		// Standalone sales contribution weights the margin impact.
		w := base.SalesValue * (1 + e.upliftSales)
		weightedPoints += e.marginPoints * w
		weightSum += w
	}

	out := api.MetricBlock{
		SalesValue: base.SalesValue * salesMult,
		Units:      base.Units * unitsMult,
	}

	basePct := api.MarginPercent(base.MarginValue, base.SalesValue)
	newPct := basePct
	if weightSum > 0 {
		newPct = basePct + weightedPoints/weightSum
	}
	out.MarginPct = newPct
	out.MarginValue = newPct / 100 * out.SalesValue
	return out
}

// segmentBreakdown distributes the promoted departments' sales across
// segments by historical revenue share, discounted by segment sensitivity.
// Mechanics listing explicit segments restrict the allocation to those.
func (ev *Evaluator) segmentBreakdown(scenario *api.PromoScenario, affectedSales float64) map[string]api.MetricBlock {
	allowed := make(map[string]bool)
	unrestricted := false
	for _, m := range scenario.Mechanics {
		if len(m.Segments) == 0 {
			unrestricted = true
			continue
		}
		for _, s := range m.Segments {
			if s == "ALL" {
				unrestricted = true
				continue
			}
			allowed[s] = true
		}
	}

	weights := make(map[string]float64)
	var total float64
	for segment, share := range ev.segments.RevenueShare {
		if !unrestricted && !allowed[segment] {
			continue
		}
		sensitivity := 1.0
		if s, ok := ev.segments.DiscountSensitivity[segment]; ok {
			sensitivity = s
		}
		w := share * sensitivity
		weights[segment] = w
		total += w
	}
	if total == 0 {
		return nil
	}

	out := make(map[string]api.MetricBlock)
	for segment, w := range weights {
		out[segment] = api.MetricBlock{
			SalesValue: api.Round4(affectedSales * w / total),
		}
	}
	return out
}

func addBlock(m map[string]api.MetricBlock, key string, cell api.MetricBlock) {
	block := m[key]
	block.SalesValue += cell.SalesValue
	block.MarginValue += cell.MarginValue
	block.Units += cell.Units
	m[key] = block
}

func roundBlock(b *api.MetricBlock) {
	b.SalesValue = api.Round4(b.SalesValue)
	b.MarginValue = api.Round4(b.MarginValue)
	b.Units = api.Round4(b.Units)
}

func splitCellKey(key string) (department, channel string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
