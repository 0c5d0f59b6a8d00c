package forecast

import (
	"log"
	"sort"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
)

// Engine computes baseline (no-promotion) forecasts from historical sales
// records. It is pure: all inputs are passed in, nothing is mutated, and two
// calls with identical inputs produce identical forecasts.
type Engine struct {
	params Params
}

// Params configure the forecast computation.
type Params struct {
	Seasonality SeasonalityProfile
	// TrendFactor scales every daily estimate. 1.0 = no trend. A rolling
	// trend derived from recent comparable periods can be plugged in here.
	TrendFactor float64
}

// SeasonalityProfile holds precomputed monthly multipliers. Department
// overrides take precedence over the region-wide monthly factor; absent
// entries default to 1.0.
type SeasonalityProfile struct {
	MonthlyFactors    map[time.Month]float64            `yaml:"monthly_factors"`
	DepartmentFactors map[string]map[time.Month]float64 `yaml:"department_factors"`
}

// Factor resolves the seasonality multiplier for a month and department.
func (p SeasonalityProfile) Factor(month time.Month, department string) float64 {
	if byDept, ok := p.DepartmentFactors[department]; ok {
		if f, ok := byDept[month]; ok {
			return f
		}
	}
	if f, ok := p.MonthlyFactors[month]; ok {
		return f
	}
	return 1.0
}

// DefaultParams returns flat seasonality and no trend.
func DefaultParams() Params {
	return Params{TrendFactor: 1.0}
}

// NewEngine creates a forecast engine with given parameters.
func NewEngine(params Params) *Engine {
	if params.TrendFactor == 0 {
		params.TrendFactor = 1.0
	}
	return &Engine{params: params}
}

// cellStats accumulates per-weekday history for one (department, channel)
// cell.
type cellStats struct {
	department string
	channel    api.Channel
	sales      [7]float64
	margin     [7]float64
	units      [7]float64
	count      [7]int
}

// Forecast projects day-level sales/margin/units over the requested range.
//
// For every calendar day it averages the historical non-promotional records
// sharing the same day-of-week (optionally narrowed by channel/department),
// then applies the seasonality multiplier for the day's month and department
// and the trend factor. Days with no comparable history contribute 0 and are
// counted in GapDays; zero coverage across the entire range is a hard
// InsufficientHistoryError.
func (e *Engine) Forecast(records []api.SalesRecord, rng api.DateRange, channel api.Channel, department string) (*api.BaselineForecast, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	// 1. Filter to the comparable population: non-promo records matching
	// the optional channel/department narrowing.
	cells := make(map[string]*cellStats)
	matched := 0
	for _, rec := range records {
		if rec.Promo {
			continue
		}
		if channel != "" && rec.Channel != channel {
			continue
		}
		if department != "" && rec.Department != department {
			continue
		}
		matched++

		key := api.CellKey(rec.Department, rec.Channel)
		cs, ok := cells[key]
		if !ok {
			cs = &cellStats{department: rec.Department, channel: rec.Channel}
			cells[key] = cs
		}
		wd := int(rec.Date.Weekday())
		cs.sales[wd] += rec.SalesValue
		cs.margin[wd] += rec.MarginValue
		cs.units[wd] += rec.Units
		cs.count[wd]++
	}

	if matched == 0 {
		return nil, &api.InsufficientHistoryError{Range: rng, Channel: channel, Department: department}
	}

	// Deterministic cell order.
	cellKeys := make([]string, 0, len(cells))
	for k := range cells {
		cellKeys = append(cellKeys, k)
	}
	sort.Strings(cellKeys)

	// 2. Project each day as the weekday average per cell, scaled by
	// seasonality and trend.
	forecast := &api.BaselineForecast{
		Range:        rng,
		ByCell:       make(map[string]api.MetricBlock),
		ByChannel:    make(map[string]api.MetricBlock),
		ByDepartment: make(map[string]api.MetricBlock),
		GeneratedAt:  time.Now().UTC(),
	}

	for _, day := range rng.Days() {
		wd := int(day.Weekday())
		est := api.DailyEstimate{Date: day}
		covered := false

		for _, key := range cellKeys {
			cs := cells[key]
			if cs.count[wd] == 0 {
				continue
			}
			covered = true
			n := float64(cs.count[wd])
			factor := e.params.Seasonality.Factor(day.Month(), cs.department) * e.params.TrendFactor

			sales := cs.sales[wd] / n * factor
			margin := cs.margin[wd] / n * factor
			units := cs.units[wd] / n * factor

			est.SalesValue += sales
			est.MarginValue += margin
			est.Units += units

			block := forecast.ByCell[key]
			block.SalesValue += sales
			block.MarginValue += margin
			block.Units += units
			forecast.ByCell[key] = block
		}

		if !covered {
			forecast.GapDays++
		}

		forecast.Daily = append(forecast.Daily, est)
		forecast.TotalSales += est.SalesValue
		forecast.TotalMargin += est.MarginValue
		forecast.TotalUnits += est.Units
	}

	if forecast.GapDays > 0 {
		log.Printf("forecast %s..%s: %d/%d days without comparable history, estimated as 0",
			rng.Start.Format("2006-01-02"), rng.End.Format("2006-01-02"),
			forecast.GapDays, len(forecast.Daily))
	}

	// 3. Derive breakdowns and margin percentages from the cells.
	for _, key := range cellKeys {
		cs := cells[key]
		block := forecast.ByCell[key]
		block.MarginPct = api.MarginPercent(block.MarginValue, block.SalesValue)
		forecast.ByCell[key] = block

		ch := forecast.ByChannel[string(cs.channel)]
		ch.SalesValue += block.SalesValue
		ch.MarginValue += block.MarginValue
		ch.Units += block.Units
		forecast.ByChannel[string(cs.channel)] = ch

		dep := forecast.ByDepartment[cs.department]
		dep.SalesValue += block.SalesValue
		dep.MarginValue += block.MarginValue
		dep.Units += block.Units
		forecast.ByDepartment[cs.department] = dep
	}
	for k, block := range forecast.ByChannel {
		block.MarginPct = api.MarginPercent(block.MarginValue, block.SalesValue)
		forecast.ByChannel[k] = block
	}
	for k, block := range forecast.ByDepartment {
		block.MarginPct = api.MarginPercent(block.MarginValue, block.SalesValue)
		forecast.ByDepartment[k] = block
	}
	forecast.MarginPct = api.MarginPercent(forecast.TotalMargin, forecast.TotalSales)

	return forecast, nil
}

// GapVsTargets compares baseline totals against business targets.
// Gap = baseline − target; negative means shortfall.
func GapVsTargets(baseline *api.BaselineForecast, targets api.Targets) api.GapAnalysis {
	gap := api.GapAnalysis{
		SalesGap:  baseline.TotalSales - targets.SalesTarget,
		MarginGap: baseline.TotalMargin - targets.MarginTarget,
		GapPct:    make(map[string]float64),
	}
	if targets.UnitsTarget > 0 {
		gap.UnitsGap = baseline.TotalUnits - targets.UnitsTarget
	}

	if targets.SalesTarget > 0 {
		gap.GapPct["sales"] = api.Round4(gap.SalesGap / targets.SalesTarget * 100)
	}
	if targets.MarginTarget > 0 {
		gap.GapPct["margin"] = api.Round4(gap.MarginGap / targets.MarginTarget * 100)
	}
	if targets.UnitsTarget > 0 {
		gap.GapPct["units"] = api.Round4(gap.UnitsGap / targets.UnitsTarget * 100)
	}
	return gap
}
