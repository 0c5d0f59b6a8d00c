package api

import (
	"fmt"
	"sort"
	"time"
)

// Channel identifies a sales channel.
type Channel string

const (
	ChannelOnline  Channel = "online"
	ChannelOffline Channel = "offline"
	// ChannelBoth is only valid on a PromoMechanic and means the mechanic
	// applies to online and offline alike.
	ChannelBoth Channel = "both"
)

// Valid reports whether c is a concrete channel (online/offline).
func (c Channel) Valid() bool {
	return c == ChannelOnline || c == ChannelOffline
}

// SalesRecord is one immutable historical fact: sales on one day for one
// department and channel. Records are only ever aggregated, never mutated.
type SalesRecord struct {
	Date        time.Time `json:"date"`
	Channel     Channel   `json:"channel"`
	Department  string    `json:"department"`
	Promo       bool      `json:"promo"`
	DiscountPct *float64  `json:"discount_pct,omitempty"` // nil when not on promotion
	SalesValue  float64   `json:"sales_value"`
	MarginValue float64   `json:"margin_value"`
	Units       float64   `json:"units"`
}

// DateRange is an inclusive start/end date pair.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the end >= start invariant.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires both start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s before start %s",
			r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	return nil
}

// Days returns every calendar day in the range, inclusive.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether t falls inside the range (date precision).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// MetricBlock groups the sales/margin/units triple for one slice of a
// forecast or KPI. MarginPct is always derived via MarginPercent.
type MetricBlock struct {
	SalesValue  float64 `json:"sales_value"`
	MarginValue float64 `json:"margin_value"`
	MarginPct   float64 `json:"margin_pct"`
	Units       float64 `json:"units"`
}

// MarginPercent computes margin as a percentage of sales.
// Returns 0 when sales is not positive.
func MarginPercent(marginValue, salesValue float64) float64 {
	if salesValue <= 0 {
		return 0
	}
	return marginValue / salesValue * 100
}

// CellKey builds the canonical key for a (department, channel) baseline cell.
func CellKey(department string, channel Channel) string {
	return department + "|" + string(channel)
}

// DailyEstimate is one day of a baseline projection.
type DailyEstimate struct {
	Date        time.Time `json:"date"`
	SalesValue  float64   `json:"sales_value"`
	MarginValue float64   `json:"margin_value"`
	Units       float64   `json:"units"`
}

// BaselineForecast is a no-promotion projection over a date range. It is a
// derived entity: recomputed per request, cacheable, never the source of
// truth.
type BaselineForecast struct {
	Range        DateRange       `json:"date_range"`
	Daily        []DailyEstimate `json:"daily"`
	TotalSales   float64         `json:"total_sales"`
	TotalMargin  float64         `json:"total_margin"`
	TotalUnits   float64         `json:"total_units"`
	MarginPct    float64         `json:"margin_pct"`
	// ByCell is keyed with CellKey(department, channel); the channel and
	// department breakdowns are aggregations of these cells.
	ByCell       map[string]MetricBlock `json:"by_cell"`
	ByChannel    map[string]MetricBlock `json:"by_channel"`
	ByDepartment map[string]MetricBlock `json:"by_department"`
	GapDays      int                    `json:"gap_days"` // days with no comparable history
	GapVsTarget  *GapAnalysis           `json:"gap_vs_target,omitempty"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// Departments lists the departments present in the forecast, sorted.
func (b *BaselineForecast) Departments() []string {
	out := make([]string, 0, len(b.ByDepartment))
	for d := range b.ByDepartment {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Targets are monthly business targets supplied by configuration.
type Targets struct {
	Month        string  `json:"month" yaml:"month"` // e.g. "2024-10"
	SalesTarget  float64 `json:"sales_target" yaml:"sales_target"`
	MarginTarget float64 `json:"margin_target" yaml:"margin_target"`
	UnitsTarget  float64 `json:"units_target,omitempty" yaml:"units_target"`
}

// GapAnalysis compares a baseline forecast against targets.
// Sign convention: negative = shortfall (baseline below target).
type GapAnalysis struct {
	SalesGap  float64            `json:"sales_gap"`
	MarginGap float64            `json:"margin_gap"`
	UnitsGap  float64            `json:"units_gap"`
	GapPct    map[string]float64 `json:"gap_pct"`
}

// DiscountBand is a half-open discount bucket [Low, High).
type DiscountBand struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether pct falls in [Low, High).
func (b DiscountBand) Contains(pct float64) bool {
	return pct >= b.Low && pct < b.High
}

// Mid returns the band midpoint, used for interpolation between bands.
func (b DiscountBand) Mid() float64 {
	return (b.Low + b.High) / 2
}

// UpliftCoefficient is one entry of an uplift model, keyed by
// (department, channel, discount band).
type UpliftCoefficient struct {
	Department      string       `json:"department"`
	Channel         Channel      `json:"channel"`
	Band            DiscountBand `json:"band"`
	UpliftSalesPct  float64      `json:"uplift_sales_pct"`
	UpliftUnitsPct  float64      `json:"uplift_units_pct"`
	MarginImpactPct float64      `json:"margin_impact_pct"` // percentage points, not relative
	Confidence      float64      `json:"confidence"`        // [0, 1]
	SampleSize      int          `json:"sample_size"`
}

// UpliftModel is an immutable, versioned snapshot of uplift coefficients.
// A new version supersedes the old; versions are never edited in place.
type UpliftModel struct {
	Version      string              `json:"version"`
	LastUpdated  time.Time           `json:"last_updated"`
	BandWidth    float64             `json:"band_width"`
	Coefficients []UpliftCoefficient `json:"coefficients"`
}

// PromoCampaign describes one historical promotional campaign from the
// promo catalog.
type PromoCampaign struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Range       DateRange `json:"date_range"`
	Departments []string  `json:"departments"`
	Channels    []Channel `json:"channels"`
	DiscountPct float64   `json:"discount_pct"`
}

// PromoMechanic is one line of a scenario: a discount applied to one
// department on one channel (or both).
type PromoMechanic struct {
	Department  string   `json:"department"`
	Channel     Channel  `json:"channel"`
	DiscountPct float64  `json:"discount_pct"`
	Segments    []string `json:"segments,omitempty"` // empty or ["ALL"] = unrestricted
	Notes       string   `json:"notes,omitempty"`
}

// Validate rejects malformed mechanics before any computation.
func (m PromoMechanic) Validate() error {
	if m.Department == "" {
		return fmt.Errorf("mechanic requires a department")
	}
	if m.Channel != ChannelOnline && m.Channel != ChannelOffline && m.Channel != ChannelBoth {
		return fmt.Errorf("mechanic channel must be online, offline or both, got %q", m.Channel)
	}
	if m.DiscountPct < 0 || m.DiscountPct > 100 {
		return fmt.Errorf("mechanic discount_pct must be in [0, 100], got %.2f", m.DiscountPct)
	}
	return nil
}

// ExpandChannels resolves "both" into the two concrete channels.
func (m PromoMechanic) ExpandChannels() []Channel {
	if m.Channel == ChannelBoth {
		return []Channel{ChannelOnline, ChannelOffline}
	}
	return []Channel{m.Channel}
}

// ScenarioType tags how a scenario was generated.
type ScenarioType string

const (
	ScenarioConservative ScenarioType = "conservative"
	ScenarioBalanced     ScenarioType = "balanced"
	ScenarioAggressive   ScenarioType = "aggressive"
	ScenarioGrid         ScenarioType = "grid"
	ScenarioManual       ScenarioType = "manual"
)

// PromoScenario is a datable promotional configuration. Once evaluated it is
// immutable: edits produce a new scenario and a new KPI record.
type PromoScenario struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      ScenarioType    `json:"scenario_type,omitempty"`
	Range     DateRange       `json:"date_range"`
	Mechanics []PromoMechanic `json:"mechanics"`
}

// Validate performs structural validation of a scenario and its mechanics.
func (s *PromoScenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario requires a name")
	}
	if err := s.Range.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	if len(s.Mechanics) == 0 {
		return fmt.Errorf("scenario %q has no mechanics", s.Name)
	}
	for i, m := range s.Mechanics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("scenario %q mechanic %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// ScenarioKPI is the evaluation result for one scenario against one baseline
// and one uplift model version. KPI records are superseded, never mutated.
type ScenarioKPI struct {
	ScenarioID   string                 `json:"scenario_id"`
	ModelVersion string                 `json:"model_version"`
	TotalSales   float64                `json:"total_sales"`
	TotalMargin  float64                `json:"total_margin"`
	MarginPct    float64                `json:"margin_pct"`
	TotalEBIT    float64                `json:"total_ebit"`
	TotalUnits   float64                `json:"total_units"`
	ByChannel    map[string]MetricBlock `json:"by_channel"`
	ByDepartment map[string]MetricBlock `json:"by_department"`
	BySegment    map[string]MetricBlock `json:"by_segment,omitempty"`
	// DeltaVsBaseline holds totals minus the unmodified baseline totals,
	// keyed sales/margin/ebit/units.
	DeltaVsBaseline map[string]float64 `json:"delta_vs_baseline"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationStatus is the overall verdict of a validation run.
type ValidationStatus string

const (
	StatusPass  ValidationStatus = "PASS"
	StatusWarn  ValidationStatus = "WARN"
	StatusBlock ValidationStatus = "BLOCK"
)

// Issue is one rule violation found by the validator.
type Issue struct {
	Type         string   `json:"type"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	Department   string   `json:"department,omitempty"`
	SuggestedFix *float64 `json:"suggested_fix,omitempty"` // e.g. the exact compliant discount
}

// ValidationReport is the outcome of validating one (scenario, KPI) pair.
// Rule violations are results, not errors.
type ValidationReport struct {
	ScenarioID string           `json:"scenario_id"`
	Status     ValidationStatus `json:"status"`
	Issues     []Issue          `json:"issues"`
	Score      float64          `json:"score"` // 0-100, 100 = clean
}

// FrontierPoint is one scenario positioned on the two optimization axes.
type FrontierPoint struct {
	ScenarioID    string  `json:"scenario_id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ParetoOptimal bool    `json:"is_pareto_optimal"`
}

// Round4 rounds to 4 decimal places so repeated evaluations of identical
// inputs stay bit-identical across serialization round trips.
func Round4(x float64) float64 {
	if x < 0 {
		return -float64(int64(-x*1e4+0.5)) / 1e4
	}
	return float64(int64(x*1e4+0.5)) / 1e4
}
