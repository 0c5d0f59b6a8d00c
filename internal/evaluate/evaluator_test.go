package evaluate

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/forecast"
	"github.com/promo-copilot/promoplan/internal/uplift"
)

func fixtureBaseline() *api.BaselineForecast {
	cells := map[string]api.MetricBlock{
		"TV|online":     {SalesValue: 1_000_000, MarginValue: 250_000, MarginPct: 25, Units: 50_000},
		"Audio|offline": {SalesValue: 500_000, MarginValue: 125_000, MarginPct: 25, Units: 10_000},
	}
	b := &api.BaselineForecast{
		Range: api.DateRange{
			Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC),
		},
		ByCell: cells,
		ByChannel: map[string]api.MetricBlock{
			"online":  cells["TV|online"],
			"offline": cells["Audio|offline"],
		},
		ByDepartment: map[string]api.MetricBlock{
			"TV":    cells["TV|online"],
			"Audio": cells["Audio|offline"],
		},
	}
	for _, c := range cells {
		b.TotalSales += c.SalesValue
		b.TotalMargin += c.MarginValue
		b.TotalUnits += c.Units
	}
	b.MarginPct = api.MarginPercent(b.TotalMargin, b.TotalSales)
	return b
}

func fixtureModel(coeffs ...api.UpliftCoefficient) *api.UpliftModel {
	return &api.UpliftModel{Version: "m-test", BandWidth: 10, Coefficients: coeffs}
}

func tvCoefficient() api.UpliftCoefficient {
	return api.UpliftCoefficient{
		Department: "TV", Channel: api.ChannelOnline,
		Band:            api.DiscountBand{Low: 20, High: 30},
		UpliftSalesPct:  15,
		UpliftUnitsPct:  18,
		MarginImpactPct: -2,
		Confidence:      0.8,
		SampleSize:      12,
	}
}

func tvScenario(discount float64) *api.PromoScenario {
	return &api.PromoScenario{
		ID:   "scn-001",
		Name: "TV push",
		Range: api.DateRange{
			Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 10, 14, 0, 0, 0, 0, time.UTC),
		},
		Mechanics: []api.PromoMechanic{
			{Department: "TV", Channel: api.ChannelOnline, DiscountPct: discount},
		},
	}
}

func newEvaluator(opts ...Option) *Evaluator {
	est := uplift.NewEstimator(forecast.NewEngine(forecast.DefaultParams()), uplift.DefaultParams())
	return NewEvaluator(est, opts...)
}

func TestEvaluateAppliesUpliftToTargetedCell(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	kpi, err := newEvaluator().Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 15% uplift on the 1,000,000 TV/online slice.
	tv := kpi.ByDepartment["TV"]
	if math.Abs(tv.SalesValue-1_150_000) > 0.01 {
		t.Errorf("by_department[TV].sales_value = %.2f, want 1150000", tv.SalesValue)
	}
	if math.Abs(kpi.DeltaVsBaseline["sales"]-150_000) > 0.01 {
		t.Errorf("incremental sales = %.2f, want 150000", kpi.DeltaVsBaseline["sales"])
	}

	// Margin impact is in percentage points: 25% - 2 = 23% on the slice.
	if math.Abs(tv.MarginPct-23) > 1e-6 {
		t.Errorf("TV margin_pct = %.4f, want 23", tv.MarginPct)
	}

	// Untouched cell passes through unchanged.
	audio := kpi.ByDepartment["Audio"]
	if audio.SalesValue != 500_000 {
		t.Errorf("untouched Audio slice changed: %.2f", audio.SalesValue)
	}

	if kpi.ModelVersion != "m-test" {
		t.Errorf("KPI must reference the model version, got %q", kpi.ModelVersion)
	}
}

func TestEvaluateMarginIdentity(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	kpi, err := newEvaluator().Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	blocks := map[string]api.MetricBlock{"totals": {
		SalesValue: kpi.TotalSales, MarginValue: kpi.TotalMargin, MarginPct: kpi.MarginPct,
	}}
	for k, b := range kpi.ByDepartment {
		blocks["dept/"+k] = b
	}
	for k, b := range kpi.ByChannel {
		blocks["channel/"+k] = b
	}

	for name, b := range blocks {
		want := 0.0
		if b.SalesValue > 0 {
			want = b.MarginValue / b.SalesValue * 100
		}
		if math.Abs(b.MarginPct-want) > 0.001 {
			t.Errorf("%s: margin_pct = %.4f, want %.4f", name, b.MarginPct, want)
		}
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())
	ev := newEvaluator()

	a, err := ev.Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	b, err := ev.Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	a.ComputedAt, b.ComputedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated evaluation diverged:\n%+v\n%+v", a, b)
	}
}

func TestEvaluateOverlappingMechanicsComposeMultiplicatively(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(api.UpliftCoefficient{
		Department: "TV", Channel: api.ChannelOnline,
		Band:           api.DiscountBand{Low: 10, High: 20},
		UpliftSalesPct: 10, UpliftUnitsPct: 10, Confidence: 0.9, SampleSize: 10,
	})

	scenario := tvScenario(10)
	scenario.Mechanics = append(scenario.Mechanics, api.PromoMechanic{
		Department: "TV", Channel: api.ChannelOnline, DiscountPct: 12,
	})

	kpi, err := newEvaluator().Evaluate(scenario, baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// Two 10% uplifts on the same slice: x1.1 * x1.1 = x1.21, not +20%.
	tv := kpi.ByDepartment["TV"]
	if math.Abs(tv.SalesValue-1_210_000) > 0.01 {
		t.Errorf("overlapping mechanics: sales = %.2f, want 1210000 (multiplicative)", tv.SalesValue)
	}
}

func TestEvaluateUnknownDimension(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	scenario := tvScenario(20)
	scenario.Mechanics[0].Department = "Garden"

	_, err := newEvaluator().Evaluate(scenario, baseline, model)
	if err == nil {
		t.Fatal("expected UnknownDimensionError for department absent from baseline")
	}
	var unknown *api.UnknownDimensionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownDimensionError, got %T: %v", err, err)
	}
	if unknown.Department != "Garden" {
		t.Errorf("error should carry the offending department, got %q", unknown.Department)
	}

	// A channel the department never traded on is equally unknown.
	scenario = tvScenario(20)
	scenario.Mechanics[0].Channel = api.ChannelOffline
	_, err = newEvaluator().Evaluate(scenario, baseline, model)
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownDimensionError for TV/offline, got %v", err)
	}
}

func TestEvaluateChannelBothUsesExistingCells(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	scenario := tvScenario(20)
	scenario.Mechanics[0].Channel = api.ChannelBoth

	// TV only trades online in this baseline; "both" applies to whichever
	// cells were forecast.
	kpi, err := newEvaluator().Evaluate(scenario, baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(kpi.ByDepartment["TV"].SalesValue-1_150_000) > 0.01 {
		t.Errorf("TV sales = %.2f, want 1150000", kpi.ByDepartment["TV"].SalesValue)
	}
}

func TestEvaluateCostModelDrivesEBIT(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	plain, err := newEvaluator().Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if plain.TotalEBIT != plain.TotalMargin {
		t.Errorf("zero-cost EBIT = %.2f, want margin %.2f", plain.TotalEBIT, plain.TotalMargin)
	}

	costed, err := newEvaluator(WithCostModel(FixedAllocation{PerScenario: 10_000, PerMechanic: 5_000})).
		Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := costed.TotalMargin - 15_000
	if math.Abs(costed.TotalEBIT-want) > 0.01 {
		t.Errorf("EBIT = %.2f, want %.2f", costed.TotalEBIT, want)
	}
}

func TestEvaluateSegmentBreakdown(t *testing.T) {
	baseline := fixtureBaseline()
	model := fixtureModel(tvCoefficient())

	profile := &SegmentProfile{
		RevenueShare:        map[string]float64{"loyal": 0.6, "bargain": 0.4},
		DiscountSensitivity: map[string]float64{"bargain": 1.5},
	}
	kpi, err := newEvaluator(WithSegmentProfile(profile)).Evaluate(tvScenario(20), baseline, model)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if kpi.BySegment == nil {
		t.Fatal("segment profile provided but no segment breakdown produced")
	}

	// Weights: loyal 0.6, bargain 0.4*1.5=0.6 — an even split of the
	// promoted 1,150,000 slice.
	var total float64
	for _, b := range kpi.BySegment {
		total += b.SalesValue
	}
	if math.Abs(total-1_150_000) > 1 {
		t.Errorf("segment sales sum = %.2f, want 1150000", total)
	}
	if math.Abs(kpi.BySegment["loyal"].SalesValue-kpi.BySegment["bargain"].SalesValue) > 1 {
		t.Errorf("expected even split, got loyal=%.2f bargain=%.2f",
			kpi.BySegment["loyal"].SalesValue, kpi.BySegment["bargain"].SalesValue)
	}
}
