package uplift

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/forecast"
)

// Estimator builds uplift models from the historical promo catalog and
// answers banded coefficient lookups. Like the forecaster it is pure over
// its inputs; a built model is an immutable versioned snapshot.
type Estimator struct {
	forecaster *forecast.Engine
	params     Params
}

// Params configure band width, the confidence curve and extrapolation decay.
type Params struct {
	// BandWidth is the width of each discount band, e.g. 10 gives
	// [0,10), [10,20), ...
	BandWidth float64
	// ConfidenceK shapes confidence = n/(n+K): monotonic in sample size,
	// asymptotically capped at 1.0.
	ConfidenceK float64
	// ExtrapolationDecay multiplies confidence when a lookup is answered
	// by holding the nearest band constant instead of an exact or
	// interpolated match.
	ExtrapolationDecay float64
}

// DefaultParams returns width-10 bands with a gentle confidence curve.
func DefaultParams() Params {
	return Params{
		BandWidth:          10,
		ConfidenceK:        5,
		ExtrapolationDecay: 0.7,
	}
}

// NewEstimator creates an estimator backed by the given forecast engine.
func NewEstimator(forecaster *forecast.Engine, params Params) *Estimator {
	if params.BandWidth <= 0 {
		params.BandWidth = 10
	}
	if params.ConfidenceK <= 0 {
		params.ConfidenceK = 5
	}
	if params.ExtrapolationDecay <= 0 || params.ExtrapolationDecay > 1 {
		params.ExtrapolationDecay = 0.7
	}
	return &Estimator{forecaster: forecaster, params: params}
}

// BandFor buckets a discount percentage into its half-open band.
func (e *Estimator) BandFor(discountPct float64) api.DiscountBand {
	low := math.Floor(discountPct/e.params.BandWidth) * e.params.BandWidth
	return api.DiscountBand{Low: low, High: low + e.params.BandWidth}
}

// observation is one campaign's measured uplift for a single cell.
type observation struct {
	upliftSales  float64
	upliftUnits  float64
	marginImpact float64
	sampleSize   int
}

// bandAccum aggregates observations landing in one (department, channel,
// band) key, weighted by sample size.
type bandAccum struct {
	department string
	channel    api.Channel
	band       api.DiscountBand
	sales      float64
	units      float64
	margin     float64
	weight     float64
	samples    int
}

// BuildModel derives a versioned uplift model from the promo catalog.
//
// For every campaign and every (department, channel) it targets, the actual
// promotional sales inside the campaign window are compared against the
// forecaster's counterfactual for the same window (promo records excluded
// from the comparison population). Campaigns landing in the same discount
// band aggregate into one coefficient, weighted by sample size.
func (e *Estimator) BuildModel(catalog []api.PromoCampaign, history []api.SalesRecord) (*api.UpliftModel, error) {
	accums := make(map[string]*bandAccum)
	extracted := 0

	for _, campaign := range catalog {
		if err := campaign.Range.Validate(); err != nil {
			log.Printf("uplift: skipping campaign %q: %v", campaign.ID, err)
			continue
		}
		band := e.BandFor(campaign.DiscountPct)

		for _, dept := range campaign.Departments {
			for _, ch := range expand(campaign.Channels) {
				obs, ok := e.measure(campaign, dept, ch, history)
				if !ok {
					continue
				}
				extracted++

				key := api.CellKey(dept, ch) + "|" + bandKey(band)
				acc, exists := accums[key]
				if !exists {
					acc = &bandAccum{department: dept, channel: ch, band: band}
					accums[key] = acc
				}
				w := float64(obs.sampleSize)
				acc.sales += obs.upliftSales * w
				acc.units += obs.upliftUnits * w
				acc.margin += obs.marginImpact * w
				acc.weight += w
				acc.samples += obs.sampleSize
			}
		}
	}

	if extracted == 0 {
		return nil, &api.EmptyCatalogError{}
	}

	model := &api.UpliftModel{
		Version:     uuid.NewString(),
		LastUpdated: time.Now().UTC(),
		BandWidth:   e.params.BandWidth,
	}
	for _, acc := range accums {
		model.Coefficients = append(model.Coefficients, api.UpliftCoefficient{
			Department:      acc.department,
			Channel:         acc.channel,
			Band:            acc.band,
			UpliftSalesPct:  api.Round4(acc.sales / acc.weight),
			UpliftUnitsPct:  api.Round4(acc.units / acc.weight),
			MarginImpactPct: api.Round4(acc.margin / acc.weight),
			Confidence:      e.confidence(acc.samples),
			SampleSize:      acc.samples,
		})
	}

	// Ordered set: stable across runs for identical inputs.
	sort.Slice(model.Coefficients, func(i, j int) bool {
		a, b := model.Coefficients[i], model.Coefficients[j]
		if a.Department != b.Department {
			return a.Department < b.Department
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.Band.Low < b.Band.Low
	})

	return model, nil
}

// measure computes one campaign/cell observation. Returns ok=false when the
// window has no promotional actuals or no baseline coverage — insufficiency
// for a single campaign narrows the model, it does not abort the build.
func (e *Estimator) measure(campaign api.PromoCampaign, dept string, ch api.Channel, history []api.SalesRecord) (observation, bool) {
	var actualSales, actualMargin, actualUnits float64
	samples := 0
	for _, rec := range history {
		if !rec.Promo || rec.Department != dept || rec.Channel != ch {
			continue
		}
		if !campaign.Range.Contains(rec.Date) {
			continue
		}
		actualSales += rec.SalesValue
		actualMargin += rec.MarginValue
		actualUnits += rec.Units
		samples++
	}
	if samples == 0 {
		return observation{}, false
	}

	baseline, err := e.forecaster.Forecast(history, campaign.Range, ch, dept)
	if err != nil {
		var insufficient *api.InsufficientHistoryError
		if errors.As(err, &insufficient) {
			log.Printf("uplift: campaign %q %s/%s: no baseline coverage, skipping",
				campaign.ID, dept, ch)
			return observation{}, false
		}
		log.Printf("uplift: campaign %q %s/%s: baseline failed: %v", campaign.ID, dept, ch, err)
		return observation{}, false
	}
	if baseline.TotalSales <= 0 {
		return observation{}, false
	}

	return observation{
		upliftSales:  (actualSales - baseline.TotalSales) / baseline.TotalSales * 100,
		upliftUnits:  upliftPct(actualUnits, baseline.TotalUnits),
		marginImpact: api.MarginPercent(actualMargin, actualSales) - baseline.MarginPct,
		sampleSize:   samples,
	}, true
}

func upliftPct(actual, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (actual - baseline) / baseline * 100
}

// confidence maps sample size onto [0, 1), monotonically increasing.
func (e *Estimator) confidence(samples int) float64 {
	n := float64(samples)
	c := n / (n + e.params.ConfidenceK)
	if c > 1 {
		c = 1
	}
	return api.Round4(c)
}

// Lookup resolves the coefficient for (department, channel, discountPct).
//
// Resolution order: exact band match; linear interpolation between the two
// nearest bands by midpoint; one-sided hold with confidence decayed by the
// extrapolation factor. A cell with no coefficients at all yields the
// zero-uplift default with confidence 0 — missing knowledge is not an error.
func (e *Estimator) Lookup(model *api.UpliftModel, department string, channel api.Channel, discountPct float64) api.UpliftCoefficient {
	var cell []api.UpliftCoefficient
	for _, c := range model.Coefficients {
		if c.Department == department && c.Channel == channel {
			cell = append(cell, c)
		}
	}

	if len(cell) == 0 {
		return api.UpliftCoefficient{
			Department: department,
			Channel:    channel,
			Band:       e.BandFor(discountPct),
			Confidence: 0,
		}
	}

	sort.Slice(cell, func(i, j int) bool { return cell[i].Band.Low < cell[j].Band.Low })

	// Exact band match.
	for _, c := range cell {
		if c.Band.Contains(discountPct) {
			return c
		}
	}

	// Nearest bands below and above the requested discount.
	var lower, upper *api.UpliftCoefficient
	for i := range cell {
		c := &cell[i]
		if c.Band.Mid() < discountPct {
			lower = c
		} else if upper == nil {
			upper = c
		}
	}

	switch {
	case lower != nil && upper != nil:
		span := upper.Band.Mid() - lower.Band.Mid()
		t := (discountPct - lower.Band.Mid()) / span
		out := api.UpliftCoefficient{
			Department:      department,
			Channel:         channel,
			Band:            e.BandFor(discountPct),
			UpliftSalesPct:  api.Round4(lerp(lower.UpliftSalesPct, upper.UpliftSalesPct, t)),
			UpliftUnitsPct:  api.Round4(lerp(lower.UpliftUnitsPct, upper.UpliftUnitsPct, t)),
			MarginImpactPct: api.Round4(lerp(lower.MarginImpactPct, upper.MarginImpactPct, t)),
			Confidence:      api.Round4(math.Min(lower.Confidence, upper.Confidence)),
			SampleSize:      lower.SampleSize + upper.SampleSize,
		}
		return out
	case lower != nil:
		return e.heldConstant(*lower, discountPct)
	default:
		return e.heldConstant(*upper, discountPct)
	}
}

// heldConstant extrapolates by holding the nearest band, flagged through the
// decayed confidence rather than treated as an error.
func (e *Estimator) heldConstant(c api.UpliftCoefficient, discountPct float64) api.UpliftCoefficient {
	c.Band = e.BandFor(discountPct)
	c.Confidence = api.Round4(c.Confidence * e.params.ExtrapolationDecay)
	return c
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func expand(channels []api.Channel) []api.Channel {
	var out []api.Channel
	seen := make(map[api.Channel]bool)
	for _, ch := range channels {
		expanded := []api.Channel{ch}
		if ch == api.ChannelBoth {
			expanded = []api.Channel{api.ChannelOnline, api.ChannelOffline}
		}
		for _, c := range expanded {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func bandKey(b api.DiscountBand) string {
	return fmt.Sprintf("%g-%g", b.Low, b.High)
}
