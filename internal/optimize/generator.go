package optimize

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/promo-copilot/promoplan/internal/api"
)

// Brief describes what the optimizer should search for: the campaign window,
// the departments in focus, and the objective weights used for ranking.
type Brief struct {
	Name             string             `json:"name"`
	Range            api.DateRange      `json:"date_range"`
	FocusDepartments []string           `json:"focus_departments"`
	Channel          api.Channel        `json:"channel,omitempty"` // empty = both
	Objectives       map[string]float64 `json:"objectives,omitempty"`
}

// Validate rejects malformed briefs before any generation.
func (b Brief) Validate() error {
	if err := b.Range.Validate(); err != nil {
		return err
	}
	if len(b.FocusDepartments) == 0 {
		return fmt.Errorf("brief requires at least one focus department")
	}
	if b.Channel != "" && b.Channel != api.ChannelBoth && !b.Channel.Valid() {
		return fmt.Errorf("brief channel must be online, offline or both, got %q", b.Channel)
	}
	return nil
}

// templateTiers are the fixed generation templates: a flat discount tier per
// scenario type, capped at the constraint ceiling.
var templateTiers = []struct {
	kind api.ScenarioType
	tier float64
}{
	{api.ScenarioConservative, 10},
	{api.ScenarioBalanced, 20},
	{api.ScenarioAggressive, 30},
}

// generate produces the candidate population: the three fixed templates plus
// a discount grid per focus department. Candidate order is the insertion
// order used for all downstream tie-breaking.
func generate(brief Brief, constraints Constraints) []*api.PromoScenario {
	channel := brief.Channel
	if channel == "" {
		channel = api.ChannelBoth
	}

	var out []*api.PromoScenario

	for _, tpl := range templateTiers {
		discount := tpl.tier
		if discount > constraints.MaxDiscountPct {
			discount = constraints.MaxDiscountPct
		}
		scenario := &api.PromoScenario{
			ID:    uuid.NewString(),
			Name:  fmt.Sprintf("%s %s", titleFor(tpl.kind), brief.Name),
			Type:  tpl.kind,
			Range: brief.Range,
		}
		for _, dept := range brief.FocusDepartments {
			scenario.Mechanics = append(scenario.Mechanics, api.PromoMechanic{
				Department:  dept,
				Channel:     channel,
				DiscountPct: discount,
			})
		}
		out = append(out, scenario)
	}

	for _, dept := range brief.FocusDepartments {
		for discount := constraints.GridStep; discount <= constraints.MaxDiscountPct; discount += constraints.GridStep {
			out = append(out, &api.PromoScenario{
				ID:    uuid.NewString(),
				Name:  fmt.Sprintf("Grid %s %g%%", dept, discount),
				Type:  api.ScenarioGrid,
				Range: brief.Range,
				Mechanics: []api.PromoMechanic{
					{Department: dept, Channel: channel, DiscountPct: discount},
				},
			})
		}
	}

	return out
}

func titleFor(kind api.ScenarioType) string {
	switch kind {
	case api.ScenarioConservative:
		return "Conservative"
	case api.ScenarioBalanced:
		return "Balanced"
	case api.ScenarioAggressive:
		return "Aggressive"
	default:
		return string(kind)
	}
}
