package optimize

import "github.com/promo-copilot/promoplan/internal/api"

// Frontier positions every candidate on the sales (x) / margin (y) plane and
// marks the Pareto-optimal ones. A point is dominated when another point is
// at least as good on both axes and strictly better on one. Coordinate ties
// resolve in favor of the candidate generated first, regardless of how the
// slice is ordered when it arrives here.
func Frontier(candidates []Candidate) []api.FrontierPoint {
	points := make([]api.FrontierPoint, len(candidates))
	for i, c := range candidates {
		points[i] = api.FrontierPoint{
			ScenarioID:    c.Scenario.ID,
			X:             objectiveValue(c.KPI, "sales"),
			Y:             objectiveValue(c.KPI, "margin"),
			ParetoOptimal: true,
		}
	}

	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			if dominates(points[j], points[i]) {
				points[i].ParetoOptimal = false
				break
			}
			if points[i].X == points[j].X && points[i].Y == points[j].Y &&
				candidates[j].Index < candidates[i].Index {
				points[i].ParetoOptimal = false
				break
			}
		}
	}
	return points
}

func dominates(a, b api.FrontierPoint) bool {
	if a.X < b.X || a.Y < b.Y {
		return false
	}
	return a.X > b.X || a.Y > b.Y
}
