package api

import "fmt"

// The core distinguishes input errors (malformed request, rejected before any
// computation) from data-insufficiency errors (the history cannot support an
// answer). The types below are the insufficiency kinds plus optimizer
// infeasibility; callers match them with errors.As.

// InsufficientHistoryError means zero historical records matched the filter
// combination across the entire requested range. Per-day gaps degrade to 0;
// zero coverage for the whole range makes the forecast meaningless.
type InsufficientHistoryError struct {
	Range      DateRange
	Channel    Channel
	Department string
}

func (e *InsufficientHistoryError) Error() string {
	msg := fmt.Sprintf("no historical records for %s..%s",
		e.Range.Start.Format("2006-01-02"), e.Range.End.Format("2006-01-02"))
	if e.Channel != "" {
		msg += fmt.Sprintf(" channel=%s", e.Channel)
	}
	if e.Department != "" {
		msg += fmt.Sprintf(" department=%s", e.Department)
	}
	return msg
}

// EmptyCatalogError means the promo catalog contained zero extractable
// campaigns; an uplift model needs at least one discount/uplift pair.
type EmptyCatalogError struct{}

func (e *EmptyCatalogError) Error() string {
	return "promo catalog contains no extractable campaigns"
}

// UnknownDimensionError means a mechanic references a department/channel the
// baseline never forecast.
type UnknownDimensionError struct {
	Department string
	Channel    Channel
}

func (e *UnknownDimensionError) Error() string {
	return fmt.Sprintf("dimension not present in baseline: department=%s channel=%s",
		e.Department, e.Channel)
}

// RuleConfigError means the validator's rule configuration itself is
// malformed. Rule violations never produce this.
type RuleConfigError struct {
	Field  string
	Reason string
}

func (e *RuleConfigError) Error() string {
	return fmt.Sprintf("invalid rule config: %s: %s", e.Field, e.Reason)
}

// UnknownModelVersionError means a caller referenced an uplift model version
// the model store never saw.
type UnknownModelVersionError struct {
	Version string
}

func (e *UnknownModelVersionError) Error() string {
	return fmt.Sprintf("unknown uplift model version %q", e.Version)
}

// NoFeasibleScenarioError means every generated candidate was blocked or
// failed evaluation. The best-scoring blocked candidate is attached for
// diagnosis rather than silently recommending an invalid scenario.
type NoFeasibleScenarioError struct {
	Candidates  int
	BestBlocked *PromoScenario
	BestReport  *ValidationReport
}

func (e *NoFeasibleScenarioError) Error() string {
	if e.BestBlocked != nil {
		return fmt.Sprintf("no feasible scenario among %d candidates (best blocked: %q)",
			e.Candidates, e.BestBlocked.Name)
	}
	return fmt.Sprintf("no feasible scenario among %d candidates", e.Candidates)
}
