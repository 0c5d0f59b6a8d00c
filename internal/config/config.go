package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/evaluate"
	"github.com/promo-copilot/promoplan/internal/forecast"
	"github.com/promo-copilot/promoplan/internal/validate"
)

// Planning is the file-based configuration: business rules, seasonality,
// annual targets, segment profiles, and the promo cost allocation. Endpoint
// wiring (ports, backends, credentials) stays in the environment.
type Planning struct {
	Rules       validate.RuleSet             `yaml:"rules"`
	Seasonality forecast.SeasonalityProfile  `yaml:"seasonality"`
	Targets     *api.Targets                 `yaml:"targets"`
	Segments    *evaluate.SegmentProfile     `yaml:"segments"`
	Costs       *CostAllocation              `yaml:"costs"`
}

// CostAllocation configures the fixed promo cost model.
type CostAllocation struct {
	PerScenario float64 `yaml:"per_scenario"`
	PerMechanic float64 `yaml:"per_mechanic"`
}

// Default returns a configuration with default rules, flat seasonality, no
// targets, and zero promo cost.
func Default() *Planning {
	return &Planning{Rules: validate.DefaultRules()}
}

// Load reads the planning configuration from a YAML file. A missing file
// yields the defaults; a malformed file is an error.
func Load(path string) (*Planning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CostModel builds the evaluator cost model from the configuration.
func (p *Planning) CostModel() evaluate.CostModel {
	if p.Costs == nil {
		return evaluate.ZeroCost{}
	}
	return evaluate.FixedAllocation{
		PerScenario: p.Costs.PerScenario,
		PerMechanic: p.Costs.PerMechanic,
	}
}

// GetEnv returns the environment value for key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns the integer environment value for key, or defaultValue
// when unset or unparsable.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
