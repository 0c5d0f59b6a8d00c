package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/config"
	"github.com/promo-copilot/promoplan/internal/evaluate"
	"github.com/promo-copilot/promoplan/internal/forecast"
	"github.com/promo-copilot/promoplan/internal/history"
	"github.com/promo-copilot/promoplan/internal/optimize"
	"github.com/promo-copilot/promoplan/internal/uplift"
	"github.com/promo-copilot/promoplan/internal/validate"
)

var (
	// Global flags
	historyPath string
	configPath  string
	outputPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promoctl",
		Short: "Offline promotional planning runs against a history snapshot",
		Long: `promoctl runs the planning pipeline file-to-file: baseline forecasts,
uplift model builds, scenario evaluation and validation, and full
optimization runs, all against a local history snapshot.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&historyPath, "history", "H", "data/history.json", "History snapshot file (JSON)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/planning.yaml", "Planning config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "out", "o", "", "Output file (default stdout)")

	// Subcommands
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(buildModelCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(optimizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// planningContext bundles the pieces every subcommand needs.
type planningContext struct {
	cfg        *config.Planning
	store      *history.MemoryStore
	forecaster *forecast.Engine
	estimator  *uplift.Estimator
	evaluator  *evaluate.Evaluator
	validator  *validate.Engine
}

func load() (*planningContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := history.NewMemoryStore(historyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load history snapshot: %w", err)
	}

	forecaster := forecast.NewEngine(forecast.Params{
		Seasonality: cfg.Seasonality,
		TrendFactor: 1.0,
	})
	estimator := uplift.NewEstimator(forecaster, uplift.DefaultParams())

	evalOpts := []evaluate.Option{evaluate.WithCostModel(cfg.CostModel())}
	if cfg.Segments != nil {
		evalOpts = append(evalOpts, evaluate.WithSegmentProfile(cfg.Segments))
	}

	return &planningContext{
		cfg:        cfg,
		store:      store,
		forecaster: forecaster,
		estimator:  estimator,
		evaluator:  evaluate.NewEvaluator(estimator, evalOpts...),
		validator:  validate.NewEngine(),
	}, nil
}

// baseline queries the snapshot and forecasts the window.
func (pc *planningContext) baseline(rng api.DateRange, channel api.Channel, department string) (*api.BaselineForecast, error) {
	var depts []string
	if department != "" {
		depts = []string{department}
	}
	records, err := pc.store.QueryRecords(context.Background(), history.Filter{
		Range: api.DateRange{
			Start: rng.Start.AddDate(0, 0, -365),
			End:   rng.Start.AddDate(0, 0, -1),
		},
		Channel:     channel,
		Departments: depts,
	})
	if err != nil {
		return nil, err
	}
	return pc.forecaster.Forecast(records, rng, channel, department)
}

func forecastCmd() *cobra.Command {
	var startStr, endStr, channel, department string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Compute a baseline forecast for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := load()
			if err != nil {
				return err
			}

			rng, err := parseRange(startStr, endStr)
			if err != nil {
				return err
			}

			baseline, err := pc.baseline(rng, api.Channel(channel), department)
			if err != nil {
				return err
			}

			out := map[string]any{"baseline": baseline}
			if pc.cfg.Targets != nil {
				gap := forecast.GapVsTargets(baseline, *pc.cfg.Targets)
				out["gap_analysis"] = gap
			}
			return emit(out)
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "Range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "Range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel filter (online/offline)")
	cmd.Flags().StringVar(&department, "department", "", "Department filter")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func buildModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-model",
		Short: "Build a new uplift model version from the promo catalog",
		Long: `Measures historical uplift per (department, channel, discount band) from the
promo campaigns in the history snapshot and emits a new immutable model
version. Publish the output file to the model store to make it current.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			catalog, err := pc.store.ListCampaigns(ctx)
			if err != nil {
				return err
			}
			records, err := pc.store.QueryRecords(ctx, history.Filter{})
			if err != nil {
				return err
			}

			model, err := pc.estimator.BuildModel(catalog, records)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "built model %s: %d coefficients from %d campaigns\n",
				model.Version, len(model.Coefficients), len(catalog))
			return emit(model)
		},
	}
	return cmd
}

func evaluateCmd() *cobra.Command {
	var scenarioPath, modelPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a scenario file against a model file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := load()
			if err != nil {
				return err
			}

			var scenario api.PromoScenario
			if err := readJSON(scenarioPath, &scenario); err != nil {
				return err
			}
			var model api.UpliftModel
			if err := readJSON(modelPath, &model); err != nil {
				return err
			}

			baseline, err := pc.baseline(scenario.Range, "", "")
			if err != nil {
				return err
			}

			kpi, err := pc.evaluator.Evaluate(&scenario, baseline, &model)
			if err != nil {
				return err
			}
			return emit(kpi)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file (JSON)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Uplift model file (JSON)")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("model")
	return cmd
}

func validateCmd() *cobra.Command {
	var scenarioPath, kpiPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario (and optional KPI file) against the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := load()
			if err != nil {
				return err
			}

			var scenario api.PromoScenario
			if err := readJSON(scenarioPath, &scenario); err != nil {
				return err
			}
			var kpi *api.ScenarioKPI
			if kpiPath != "" {
				kpi = &api.ScenarioKPI{}
				if err := readJSON(kpiPath, kpi); err != nil {
					return err
				}
			}

			report, err := pc.validator.Validate(&scenario, kpi, pc.cfg.Rules)
			if err != nil {
				return err
			}
			return emit(report)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file (JSON)")
	cmd.Flags().StringVar(&kpiPath, "kpi", "", "KPI file (JSON, optional)")
	cmd.MarkFlagRequired("scenario")
	return cmd
}

func optimizeCmd() *cobra.Command {
	var briefPath, modelPath string
	var numScenarios, timeoutSec int

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run a full optimization for a campaign brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := load()
			if err != nil {
				return err
			}

			var brief optimize.Brief
			if err := readJSON(briefPath, &brief); err != nil {
				return err
			}
			var model api.UpliftModel
			if err := readJSON(modelPath, &model); err != nil {
				return err
			}

			baseline, err := pc.baseline(brief.Range, "", "")
			if err != nil {
				return err
			}

			constraints := optimize.DefaultConstraints()
			constraints.Rules = pc.cfg.Rules

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
			defer cancel()

			optimizer := optimize.New(pc.evaluator, pc.validator)
			result, err := optimizer.Optimize(ctx, brief, constraints, numScenarios, baseline, &model)
			if err != nil {
				return err
			}
			return emit(result)
		},
	}

	cmd.Flags().StringVar(&briefPath, "brief", "", "Campaign brief file (JSON)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Uplift model file (JSON)")
	cmd.Flags().IntVarP(&numScenarios, "num", "n", 3, "Number of ranked scenarios to keep")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 60, "Run deadline in seconds")
	cmd.MarkFlagRequired("brief")
	cmd.MarkFlagRequired("model")
	return cmd
}

func parseRange(start, end string) (api.DateRange, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return api.DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return api.DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	rng := api.DateRange{Start: s, End: e}
	return rng, rng.Validate()
}

func readJSON(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func emit(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}
