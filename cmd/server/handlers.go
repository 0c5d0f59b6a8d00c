package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/cache"
	"github.com/promo-copilot/promoplan/internal/forecast"
	"github.com/promo-copilot/promoplan/internal/history"
	"github.com/promo-copilot/promoplan/internal/optimize"
	"github.com/promo-copilot/promoplan/pkg/otel"
)

const maxBodyBytes = 1 << 20 // 1MB

type baselineRequest struct {
	Range      api.DateRange `json:"date_range"`
	Channel    api.Channel   `json:"channel,omitempty"`
	Department string        `json:"department,omitempty"`
	Targets    *api.Targets  `json:"targets,omitempty"`
}

type baselineResponse struct {
	Baseline *api.BaselineForecast `json:"baseline"`
	Gap      *api.GapAnalysis      `json:"gap_analysis,omitempty"`
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	counter := s.metrics.ForecastRequests
	done := s.observe("baseline")
	defer done()

	var req baselineRequest
	if !s.acceptPost(w, r, &req, counter) {
		return
	}

	ctx, span := otel.StartSpan(r.Context(), "promoplan", "discovery.baseline")
	defer span.End()

	baseline, err := s.baseline(ctx, req.Range, req.Channel, req.Department)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}
	span.SetAttributes(otel.ForecastAttributes(
		req.Range.Start.Format("2006-01-02"), req.Range.End.Format("2006-01-02"),
		string(req.Channel), baseline.GapDays)...)

	resp := baselineResponse{Baseline: baseline}
	if req.Targets != nil {
		gap := forecast.GapVsTargets(baseline, *req.Targets)
		resp.Gap = &gap
	}

	counter.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

type evaluateRequest struct {
	Scenario *api.PromoScenario `json:"scenario"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	counter := s.metrics.EvaluateRequests
	done := s.observe("evaluate")
	defer done()

	var req evaluateRequest
	if !s.acceptPost(w, r, &req, counter) {
		return
	}
	if req.Scenario == nil {
		counter.WithLabelValues("input_error").Inc()
		http.Error(w, "scenario is required", http.StatusBadRequest)
		return
	}

	ctx, span := otel.StartSpan(r.Context(), "promoplan", "scenarios.evaluate",
		otel.ScenarioAttributes(req.Scenario.ID, string(req.Scenario.Type), "", len(req.Scenario.Mechanics))...)
	defer span.End()

	baseline, model, err := s.planningInputs(ctx, req.Scenario.Range)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}

	kpi, err := s.evaluator.Evaluate(req.Scenario, baseline, model)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}

	counter.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, kpi)
}

type validateRequest struct {
	Scenario *api.PromoScenario `json:"scenario"`
	KPI      *api.ScenarioKPI   `json:"kpi"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	counter := s.metrics.ValidateRequests
	done := s.observe("validate")
	defer done()

	var req validateRequest
	if !s.acceptPost(w, r, &req, counter) {
		return
	}
	if req.Scenario == nil {
		counter.WithLabelValues("input_error").Inc()
		http.Error(w, "scenario is required", http.StatusBadRequest)
		return
	}

	_, span := otel.StartSpan(r.Context(), "promoplan", "scenarios.validate")
	defer span.End()

	report, err := s.validator.Validate(req.Scenario, req.KPI, s.cfg.Rules)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}
	span.SetAttributes(otel.ValidationAttributes(string(report.Status), report.Score)...)
	s.metrics.ValidationOutcomes.WithLabelValues(string(report.Status)).Inc()

	counter.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, report)
}

type optimizeRequest struct {
	Brief        optimize.Brief        `json:"brief"`
	Constraints  *optimize.Constraints `json:"constraints,omitempty"`
	NumScenarios int                   `json:"num_scenarios,omitempty"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	counter := s.metrics.OptimizeRequests
	done := s.observe("optimize")
	defer done()

	var req optimizeRequest
	if !s.acceptPost(w, r, &req, counter) {
		return
	}

	// Requests tune the grid; the business rules always come from server
	// configuration.
	constraints := optimize.DefaultConstraints()
	constraints.Rules = s.cfg.Rules
	if req.Constraints != nil {
		if req.Constraints.MaxDiscountPct > 0 {
			constraints.MaxDiscountPct = req.Constraints.MaxDiscountPct
		}
		if req.Constraints.GridStep > 0 {
			constraints.GridStep = req.Constraints.GridStep
		}
		if req.Constraints.Concurrency > 0 {
			constraints.Concurrency = req.Constraints.Concurrency
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.optimizeTimeout)
	defer cancel()

	ctx, span := otel.StartSpan(ctx, "promoplan", "optimization.generate")
	defer span.End()

	baseline, model, err := s.planningInputs(ctx, req.Brief.Range)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}

	result, err := s.optimizer.Optimize(ctx, req.Brief, constraints, req.NumScenarios, baseline, model)
	if err != nil {
		otel.RecordError(span, err, "")
		s.respondError(w, err, counter)
		return
	}

	s.metrics.CandidatesEvaluated.Add(float64(len(result.Ranked) + len(result.Excluded)))
	s.metrics.CandidatesBlocked.Add(float64(countBlocked(result.Excluded)))
	if result.Truncated {
		s.metrics.OptimizeTruncated.Inc()
	}
	span.SetAttributes(otel.OptimizeAttributes(
		len(result.Ranked)+len(result.Excluded), len(result.Excluded), result.Truncated)...)

	counter.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// countBlocked counts the exclusions the validator blocked; evaluation
// failures are excluded too but are not rule blocks.
func countBlocked(excluded []optimize.Candidate) int {
	n := 0
	for _, c := range excluded {
		if c.Report != nil && c.Report.Status == api.StatusBlock {
			n++
		}
	}
	return n
}

// baseline computes (or serves from cache) the baseline forecast for a
// window.
func (s *Server) baseline(ctx context.Context, rng api.DateRange, channel api.Channel, department string) (*api.BaselineForecast, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var depts []string
	if department != "" {
		depts = []string{department}
	}
	key := cache.ForecastKey(rng, channel, depts)
	if cached, ok := s.forecastCache.Get(key); ok {
		s.metrics.ForecastCacheHits.Inc()
		return cached, nil
	}
	s.metrics.ForecastCacheMisses.Inc()

	// The comparable population is the lookback window before the forecast
	// range, promo days excluded by the forecaster itself.
	records, err := s.store.QueryRecords(ctx, history.Filter{
		Range: api.DateRange{
			Start: rng.Start.AddDate(0, 0, -s.lookbackDays),
			End:   rng.Start.AddDate(0, 0, -1),
		},
		Channel:     channel,
		Departments: depts,
	})
	if err != nil {
		return nil, err
	}

	baseline, err := s.forecaster.Forecast(records, rng, channel, department)
	if err != nil {
		return nil, err
	}

	s.forecastCache.Set(key, baseline)
	return baseline, nil
}

// planningInputs resolves the baseline over the scenario window and the
// current uplift model.
func (s *Server) planningInputs(ctx context.Context, rng api.DateRange) (*api.BaselineForecast, *api.UpliftModel, error) {
	baseline, err := s.baseline(ctx, rng, "", "")
	if err != nil {
		return nil, nil, err
	}

	model, err := s.models.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, nil, &api.EmptyCatalogError{}
	}
	return baseline, model, nil
}

// acceptPost enforces method, rate limit, and body decoding for the POST
// endpoints. Returns false when the request was already answered.
func (s *Server) acceptPost(w http.ResponseWriter, r *http.Request, into any, counter *prometheus.CounterVec) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		counter.WithLabelValues("input_error").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		counter.WithLabelValues("input_error").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// respondError maps the planning error kinds onto HTTP statuses: data
// insufficiency and infeasibility are 422 (well-formed request, unanswerable
// question), everything else on the request path is 400.
func (s *Server) respondError(w http.ResponseWriter, err error, counter *prometheus.CounterVec) {
	var insufficient *api.InsufficientHistoryError
	var emptyCatalog *api.EmptyCatalogError
	var unknownDim *api.UnknownDimensionError
	var noFeasible *api.NoFeasibleScenarioError

	switch {
	case errors.As(err, &noFeasible):
		counter.WithLabelValues("insufficient_data").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        noFeasible.Error(),
			"candidates":   noFeasible.Candidates,
			"best_blocked": noFeasible.BestBlocked,
			"best_report":  noFeasible.BestReport,
		})
	case errors.As(err, &insufficient), errors.As(err, &emptyCatalog), errors.As(err, &unknownDim):
		counter.WithLabelValues("insufficient_data").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		counter.WithLabelValues("input_error").Inc()
		log.Printf("Request rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

func (s *Server) observe(endpoint string) func() {
	start := time.Now()
	return func() {
		s.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
