package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/promo-copilot/promoplan/internal/api"
	"github.com/promo-copilot/promoplan/internal/cache"
	"github.com/promo-copilot/promoplan/internal/config"
	"github.com/promo-copilot/promoplan/internal/evaluate"
	"github.com/promo-copilot/promoplan/internal/forecast"
	"github.com/promo-copilot/promoplan/internal/history"
	"github.com/promo-copilot/promoplan/internal/metrics"
	"github.com/promo-copilot/promoplan/internal/modelstore"
	"github.com/promo-copilot/promoplan/internal/optimize"
	"github.com/promo-copilot/promoplan/internal/uplift"
	"github.com/promo-copilot/promoplan/internal/validate"
	"github.com/promo-copilot/promoplan/pkg/otel"
)

type Server struct {
	cfg        *config.Planning
	store      history.Store
	models     modelstore.Store
	forecaster *forecast.Engine
	estimator  *uplift.Estimator
	evaluator  *evaluate.Evaluator
	validator  *validate.Engine
	optimizer  *optimize.Optimizer

	forecastCache *cache.Cache[string, *api.BaselineForecast]
	metrics       *metrics.Metrics
	limiter       *rate.Limiter

	lookbackDays    int
	optimizeTimeout time.Duration

	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	// Load planning config (rules, seasonality, targets, segments, costs)
	cfg, err := config.Load(config.GetEnv("PLANNING_CONFIG", "config/planning.yaml"))
	if err != nil {
		log.Fatalf("Failed to load planning config: %v", err)
	}

	// Setup history store
	historyBackend := config.GetEnv("HISTORY_BACKEND", "memory")
	var store history.Store

	switch historyBackend {
	case "memory":
		snapshotPath := config.GetEnv("HISTORY_SNAPSHOT", "data/history.json")
		store, err = history.NewMemoryStore(snapshotPath)
		if err != nil {
			log.Fatalf("Failed to create memory history store: %v", err)
		}
	case "postgres":
		connStr := config.GetEnv("POSTGRES_CONN", "")
		store, err = history.NewPostgresStore(connStr)
		if err != nil {
			log.Fatalf("Failed to create Postgres history store: %v", err)
		}
	default:
		log.Fatalf("Unknown HISTORY_BACKEND: %s", historyBackend)
	}

	// Setup model store
	modelBackend := config.GetEnv("MODEL_BACKEND", "memory")
	var models modelstore.Store

	switch modelBackend {
	case "memory":
		models = modelstore.NewMemoryStore()
	case "redis":
		redisAddr := config.GetEnv("REDIS_ADDR", "localhost:6379")
		redisPass := config.GetEnv("REDIS_PASSWORD", "")
		redisDB := config.GetEnvInt("REDIS_DB", 0)
		models, err = modelstore.NewRedisStore(redisAddr, redisPass, redisDB)
		if err != nil {
			log.Fatalf("Failed to create Redis model store: %v", err)
		}
	default:
		log.Fatalf("Unknown MODEL_BACKEND: %s", modelBackend)
	}

	// Planning engines
	forecaster := forecast.NewEngine(forecast.Params{
		Seasonality: cfg.Seasonality,
		TrendFactor: 1.0,
	})
	estimator := uplift.NewEstimator(forecaster, uplift.DefaultParams())

	evalOpts := []evaluate.Option{evaluate.WithCostModel(cfg.CostModel())}
	if cfg.Segments != nil {
		evalOpts = append(evalOpts, evaluate.WithSegmentProfile(cfg.Segments))
	}
	evaluator := evaluate.NewEvaluator(estimator, evalOpts...)
	validator := validate.NewEngine()
	optimizer := optimize.New(evaluator, validator)

	// Baseline cache: the history window only moves once a day.
	cacheSize := config.GetEnvInt("FORECAST_CACHE_SIZE", 256)
	cacheTTLMin := config.GetEnvInt("FORECAST_CACHE_TTL_MIN", 60)
	forecastCache, err := cache.New[string, *api.BaselineForecast](cacheSize, time.Duration(cacheTTLMin)*time.Minute)
	if err != nil {
		log.Fatalf("Failed to create forecast cache: %v", err)
	}

	// Setup metrics
	m := metrics.New()

	// Rate limiter
	tokenRate := config.GetEnvInt("TOKEN_RATE", 100)
	limiter := rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2)

	// Bootstrap an uplift model from the promo catalog when the store is
	// empty, so a fresh deployment can evaluate without an offline build.
	if config.GetEnv("MODEL_BOOTSTRAP", "true") == "true" {
		bootstrapModel(store, models, estimator, m)
	}

	// Tracing (optional; no-op tracer when the collector is unreachable)
	if config.GetEnv("OTEL_ENABLED", "") == "true" {
		otelCfg := otel.DefaultConfig("promoplan")
		otelCfg.CollectorEndpoint = config.GetEnv("OTEL_COLLECTOR", otelCfg.CollectorEndpoint)
		tp, err := otel.InitTracer(context.Background(), otelCfg)
		if err != nil {
			log.Printf("Tracing disabled: %v", err)
		} else {
			defer otel.Shutdown(context.Background(), tp)
		}
	}

	// Create server
	srv := &Server{
		cfg:             cfg,
		store:           store,
		models:          models,
		forecaster:      forecaster,
		estimator:       estimator,
		evaluator:       evaluator,
		validator:       validator,
		optimizer:       optimizer,
		forecastCache:   forecastCache,
		metrics:         m,
		limiter:         limiter,
		lookbackDays:    config.GetEnvInt("BASELINE_LOOKBACK_DAYS", 180),
		optimizeTimeout: time.Duration(config.GetEnvInt("OPTIMIZE_TIMEOUT_MS", 30000)) * time.Millisecond,
	}

	// Metrics auth
	srv.metricsAuth.enabled = config.GetEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = config.GetEnv("METRICS_USER", "")
	srv.metricsAuth.password = config.GetEnv("METRICS_PASS", "")

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/discovery/baseline", srv.handleBaseline)
	mux.HandleFunc("/v1/scenarios/evaluate", srv.handleEvaluate)
	mux.HandleFunc("/v1/scenarios/validate", srv.handleValidate)
	mux.HandleFunc("/v1/optimization/generate", srv.handleOptimize)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/health", handleHealth)

	// HTTP server
	port := config.GetEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // optimization runs can be slow
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close resources
	if err := store.Close(); err != nil {
		log.Printf("Error closing history store: %v", err)
	}
	if err := models.Close(); err != nil {
		log.Printf("Error closing model store: %v", err)
	}

	log.Println("Server stopped")
}

// bootstrapModel builds and publishes an initial uplift model when none is
// current yet. Failure is not fatal: the evaluate and optimize endpoints
// answer 422 until a model is published.
func bootstrapModel(store history.Store, models modelstore.Store, estimator *uplift.Estimator, m *metrics.Metrics) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := models.Current(ctx)
	if err != nil {
		log.Printf("Model bootstrap: store check failed: %v", err)
		return
	}
	if current != nil {
		log.Printf("Using uplift model %s (%d coefficients)", current.Version, len(current.Coefficients))
		return
	}

	catalog, err := store.ListCampaigns(ctx)
	if err != nil {
		log.Printf("Model bootstrap: catalog read failed: %v", err)
		return
	}
	records, err := store.QueryRecords(ctx, history.Filter{})
	if err != nil {
		log.Printf("Model bootstrap: history read failed: %v", err)
		return
	}

	model, err := estimator.BuildModel(catalog, records)
	if err != nil {
		m.ModelBuildErrors.Inc()
		log.Printf("Model bootstrap: build failed: %v", err)
		return
	}
	if err := models.Save(ctx, model); err != nil {
		m.ModelBuildErrors.Inc()
		log.Printf("Model bootstrap: save failed: %v", err)
		return
	}

	m.ModelBuilds.Inc()
	m.CoefficientsBuilt.Set(float64(len(model.Coefficients)))
	log.Printf("Built uplift model %s: %d coefficients from %d campaigns",
		model.Version, len(model.Coefficients), len(catalog))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
