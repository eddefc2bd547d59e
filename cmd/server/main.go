package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ventture/credit-engine/internal/advisor"
	"github.com/ventture/credit-engine/internal/artifact"
	"github.com/ventture/credit-engine/internal/cache"
	"github.com/ventture/credit-engine/internal/catalog"
	"github.com/ventture/credit-engine/internal/engine"
	"github.com/ventture/credit-engine/internal/errors"
	"github.com/ventture/credit-engine/internal/history"
	"github.com/ventture/credit-engine/internal/monitoring"
	"github.com/ventture/credit-engine/internal/ratelimit"
	"github.com/ventture/credit-engine/internal/security"
	"github.com/ventture/credit-engine/internal/types"
)

// appConfig collects everything the server needs to come up. main fills
// it from the environment; tests fill it directly.
type appConfig struct {
	ModelPath     string
	SchemaPath    string
	CatalogPath   string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AnthropicKey  string
	Port          string

	Threshold      float64
	ExplainTimeout time.Duration
	CacheTTL       time.Duration

	RateLimit ratelimit.Config
	Security  security.Config
}

func configFromEnv() appConfig {
	return appConfig{
		ModelPath:     getEnvOrDefault("MODEL_PATH", "./artifacts/model.json"),
		SchemaPath:    getEnvOrDefault("SCHEMA_PATH", "./artifacts/schema.json"),
		CatalogPath:   os.Getenv("CATALOG_PATH"),
		DataDir:       getEnvOrDefault("DATA_DIR", "./data"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Port:          getEnvOrDefault("PORT", "8080"),

		Threshold:      getEnvFloatOrDefault("DECISION_THRESHOLD", engine.DefaultThreshold),
		ExplainTimeout: time.Duration(getEnvIntOrDefault("EXPLAIN_TIMEOUT_MS", 2000)) * time.Millisecond,
		CacheTTL:       time.Duration(getEnvIntOrDefault("CACHE_TTL_SECONDS", 900)) * time.Second,

		RateLimit: ratelimit.DefaultConfig(),
		Security:  security.DefaultConfig(),
	}
}

// app wires the engine and its supporting services together. Routes are
// attached by setupRouter so tests can drive the full middleware chain
// through httptest.
type app struct {
	cfg          appConfig
	store        *artifact.Store
	eng          *engine.Engine
	db           *history.DB
	historyStore *history.Store
	catalog      *catalog.Catalog
	metrics      *monitoring.Metrics
	logger       *monitoring.Logger
	redis        *ratelimit.RedisClient
	limiter      *ratelimit.RateLimiter
	cache        *cache.Cache
	advisor      *advisor.Advisor
}

func newApp(cfg appConfig) (*app, error) {
	// A server without a valid model/schema pair must not come up.
	store, err := artifact.NewStore(cfg.ModelPath, cfg.SchemaPath)
	if err != nil {
		return nil, err
	}

	eng := engine.New(store, engine.Config{
		Threshold:      cfg.Threshold,
		ExplainTimeout: cfg.ExplainTimeout,
	})

	db, err := history.NewDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	productCatalog := catalog.DefaultCatalog()
	if cfg.CatalogPath != "" {
		productCatalog, err = catalog.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("Product catalog loaded", "path", cfg.CatalogPath, "products", len(productCatalog.Products))
	}

	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}

	return &app{
		cfg:          cfg,
		store:        store,
		eng:          eng,
		db:           db,
		historyStore: history.NewStore(db),
		catalog:      productCatalog,
		metrics:      appMetrics,
		logger:       appLogger,
		redis:        redisClient,
		limiter:      ratelimit.NewRateLimiter(redisClient, cfg.RateLimit, appMetrics),
		cache:        cache.NewCache(cfg.CacheTTL),
		advisor:      advisor.New(cfg.AnthropicKey, appMetrics, appLogger),
	}, nil
}

// Close releases the app's connections. Safe to call once after newApp
// succeeded.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close history database", "error", err)
	}
	if err := a.redis.Close(); err != nil {
		slog.Warn("Failed to close redis client", "error", err)
	}
}

func (a *app) setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))

	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	securityMiddleware := security.NewMiddleware(a.cfg.Security)
	r.Use(securityMiddleware.SecurityHeaders)
	r.Use(securityMiddleware.RequestTimeout)
	r.Use(securityMiddleware.ValidateContentType)
	r.Use(securityMiddleware.LimitPayload)

	r.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.Security.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(a.limiter.IPRateLimitMiddleware())

	// Response cache keyed on request body and active schema version
	r.Use(a.cache.Middleware(a.metrics, func() string {
		return a.store.Active().SchemaVersion
	}, "/evaluate", "/offer"))

	r.GET("/health", func(c *gin.Context) {
		pair := a.store.Active()
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"timestamp":      time.Now().Format(time.RFC3339),
			"model_family":   pair.Model.Family(),
			"schema_version": pair.SchemaVersion,
			"features":       pair.Schema.Len(),
			"metrics":        a.metrics.GetStats(),
		})
	})

	// Each evaluation endpoint carries its own per-IP budget; a burst of
	// offer requests must not starve plain evaluations.
	evaluateLimit := a.limiter.EndpointRateLimitMiddleware("/evaluate", a.cfg.RateLimit.EvaluateLimitPerMin)
	offerLimit := a.limiter.EndpointRateLimitMiddleware("/offer", a.cfg.RateLimit.EvaluateLimitPerMin)

	r.POST("/evaluate", evaluateLimit, securityMiddleware.ValidateEvaluateRequest, a.handleEvaluate)
	r.POST("/offer", offerLimit, a.handleOffer)

	r.GET("/history", func(c *gin.Context) {
		limit := 50
		if limitStr := c.Query("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
				limit = l
			}
		}

		records, err := a.historyStore.ListRecent(limit)
		if err != nil {
			a.logger.APIErrorLogger(err, "GET", "/history", c.ClientIP(), http.StatusInternalServerError)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"evaluations": records,
			"count":       len(records),
		})
	})

	r.GET("/history/:id", func(c *gin.Context) {
		rec, err := a.historyStore.Get(c.Param("id"))
		if err != nil {
			a.logger.APIErrorLogger(err, "GET", "/history/"+c.Param("id"), c.ClientIP(), http.StatusInternalServerError)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve evaluation"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "evaluation not found"})
			return
		}

		c.JSON(http.StatusOK, rec)
	})

	r.GET("/catalog", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.catalog)
	})

	// Artifact reload: swap in a new model/schema pair without restart.
	// The old pair keeps serving until the new one validates.
	r.POST("/artifacts/reload", func(c *gin.Context) {
		if err := a.store.Reload(); err != nil {
			a.respondError(c, err)
			return
		}

		a.metrics.IncrementArtifactReload()
		a.cache.Clear()

		pair := a.store.Active()
		a.logger.ArtifactLogger("reload", pair.Model.Family(), pair.SchemaVersion, nil)

		c.JSON(http.StatusOK, gin.H{
			"message":        "artifact pair reloaded",
			"model_family":   pair.Model.Family(),
			"schema_version": pair.SchemaVersion,
		})
	})

	// Swagger documentation routes
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Metrics endpoint
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.metrics.GetStats())
	})

	// Cache stats endpoint
	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.cache.Stats())
	})

	// Database pool stats endpoint
	r.GET("/pools/database", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pool":  "database",
			"stats": a.db.GetPoolStats(),
		})
	})

	// Rate limiter stats endpoint
	r.GET("/ratelimit/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.limiter.GetStats())
	})

	// Performance profiling endpoints (development only)
	if os.Getenv("ENABLE_PROFILING") == "true" {
		slog.Info("Enabling performance profiling endpoints")
		r.GET("/debug/pprof/*filepath", gin.WrapF(pprof.Index))
		r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	return r
}

// respondError converts any evaluation failure to its HTTP shape,
// counting explanation timeouts so /metrics reflects perturbation
// budget pressure.
func (a *app) respondError(c *gin.Context, err error) {
	var timeoutErr *engine.ExplanationTimeoutError
	if stderrors.As(err, &timeoutErr) {
		a.metrics.IncrementExplanationTimeout()
	}

	appErr := errors.ToAppError(err)
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}

func (a *app) handleEvaluate(c *gin.Context) {
	req := c.MustGet("application").(*types.EvaluateRequest)

	start := time.Now()

	input, err := req.ToApplicationInput()
	if err != nil {
		a.respondError(c, err)
		return
	}

	report, err := a.eng.Evaluate(c.Request.Context(), input)
	if err != nil {
		a.respondError(c, err)
		return
	}

	pair := a.store.Active()
	approved := report.Prediction.Label == engine.LabelApproved
	a.metrics.RecordEvaluation(approved)

	resp := types.NewEvaluateResponse(report, pair.SchemaVersion)
	resp.Message = a.advisor.Compose(c.Request.Context(), advisor.Outcome{
		Approved:    approved,
		TopFeatures: topFeatureNames(report, 3),
	})

	rec, err := a.historyStore.RecordEvaluation(report, pair.Model.Family(), pair.SchemaVersion, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		slog.Error("Failed to record evaluation", "error", err)
	} else {
		resp.ID = rec.ID
	}

	topFeature := ""
	if len(report.Contributions) > 0 {
		topFeature = report.Contributions[0].Feature
	}
	a.logger.EvaluationLogger(string(report.Prediction.Label), report.Prediction.Probability,
		topFeature, pair.SchemaVersion, time.Since(start), false)

	c.JSON(http.StatusOK, resp)
}

func (a *app) handleOffer(c *gin.Context) {
	var req types.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.NewValidationError("invalid JSON format")
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := security.ValidateApplication(&req.EvaluateRequest); err != nil {
		appErr := errors.NewValidationError(err.Error())
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	input, err := req.ToApplicationInput()
	if err != nil {
		a.respondError(c, err)
		return
	}

	report, err := a.eng.Evaluate(c.Request.Context(), input)
	if err != nil {
		a.respondError(c, err)
		return
	}

	pair := a.store.Active()
	approved := report.Prediction.Label == engine.LabelApproved
	a.metrics.RecordEvaluation(approved)

	resp := types.OfferResponse{
		Decision:    string(report.Prediction.Label),
		Probability: report.Prediction.Probability,
		EvaluatedAt: report.EvaluatedAt,
	}

	rec, recErr := a.historyStore.RecordEvaluation(report, pair.Model.Family(), pair.SchemaVersion, c.ClientIP(), c.GetHeader("User-Agent"))
	if recErr != nil {
		slog.Error("Failed to record evaluation", "error", recErr)
	}

	if !approved {
		resp.Message = a.advisor.Compose(c.Request.Context(), advisor.Outcome{
			Approved:    false,
			TopFeatures: topFeatureNames(report, 3),
		})
		c.JSON(http.StatusOK, resp)
		return
	}

	offer := a.catalog.BestOffer(catalog.Applicant{
		Score:             catalog.ScoreFromProbability(report.Prediction.Probability),
		RequestedAmount:   req.CreditAmount,
		GuaranteeValue:    req.GuaranteeValue,
		LoyaltyYears:      req.LoyaltyYears,
		InvestmentBalance: req.InvestmentBalance,
	})

	if offer == nil {
		// Approved by the model but no product fits the profile.
		resp.Message = a.advisor.Compose(c.Request.Context(), advisor.Outcome{Approved: false})
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Eligible = true
	resp.ProductID = offer.Product.ID
	resp.ProductName = offer.Product.Name
	resp.ApprovedLimit = offer.ApprovedLimit
	resp.AnnualRate = offer.AnnualRate
	resp.TermMonths = offer.TermMonths
	resp.Message = a.advisor.Compose(c.Request.Context(), advisor.Outcome{
		Approved:    true,
		TopFeatures: topFeatureNames(report, 3),
		ProductName: offer.Product.Name,
	})

	if rec != nil {
		offerRec := history.NewOfferRecord(rec.ID, offer.Product.ID, offer.Product.Name,
			offer.ApprovedLimit, offer.AnnualRate, offer.TermMonths)
		if err := a.historyStore.RecordOffer(offerRec); err != nil {
			slog.Error("Failed to record offer", "error", err)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := configFromEnv()

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	r := a.setupRouter()

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port,
			"model_family", a.store.Active().Model.Family(),
			"schema_version", a.store.Active().SchemaVersion)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// topFeatureNames returns the names of the highest-ranked contributions.
func topFeatureNames(report engine.DecisionReport, n int) []string {
	if n > len(report.Contributions) {
		n = len(report.Contributions)
	}
	names := make([]string, 0, n)
	for _, c := range report.Contributions[:n] {
		names = append(names, c.Feature)
	}
	return names
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
