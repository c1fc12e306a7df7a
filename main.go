package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"case-forge/config"
	"case-forge/llm"
	"case-forge/models"
	"case-forge/providers"
	"case-forge/providers/finance"
	"case-forge/providers/gnews"
	"case-forge/providers/newsapi"
	"case-forge/providers/wikipedia"
	"case-forge/services"
	"case-forge/storage"
)

var enrichedCasesCounter prometheus.Counter

func init() {
	enrichedCasesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cases_enriched_total",
			Help: "Total number of cases enriched by the scheduled job.",
		},
	)
	prometheus.MustRegister(enrichedCasesCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if cfg.Debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			logging = dev
			defer dev.Sync()
		}
	}

	// Setup Database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.CaseStudy{}, &models.QuizQuestion{}, &models.CaseGenerationLog{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Cache
	var cache storage.Cache = storage.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logging.Warn("Redis not reachable, falling back to in-memory cache", zap.Error(err))
		} else {
			cache = storage.NewRedisCache(rdb, "case-forge:", logging)
			logging.Info("Using redis cache", zap.String("addr", cfg.RedisAddr))
		}
		cancel()
	}

	// Setup Providers
	newsFetcher := newsapi.NewFetcher(cfg, logging)
	gnewsFetcher := gnews.NewFetcher(cfg, logging, cache)
	connectors := []providers.Connector{
		wikipedia.NewFetcher(cfg, logging),
		newsFetcher,
		gnewsFetcher,
		finance.NewFetcher(cfg, logging),
	}
	var names []string
	for _, c := range connectors {
		names = append(names, c.Name())
	}
	logging.Info("Active connectors loaded", zap.Strings("connectors", names))

	// Setup Generation Client
	client, err := llm.New(cfg, logging)
	if err != nil {
		if !errors.Is(err, llm.ErrMissingAPIKey) {
			logging.Fatal("LLM client creation failed", zap.Error(err))
		}
		logging.Warn("No LLM_API_KEY configured, synthesis will use the local fallback",
			zap.Bool("local_fallback", cfg.LocalFallbackEnabled))
		client = nil
	}

	var archive services.Archiver
	if cfg.ArchiveEnabled() {
		a, err := storage.NewArchive(context.Background(), cfg)
		if err != nil {
			logging.Warn("S3 archive creation failed, raw responses will not be archived", zap.Error(err))
		} else {
			archive = a
		}
	}

	// Setup Services
	repo := storage.NewCaseRepository(db, logging)
	audit := storage.NewAuditLog(db, logging, cfg.LogAuditFailures, cfg.LogPreviewChars)

	var enhancerNews providers.Connector = newsFetcher
	if cfg.NewsAPIKey == "" {
		enhancerNews = gnewsFetcher
	}
	enhancer := services.NewEnhancer(client, cfg.LLMModel, enhancerNews, cfg.SnippetMaxChars, logging)
	enrichment := services.NewEnrichmentService(cfg, logging, connectors, enhancer, repo, audit)
	synthesis := services.NewSynthesisService(cfg, logging, repo, audit, client, archive)

	// Setup Router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, db, enrichment, synthesis, logging)

	// Setup Cron
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled enrichment job...")
		count, err := enrichment.EnrichPending(context.Background(), cfg.CronBatchSize)
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
			return
		}
		logging.Info("Cron job completed", zap.Int("enriched_cases", count))
		enrichedCasesCounter.Add(float64(count))
	})
	if err != nil {
		logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Synthese mit mehreren Modellen kann mehrere Minuten dauern.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, db *gorm.DB, enrichment *services.EnrichmentService, synthesis *services.SynthesisService, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			log.Error("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupEnrichRoutes(router, enrichment, log)
	setupCaseRoutes(router, enrichment, synthesis, log)
	return router
}

func setupEnrichRoutes(router *gin.Engine, enrichment *services.EnrichmentService, log *zap.Logger) {
	// POST /enrich
	// Body: { companyName, title, ticker, shortSummary, periodStart, periodEnd }
	router.POST("/enrich", func(c *gin.Context) {
		var req services.EnrichContext
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.CodeInvalidInput, "message": "invalid body"})
			return
		}
		res, err := enrichment.Enrich(context.WithoutCancel(c.Request.Context()), req)
		if err != nil {
			respondError(c, log, err, nil)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func setupCaseRoutes(router *gin.Engine, enrichment *services.EnrichmentService, synthesis *services.SynthesisService, log *zap.Logger) {
	rg := router.Group("/cases")

	rg.POST("/:id/enrich", func(c *gin.Context) {
		id, ok := parseCaseID(c)
		if !ok {
			return
		}
		res, err := enrichment.EnrichCase(context.WithoutCancel(c.Request.Context()), id)
		if err != nil {
			respondError(c, log, err, nil)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// Läuft bis zum Ende, auch wenn der Client die Verbindung schließt.
	rg.POST("/:id/synthesize", func(c *gin.Context) {
		id, ok := parseCaseID(c)
		if !ok {
			return
		}
		res, err := synthesis.Synthesize(context.WithoutCancel(c.Request.Context()), id)
		if err != nil {
			var se *services.SynthesisError
			var diag *services.Diagnostics
			if errors.As(err, &se) {
				diag = se.Diagnostics
			}
			respondError(c, log, err, diag)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func parseCaseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.CodeInvalidInput, "message": "invalid case id"})
		return 0, false
	}
	return uint(id), true
}

func respondError(c *gin.Context, log *zap.Logger, err error, diag *services.Diagnostics) {
	code := services.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	body := gin.H{"error": code, "message": err.Error()}
	if code == "" {
		body["error"] = "internal_error"
	}
	if diag != nil {
		body["diagnostics"] = diag
	}
	c.JSON(status, body)
}

func statusForCode(code string) int {
	switch code {
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeInvalidInput:
		return http.StatusBadRequest
	case services.CodeMissingAPIKey, services.CodeModelHTTP, services.CodeEmptyResponse, services.CodeParseError,
		services.CodeEmptyNarrative, services.CodeNoQuestions, services.CodeIncorrectQuestionCount, services.CodeModelError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
