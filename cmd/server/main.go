package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/liftlab/adpilot/internal/actuator"
	"github.com/liftlab/adpilot/internal/autolog"
	"github.com/liftlab/adpilot/internal/brand"
	"github.com/liftlab/adpilot/internal/cache"
	"github.com/liftlab/adpilot/internal/experiment"
	"github.com/liftlab/adpilot/internal/guardrail"
	"github.com/liftlab/adpilot/internal/metrics"
	"github.com/liftlab/adpilot/internal/optimizer"
	"github.com/liftlab/adpilot/internal/sched"
	"github.com/liftlab/adpilot/pkg/otel"
)

type Server struct {
	repo       experiment.Repository
	brands     *brand.Manager
	expCache   *cache.ExperimentCache
	guard      *guardrail.Manager
	optimizer  *optimizer.AutoOptimizer
	metrics    *metrics.Metrics
	killSwitch atomic.Bool

	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	ctx := context.Background()

	// Tracing (optional, off unless a collector endpoint is configured)
	if endpoint := getEnv("OTEL_COLLECTOR_ENDPOINT", ""); endpoint != "" {
		otelConfig := otel.DefaultConfig("adpilot-server")
		otelConfig.CollectorEndpoint = endpoint
		otelConfig.Environment = getEnv("ENVIRONMENT", "production")

		tp, err := otel.InitTracer(ctx, otelConfig)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := otel.Shutdown(context.Background(), tp); err != nil {
				log.Printf("Tracer shutdown error: %v", err)
			}
		}()
	}

	// Setup experiment store
	expBackend := getEnv("EXPERIMENT_BACKEND", "memory")
	var repo experiment.Repository
	var err error

	switch expBackend {
	case "memory":
		repo = experiment.NewMemoryRepository()
	case "postgres":
		connStr := getEnv("POSTGRES_CONN", "")
		repo, err = experiment.NewPostgresRepository(ctx, connStr)
		if err != nil {
			log.Fatalf("Failed to create Postgres repository: %v", err)
		}
	default:
		log.Fatalf("Unknown EXPERIMENT_BACKEND: %s", expBackend)
	}

	// Setup guardrail rate ledger
	ledgerBackend := getEnv("LEDGER_BACKEND", "memory")
	var ledger guardrail.Ledger

	switch ledgerBackend {
	case "memory":
		ledger = guardrail.NewMemoryLedger()
	case "redis":
		redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
		redisPass := getEnv("REDIS_PASSWORD", "")
		redisDB := getEnvInt("REDIS_DB", 0)
		ledger, err = guardrail.NewRedisLedger(redisAddr, redisPass, redisDB)
		if err != nil {
			log.Fatalf("Failed to create Redis ledger: %v", err)
		}
	default:
		log.Fatalf("Unknown LEDGER_BACKEND: %s", ledgerBackend)
	}

	guardConfig := guardrail.DefaultConfig()
	guardConfig.FailureThreshold = getEnvInt("GUARDRAIL_FAILURE_THRESHOLD", guardConfig.FailureThreshold)
	if h := getEnvInt("BUDGET_WINDOW_HOURS", 0); h > 0 {
		guardConfig.Windows[guardrail.ActionAdjustBudget] = time.Duration(h) * time.Hour
	}
	guard := guardrail.NewManager(ledger, guardConfig)

	// Ad platform executor, wrapped by the guardrail
	executor := actuator.NewLogExecutor(getEnv("AD_PLATFORM", "log"))
	guarded := guardrail.NewGuardedActuator(executor, guard)

	// Automation decision log
	var logSink autolog.Sink
	if logDir := getEnv("AUTOMATION_LOG_DIR", ""); logDir != "" {
		logSink, err = autolog.NewFileLog(logDir)
		if err != nil {
			log.Fatalf("Failed to create automation log: %v", err)
		}
	} else {
		logSink = autolog.NewMemoryLog()
	}

	// Setup metrics
	m := metrics.New()

	// Optimizer
	opt := optimizer.New(repo, guarded, logSink, m, optimizer.DefaultConfig())

	// Brand registry
	brands := brand.NewManager()
	if err := brands.Register(brand.DefaultBrand()); err != nil {
		log.Fatalf("Failed to register default brand: %v", err)
	}

	// Read-through cache on the assignment path
	cacheTTL := time.Duration(getEnvInt("CACHE_TTL_SECONDS", 30)) * time.Second
	expCache, err := cache.NewExperimentCache(getEnvInt("CACHE_SIZE", 1024), cacheTTL)
	if err != nil {
		log.Fatalf("Failed to create experiment cache: %v", err)
	}

	// Create server
	srv := &Server{
		repo:      repo,
		brands:    brands,
		expCache:  expCache,
		guard:     guard,
		optimizer: opt,
		metrics:   m,
	}
	srv.killSwitch.Store(getEnv("AUTO_OPTIMIZE_KILL_SWITCH", "") == "true")

	// Metrics auth
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	// Background evaluation sweep
	var evaluator *sched.Evaluator
	if getEnv("EVAL_ENABLED", "true") == "true" {
		interval := time.Duration(getEnvInt("EVAL_INTERVAL_SECONDS", 900)) * time.Second
		evaluator = sched.NewEvaluator(repo, brands, opt, interval, srv.killSwitch.Load)
		evaluator.Start(ctx)
	}

	// HTTP server
	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s (experiments=%s, ledger=%s)", port, expBackend, ledgerBackend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if evaluator != nil {
		evaluator.Stop()
	}

	// Close resources
	if err := logSink.Close(); err != nil {
		log.Printf("Error closing automation log: %v", err)
	}
	if err := ledger.Close(); err != nil {
		log.Printf("Error closing rate ledger: %v", err)
	}
	if err := repo.Close(); err != nil {
		log.Printf("Error closing experiment repository: %v", err)
	}

	log.Println("Server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
