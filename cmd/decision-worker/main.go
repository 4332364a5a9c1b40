package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/leaseline/leasing-ai-platform/cmd/mainconfig"
	"github.com/leaseline/leasing-ai-platform/internal/api/router"
	"github.com/leaseline/leasing-ai-platform/internal/audit"
	appconfig "github.com/leaseline/leasing-ai-platform/internal/config"
	"github.com/leaseline/leasing-ai-platform/internal/connector"
	"github.com/leaseline/leasing-ai-platform/internal/credentials"
	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/llm"
	"github.com/leaseline/leasing-ai-platform/internal/observability/metrics"
	"github.com/leaseline/leasing-ai-platform/internal/orchestrator"
	"github.com/leaseline/leasing-ai-platform/internal/queue"
	"github.com/leaseline/leasing-ai-platform/internal/reply"
	"github.com/leaseline/leasing-ai-platform/internal/rpa"
	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("decision worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit database", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()
	auditService := audit.NewService(auditDB)

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	decisionMetrics := metrics.NewDecisionMetrics(nil)

	var dlq orchestrator.DeadLetterSink
	switch {
	case cfg.UseMemoryQueue:
		dlq = queue.NewDeadLetterPublisher(queue.NewMemoryQueue(100))
	case cfg.DeadLetterQueueURL != "":
		sqsClient := sqs.NewFromConfig(awsConfig)
		dlq = queue.NewDeadLetterPublisher(queue.NewSQSQueue(sqsClient, cfg.DeadLetterQueueURL))
	default:
		logger.Warn("no dead-letter queue configured; exhausted dispatches are only audited")
	}

	var sessions connector.SessionManager
	if cfg.RedisAddr != "" {
		redisOptions := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(redisOptions)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available; session reuse disabled", "error", err)
		} else if store := rpa.NewSessionStore(redisClient, cfg.SessionTTL); store != nil {
			sessions = store
		}
	}

	secretStore := credentials.NewAWSSecretStore(secretsmanager.NewFromConfig(awsConfig))
	resolver := credentials.NewResolver(secretStore)

	adapters, err := rpa.LoadAdapterTable(cfg.AdapterConfigPath)
	if err != nil {
		logger.Error("failed to load platform adapters", "path", cfg.AdapterConfigPath, "error", err)
		os.Exit(1)
	}
	sidecar := rpa.NewSidecarClient(cfg.SidecarBaseURL, rpa.WithSidecarLogger(logger))
	runner := rpa.NewRunner(adapters, sidecar, logger)

	pacingRules, err := cfg.PacingRules()
	if err != nil {
		logger.Error("invalid pacing configuration", "error", err)
		os.Exit(1)
	}
	pacing := connector.NewPacingGovernor(pacingRules, cfg.PacingFallback())
	breaker := connector.NewCircuitBreaker(cfg.BreakerConfig(),
		connector.WithBreakerEvents(func(ev connector.BreakerEvent) {
			decisionMetrics.ObserveBreakerTransition(ev.Platform, ev.Action, string(ev.Type))
			if err := auditService.LogBreakerTransition(context.Background(),
				ev.Platform, ev.AccountID, ev.Action, string(ev.Type), ev.Failures, ev.Threshold); err != nil {
				logger.Warn("failed to audit breaker transition", "error", err)
			}
		}),
	)

	registry := connector.NewRegistry(runner, pacing, breaker, cfg.RetryPolicy(), sessions, resolver, logger)

	var pipelineOpts []reply.Option
	if cfg.BedrockModelID != "" {
		bedrockClient := llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsConfig))
		pipelineOpts = append(pipelineOpts,
			reply.WithExternalClassifier(llm.NewIntentClassifier(bedrockClient, cfg.BedrockModelID)))
		logger.Info("external intent classifier enabled", "model", cfg.BedrockModelID)
	}
	pipeline := reply.NewPipeline(logger, pipelineOpts...)

	store := orchestrator.NewStore(pool)
	processor := orchestrator.NewProcessor(
		orchestrator.Config{
			WorkerID:       cfg.WorkerID,
			BatchSize:      cfg.BatchSize,
			LeaseTTL:       cfg.LeaseTTL,
			SlotLimit:      cfg.SlotLimit,
			FallbackIntent: intent.Parse(cfg.FallbackIntent),
		},
		orchestrator.Deps{
			Messages:   store,
			Accounts:   store,
			Rules:      store,
			Slots:      store,
			Replies:    store,
			Workflow:   store,
			Dispatches: store,
			Pipeline:   pipeline,
			Sender:     registry,
			DLQ:        dlq,
			Audit:      auditService,
			Metrics:    decisionMetrics,
		},
		logger,
	)

	handler := router.New(&router.Config{
		Logger:         logger,
		MetricsHandler: promhttp.Handler(),
		Audit:          auditService,
		Ready: func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx)
		},
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	go func() {
		logger.Info("ops server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		logger.Info("decision worker started",
			"worker_id", cfg.WorkerID, "batch_size", cfg.BatchSize, "poll_interval", cfg.PollInterval)
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			runBatch(ctx, processor, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("decision worker shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}

	select {
	case <-workerDone:
		logger.Info("decision worker stopped")
	case <-shutdownCtx.Done():
		logger.Error("decision worker shutdown timed out", "error", shutdownCtx.Err())
	}
}

func runBatch(ctx context.Context, processor *orchestrator.Processor, logger *logging.Logger) {
	if ctx.Err() != nil {
		return
	}
	summary, err := processor.ProcessPendingMessages(ctx)
	if err != nil {
		logger.Error("batch processing failed", "error", err)
		return
	}
	if summary.Scanned == 0 {
		return
	}
	logger.Info("batch processed",
		"scanned", summary.Scanned,
		"sent", summary.Counters.Sent,
		"drafted", summary.Counters.Drafted,
		"escalated", summary.Counters.Escalated,
		"duplicates", summary.Counters.DuplicatesSuppressed,
		"dead_lettered", summary.Counters.DeadLettered,
	)
}
