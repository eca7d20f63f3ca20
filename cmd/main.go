package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autogradeai/sage/internal/api"
	"github.com/autogradeai/sage/internal/config"
	"github.com/autogradeai/sage/internal/configs/env"
	"github.com/autogradeai/sage/internal/embed"
	"github.com/autogradeai/sage/internal/genai"
	"github.com/autogradeai/sage/internal/grading"
	"github.com/autogradeai/sage/internal/infra/mongo"
	redisInfra "github.com/autogradeai/sage/internal/infra/redis"
	"github.com/autogradeai/sage/internal/logger"
	"github.com/autogradeai/sage/internal/metrics"
	"github.com/autogradeai/sage/internal/repository"
	"github.com/autogradeai/sage/internal/similarity"
	"github.com/autogradeai/sage/internal/stream"
	"github.com/autogradeai/sage/internal/workflow"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := env.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env file, continuing with system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	logger.Init(cfg.LogLevel)
	log.Info().Str("mode", cfg.GradingMode).Msg("Starting SAGE grading server")

	// Initialize Prometheus metrics
	metrics.InitPrometheus()

	// Metrics server on its own port
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    ":2112",
		Handler: metricsMux,
	}
	go func() {
		log.Info().Str("port", "2112").Msg("Metrics server started")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Metrics server failed to start")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect MongoDB
	mongoClient, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create MongoDB client")
	}
	defer mongoClient.Close(ctx)

	// Connect Redis
	redisClient, err := redisInfra.NewClient(ctx, cfg.RedisHost, cfg.RedisPassword, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis client")
	}
	defer redisClient.Close()

	// Repositories
	mongoRepo := repository.NewMongoRepository(mongoClient)
	examsRepo := repository.NewExamsRepository(mongoRepo)
	subsRepo := repository.NewSubmissionsRepository(mongoRepo)
	flagsRepo := repository.NewFlagsRepository(mongoRepo)

	if err := flagsRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create similarity flag indexes")
	}

	// Embedding client serves the similarity engine in every mode, and the
	// deterministic scorer when that mode is selected
	embedClient := embed.NewClient(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedTimeout)

	// Vision grading handles scanned submissions whose text extraction
	// failed; it needs the generative backend, so deterministic mode runs
	// without it.
	var scorer workflow.AnswerScorer
	var vision workflow.ImageScorer
	switch cfg.GradingMode {
	case config.ModeGenerative:
		genaiClient := genai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAITimeout)
		scorer = grading.NewGenerativeScorer(genaiClient)
		vision = grading.NewVisionScorer(genaiClient, cfg.MaxImagesPerCall)
	default:
		scorer = grading.NewDeterministicScorer(embedClient)
	}

	// Worker pool backing pairwise similarity jobs
	workerPool := similarity.NewWorkerPool(ctx)
	defer workerPool.Close()
	engine := similarity.NewEngine(embedClient, workerPool)

	statusTracker := workflow.NewStatusTracker(redisClient)
	workflowSvc := workflow.NewService(
		examsRepo,
		subsRepo,
		flagsRepo,
		scorer,
		vision,
		engine,
		statusTracker,
		cfg.GradingMode,
		cfg.SimThresholdSemantic,
		cfg.SimThresholdJaccard,
	)

	// Redis stream consumer
	retryHandler := stream.NewRetryHandler(redisClient.Client, cfg.RedisDeadLetterKey)
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	consumerName := fmt.Sprintf("consumer-%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
	consumer := stream.NewConsumer(
		redisClient.Client,
		cfg.RedisStreamKey,
		cfg.RedisConsumerGroup,
		consumerName,
		workflowSvc,
		retryHandler,
		cfg.StreamRetentionDuration,
	)
	log.Info().Str("consumer_name", consumerName).Msg("Redis stream consumer initialized")

	router := api.SetupRoutes(cfg, examsRepo, subsRepo, flagsRepo, workflowSvc)

	// Start Redis consumer in background
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		if err := consumer.Start(consumerCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Redis consumer error")
		}
	}()
	log.Info().Msg("Redis consumer started")

	srv := api.StartServer(router, cfg.ServerPort)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down gracefully...")

	if err := api.ShutdownServer(srv, 30*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer metricsCancel()
	if err := metricsServer.Shutdown(metricsCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down metrics server")
	}

	log.Info().Msg("Shutdown complete")
}
