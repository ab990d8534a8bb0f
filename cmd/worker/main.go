/**
 * OCR Ensemble Worker - Main Entry Point
 *
 * Architecture:
 * - Asynq consumer for ocr:document jobs on Redis
 * - PDF rasterization with MuPDF, multi-engine OCR per page
 * - Consensus by pairwise similarity, quality gate per page
 * - PostgreSQL persistence for runs, pages and the review queue
 * - Redis handoff of passing documents to extraction
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/clients"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/config"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/processor"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/queue"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/storage"
)

var logger = logging.NewLogger("Worker")

func main() {
	envLoaded := godotenv.Load() == nil

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Configure(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if !envLoaded {
		logger.Debug(".env not found, using system environment variables")
	}

	if err := run(cfg); err != nil {
		logger.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("OCR worker starting",
		"pipeline_version", cfg.PipelineVersion,
		"engines", cfg.OCREngines,
		"local_engines", cfg.OCRLocalEngines,
		"workers", cfg.WorkerConcurrency)

	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("Applied database migrations", "migrations", applied)
	}

	redisClient, err := queue.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	gateway, llm := clients.NewGatewayFromConfig(cfg)
	if llm != nil {
		checkHealth("LLM service", llm.HealthCheck)
	}

	procCfg := &processor.ProcessorConfig{
		PipelineVersion:    cfg.PipelineVersion,
		Ensemble:           cfg.EnsembleConfig(),
		Render:             cfg.RenderOptions(),
		DropFailingEngines: cfg.DropFailingEngines,
		Validation:         cfg.ValidationOptions(),
		MaxFileSize:        cfg.MaxFileSize,
		Gateway:            gateway,
		Runs:               db.OCR(),
		Reviews:            db.ReviewQueue(),
		Handoff:            queue.NewRedisHandoffPublisher(redisClient, cfg.HandoffQueueName, ""),
	}
	if cfg.ArtifactAPIURL != "" {
		artifacts := clients.NewArtifactClient(cfg.ArtifactAPIURL)
		checkHealth("Artifact storage", artifacts.HealthCheck)
		procCfg.Artifacts = artifacts
	} else {
		logger.Warn("ARTIFACT_API_URL not configured, consensus text will be handed off inline")
	}

	proc, err := processor.NewDocumentProcessor(procCfg)
	if err != nil {
		return err
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.OCRQueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Status:            queue.NewStatusTracker(redisClient, cfg.OCRQueueName),
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		return err
	}
	if err := consumer.Start(); err != nil {
		return err
	}

	logger.Info("OCR worker ready",
		"queue", cfg.OCRQueueName,
		"handoff_queue", cfg.HandoffQueueName,
		"dpi", cfg.OCRDPI,
		"page_concurrency", cfg.OCRPageConcurrency)

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining in-flight jobs")

	consumer.Stop()

	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Shutdown complete", "db", db.GetStats(), "consumer", consumer.GetStatistics(statsCtx))
	return nil
}

// checkHealth logs the result of a startup health check. Failures are not fatal.
func checkHealth(name string, check func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := check(ctx); err != nil {
		logger.Warn(name+" health check failed", "error", err)
		return
	}
	logger.Info(name + " connection verified")
}
