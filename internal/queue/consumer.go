/**
 * Queue Consumer for the OCR ensemble worker
 *
 * Consumes ocr:document tasks with Asynq and runs each through the
 * document processor. Non-retryable failures skip asynq's retry.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/processor"
)

var logger = logging.NewLogger("Queue")

const defaultProcessingTimeout = time.Hour

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	status    *StatusTracker
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	Status            *StatusTracker // optional
	ProcessingTimeout int64          // milliseconds, default one hour
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, apperrors.NewConfigurationError("redis_url", "RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, apperrors.NewConfigurationError("queue_name", "QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, apperrors.NewConfigurationError("processor", "Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
			},
			// 5s, 10s, 20s ... capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second || delay <= 0 {
					delay = 60 * time.Second
				}
				return delay
			},
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"task_type", task.Type(),
					"retried", retried,
					"max_retry", maxRetry,
					"error_code", string(apperrors.CodeOf(err)),
					"error", err)
			}),
			Logger:   asynqLogger{l: logging.NewLogger("Asynq")},
			LogLevel: asynq.InfoLevel,
		},
	)

	c := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		status:    cfg.Status,
		config:    cfg,
	}
	c.mux.HandleFunc(TaskTypeOCRDocument, c.handleOCRDocument)

	return c, nil
}

// Start starts processing in background goroutines
func (c *Consumer) Start() error {
	logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop waits for in-flight tasks and stops the consumer
func (c *Consumer) Stop() {
	logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	logger.Info("Queue consumer stopped")
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return defaultProcessingTimeout
}

// handleOCRDocument processes one ocr:document task
func (c *Consumer) handleOCRDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid job payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	if jobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			jobID = id
		} else {
			jobID = payload.IdempotencyKey()
		}
	}
	log := logger.With("job_id", jobID, "document_id", payload.ResolvedDocumentID())
	log.Info("Processing OCR job", "file_url", payload.FileURL, "inline_bytes", len(payload.FileBuffer))
	c.updateStatus(ctx, jobID, JobStatusProcessing, nil)

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, payload.ToProcessRequest(jobID))
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Error("Processing timed out", "duration", duration, "timeout", timeout)
			err = apperrors.NewProcessingTimeoutError(jobID, timeout, err)
		}

		var detail map[string]interface{}
		var perr *apperrors.ProcessingError
		if errors.As(err, &perr) {
			detail = perr.ToMap()
		} else {
			detail = map[string]interface{}{"error": err.Error()}
		}
		detail["processingTime"] = duration.Milliseconds()

		if !apperrors.IsRetryable(err) {
			log.Error("Processing failed permanently", "duration", duration, "error", err)
			c.updateStatus(ctx, jobID, JobStatusFailed, detail)
			return fmt.Errorf("document processing failed: %w: %w", err, asynq.SkipRetry)
		}

		if isLastAttempt(ctx) {
			log.Error("Processing failed, no retries left", "duration", duration, "error", err)
			c.updateStatus(ctx, jobID, JobStatusFailed, detail)
		} else {
			log.Warn("Processing failed, will retry", "duration", duration, "error", err)
			c.updateStatus(ctx, jobID, JobStatusRetrying, detail)
		}
		return fmt.Errorf("document processing failed: %w", err)
	}

	log.Info("Processing completed",
		"duration", duration,
		"status", result.Status,
		"ocr_run_id", result.OCRRunID.String(),
		"pages", result.Pages,
		"pages_passed", result.PagesPassed)

	c.updateStatus(ctx, jobID, JobStatusCompleted, map[string]interface{}{
		"ocrRunId":       result.OCRRunID.String(),
		"documentId":     result.DocumentID,
		"status":         result.Status,
		"pages":          result.Pages,
		"pagesPassed":    result.PagesPassed,
		"engines":        result.Engines,
		"droppedEngines": result.DroppedEngines,
		"processingTime": duration.Milliseconds(),
	})
	return nil
}

func (c *Consumer) updateStatus(ctx context.Context, jobID, status string, detail interface{}) {
	if c.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.status.Update(ctx, jobID, status, detail); err != nil {
		logger.Warn("Failed to update job status", "job_id", jobID, "status", status, "error", err)
	}
}

// isLastAttempt reports whether asynq will not retry the current task again.
// Outside an asynq handler it reports true.
func isLastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// GetStatistics returns consumer settings and, when status tracking is
// configured, the job counts per status under "jobs"
func (c *Consumer) GetStatistics(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"timeout_ms":  c.timeout().Milliseconds(),
	}
	if c.config.Status == nil {
		return stats
	}

	jobs, err := c.config.Status.GetStats(ctx)
	if err != nil {
		logger.Warn("Failed to read job statistics", "error", err)
		return stats
	}
	stats["jobs"] = jobs
	return stats
}

// asynqLogger routes asynq's logs through the worker logger
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
