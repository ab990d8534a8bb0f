package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/processor"
)

// EventOCRCompleted is published for every document handed to extraction
const EventOCRCompleted = "ocr:completed"

// DefaultEventsChannel carries OCR pipeline events
const DefaultEventsChannel = "ocr:events"

// RedisHandoffPublisher pushes extraction jobs onto a Redis list and announces them
type RedisHandoffPublisher struct {
	client        redis.UniversalClient
	queueName     string
	eventsChannel string
}

// NewRedisHandoffPublisher creates a publisher for queueName.
// An empty eventsChannel uses DefaultEventsChannel.
func NewRedisHandoffPublisher(client redis.UniversalClient, queueName, eventsChannel string) *RedisHandoffPublisher {
	if eventsChannel == "" {
		eventsChannel = DefaultEventsChannel
	}
	return &RedisHandoffPublisher{client: client, queueName: queueName, eventsChannel: eventsChannel}
}

// PublishHandoff queues msg for extraction and publishes an ocr:completed event
func (h *RedisHandoffPublisher) PublishHandoff(ctx context.Context, msg *processor.HandoffMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff message: %w", err)
	}
	event, err := json.Marshal(map[string]interface{}{
		"event":            EventOCRCompleted,
		"document_id":      msg.DocumentID,
		"pipeline_version": msg.PipelineVersion,
		"ocr_run_id":       msg.OCRRunID,
		"timestamp":        time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, h.queueName, data)
		pipe.Publish(ctx, h.eventsChannel, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to hand off document %s: %w", msg.DocumentID, err)
	}

	logger.Info("Handed off document to extraction",
		"document_id", msg.DocumentID,
		"ocr_run_id", msg.OCRRunID,
		"queue", h.queueName)
	return nil
}

// NewRedisClient parses redisURL and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
