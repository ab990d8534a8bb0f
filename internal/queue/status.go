package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job statuses tracked in Redis
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusRetrying   = "retrying"
	JobStatusFailed     = "failed"
)

// StatusTracker mirrors job status into Redis sets and publishes job events
// on "<queue>:events"
type StatusTracker struct {
	client    redis.UniversalClient
	queueName string
}

// NewStatusTracker creates a tracker keyed under queueName
func NewStatusTracker(client redis.UniversalClient, queueName string) *StatusTracker {
	return &StatusTracker{client: client, queueName: queueName}
}

func (t *StatusTracker) key(suffix string) string {
	return fmt.Sprintf("%s:%s", t.queueName, suffix)
}

// EventsChannel is the pub/sub channel job events are published on
func (t *StatusTracker) EventsChannel() string {
	return t.key("events")
}

// Update moves jobID to status and records detail for terminal statuses
func (t *StatusTracker) Update(ctx context.Context, jobID, status string, detail interface{}) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("failed to marshal job %s detail: %w", jobID, err)
		}
	}

	event, err := json.Marshal(map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch status {
		case JobStatusProcessing:
			pipe.SAdd(ctx, t.key("processing"), jobID)
		case JobStatusRetrying:
			pipe.SRem(ctx, t.key("processing"), jobID)
		case JobStatusCompleted:
			pipe.SRem(ctx, t.key("processing"), jobID)
			pipe.SRem(ctx, t.key("failed"), jobID)
			pipe.SAdd(ctx, t.key("completed"), jobID)
			if detailJSON != nil {
				pipe.HSet(ctx, t.key("results"), jobID, detailJSON)
			}
		case JobStatusFailed:
			pipe.SRem(ctx, t.key("processing"), jobID)
			pipe.SAdd(ctx, t.key("failed"), jobID)
			if detailJSON != nil {
				pipe.HSet(ctx, t.key("errors"), jobID, detailJSON)
			}
		default:
			return fmt.Errorf("unknown job status %q", status)
		}
		pipe.Publish(ctx, t.EventsChannel(), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s status to %s: %w", jobID, status, err)
	}
	return nil
}

// GetStats returns job counts per status
func (t *StatusTracker) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, status := range []string{JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		n, err := t.client.SCard(ctx, t.key(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		stats[status] = n
	}
	return stats, nil
}
