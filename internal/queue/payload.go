package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/processor"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/storage"
)

// TaskTypeOCRDocument is the asynq task type for OCR jobs
const TaskTypeOCRDocument = "ocr:document"

// JobPayload mirrors the discovery event that requested OCR for a document
type JobPayload struct {
	JobID              string                 `json:"job_id,omitempty"`
	DocumentID         string                 `json:"document_id"`
	Source             string                 `json:"source,omitempty"`
	SourceURI          string                 `json:"source_uri,omitempty"`
	ContentFingerprint string                 `json:"content_fingerprint,omitempty"`
	PipelineVersion    string                 `json:"pipeline_version"`
	ContentType        string                 `json:"content_type,omitempty"`
	FileURL            string                 `json:"file_url,omitempty"`
	FileBuffer         []byte                 `json:"file_buffer,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts file_buffer as a base64 string or a Node.js Buffer object
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"file_buffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 file_buffer: %w", err)
		}
		p.FileBuffer = decoded
	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}
	default:
		return fmt.Errorf("file_buffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the fields a job cannot be processed without
func (p *JobPayload) Validate() error {
	if p.DocumentID == "" && (p.Source == "" || p.SourceURI == "") {
		return apperrors.NewInvalidArgumentError("document_id", "document_id or source and source_uri are required")
	}
	if p.FileURL == "" && len(p.FileBuffer) == 0 {
		return apperrors.NewInvalidArgumentError("file", "file_url or file_buffer is required")
	}
	return nil
}

// ResolvedDocumentID returns DocumentID, deriving it from the source when unset
func (p *JobPayload) ResolvedDocumentID() string {
	if p.DocumentID != "" {
		return p.DocumentID
	}
	return storage.StableDocumentID(p.Source, p.SourceURI)
}

// IdempotencyKey identifies a document version within a pipeline version
func (p *JobPayload) IdempotencyKey() string {
	return storage.IdempotencyKey(p.PipelineVersion, p.ResolvedDocumentID(), p.ContentFingerprint)
}

// ToProcessRequest converts the payload for the document processor
func (p *JobPayload) ToProcessRequest(jobID string) *processor.ProcessRequest {
	if p.JobID != "" {
		jobID = p.JobID
	}
	return &processor.ProcessRequest{
		JobID:              jobID,
		DocumentID:         p.DocumentID,
		Source:             p.Source,
		SourceURI:          p.SourceURI,
		ContentFingerprint: p.ContentFingerprint,
		PipelineVersion:    p.PipelineVersion,
		ContentType:        p.ContentType,
		FileURL:            p.FileURL,
		FileBuffer:         p.FileBuffer,
		Metadata:           p.Metadata,
	}
}

// NewOCRTask builds the asynq task for payload
func NewOCRTask(p *JobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeOCRDocument, data), nil
}

// Enqueuer submits OCR jobs, deduplicated by idempotency key
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
}

// NewEnqueuer creates an enqueuer for the given Redis URL and queue
func NewEnqueuer(redisURL, queueName string, maxRetry int) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		return nil, apperrors.NewConfigurationError("queue_name", "queue name is required")
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		maxRetry:  maxRetry,
	}, nil
}

// Enqueue submits p. It reports false when a job with the same key is already queued.
func (e *Enqueuer) Enqueue(ctx context.Context, p *JobPayload) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	task, err := NewOCRTask(p)
	if err != nil {
		return false, err
	}

	key := p.IdempotencyKey()
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queueName),
		asynq.TaskID(key),
		asynq.MaxRetry(e.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Info("Job already enqueued", "idempotency_key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue OCR job: %w", err)
	}
	logger.Info("Job enqueued", "idempotency_key", key, "queue", e.queueName)
	return true, nil
}

// Close releases the underlying client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
