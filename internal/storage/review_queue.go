package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Review reasons opened by the worker
const (
	ReviewReasonQualityGate          = "ocr_quality_gate"
	ReviewReasonRenderFailed         = "render_failed"
	ReviewReasonExtractionValidation = "extraction_validation"
)

// ReviewItem is a document awaiting human review
type ReviewItem struct {
	ReviewID        uuid.UUID
	DocumentID      string
	PipelineVersion string
	Reason          string
	Status          string
}

// ReviewQueueRepository persists review items
type ReviewQueueRepository struct {
	db DBTX
}

// NewReviewQueueRepository creates a repository over db
func NewReviewQueueRepository(db DBTX) *ReviewQueueRepository {
	return &ReviewQueueRepository{db: db}
}

// GetOpenItem returns the newest open item for (document, version, reason), or nil
func (r *ReviewQueueRepository) GetOpenItem(ctx context.Context, documentID, pipelineVersion, reason string) (*ReviewItem, error) {
	var (
		item ReviewItem
		id   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT review_id, document_id, pipeline_version, reason, status
		FROM review_queue
		WHERE document_id = $1 AND pipeline_version = $2 AND reason = $3 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT 1`,
		documentID, pipelineVersion, reason).Scan(&id, &item.DocumentID, &item.PipelineVersion, &item.Reason, &item.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open review item: %w", err)
	}
	if item.ReviewID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid review_id %q: %w", id, err)
	}
	return &item, nil
}

// EnsureOpenItem returns the id of the open item for (document, version, reason),
// opening one with the deterministic id when none exists.
func (r *ReviewQueueRepository) EnsureOpenItem(ctx context.Context, documentID, pipelineVersion, reason string) (uuid.UUID, error) {
	existing, err := r.GetOpenItem(ctx, documentID, pipelineVersion, reason)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ReviewID, nil
	}

	reviewID := DeterministicReviewID(pipelineVersion, documentID, reason)
	// a closed item with the same id is reopened
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO review_queue (review_id, document_id, pipeline_version, reason, status)
		VALUES ($1::uuid, $2, $3, $4, 'open')
		ON CONFLICT (review_id) DO UPDATE SET status = 'open', created_at = NOW()`,
		reviewID.String(), documentID, pipelineVersion, reason)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to open review item: %w", err)
	}
	return reviewID, nil
}
