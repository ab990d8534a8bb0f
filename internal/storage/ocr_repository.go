package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OCR run statuses
const (
	RunStatusRunning     = "running"
	RunStatusPassed      = "passed"
	RunStatusNeedsReview = "needs_review"
	RunStatusFailed      = "failed"
)

// OCRRun is one ensemble run of a document
type OCRRun struct {
	OCRRunID        uuid.UUID
	DocumentID      string
	PipelineVersion string
	Engine          string // comma separated engine names
	Status          string
	MetricsJSON     map[string]interface{}
	CreatedAt       time.Time
}

// OCRPage is the stored outcome of one page of a run
type OCRPage struct {
	OCRRunID     uuid.UUID
	PageNumber   int
	ConsensusURI string
	QualityJSON  map[string]interface{}
}

// OCRRepository persists OCR runs and pages
type OCRRepository struct {
	db DBTX
}

// NewOCRRepository creates a repository over db
func NewOCRRepository(db DBTX) *OCRRepository {
	return &OCRRepository{db: db}
}

// UpsertOCRRun inserts the run or replaces its engine, status and metrics
func (r *OCRRepository) UpsertOCRRun(ctx context.Context, run *OCRRun) error {
	metrics, err := marshalJSONB(run.MetricsJSON)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ocr_runs (
			ocr_run_id, document_id, pipeline_version, engine, status, metrics_json
		) VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (ocr_run_id) DO UPDATE SET
			engine = EXCLUDED.engine,
			status = EXCLUDED.status,
			metrics_json = EXCLUDED.metrics_json`,
		run.OCRRunID.String(), run.DocumentID, run.PipelineVersion, run.Engine, run.Status, metrics)
	if err != nil {
		return fmt.Errorf("failed to upsert ocr run %s: %w", run.OCRRunID, err)
	}
	return nil
}

// UpsertOCRPage inserts the page or replaces its consensus URI and quality
func (r *OCRRepository) UpsertOCRPage(ctx context.Context, page *OCRPage) error {
	quality, err := marshalJSONB(page.QualityJSON)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ocr_pages (
			ocr_run_id, page_number, consensus_uri, quality_json
		) VALUES ($1::uuid, $2, NULLIF($3, ''), $4::jsonb)
		ON CONFLICT (ocr_run_id, page_number) DO UPDATE SET
			consensus_uri = EXCLUDED.consensus_uri,
			quality_json = EXCLUDED.quality_json`,
		page.OCRRunID.String(), page.PageNumber, page.ConsensusURI, quality)
	if err != nil {
		return fmt.Errorf("failed to upsert ocr page %d of run %s: %w", page.PageNumber, page.OCRRunID, err)
	}
	return nil
}

// DeletePagesFrom removes pages numbered firstStale and above, left over from an
// earlier pass of the same run that produced more pages
func (r *OCRRepository) DeletePagesFrom(ctx context.Context, runID uuid.UUID, firstStale int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM ocr_pages WHERE ocr_run_id = $1::uuid AND page_number >= $2`,
		runID.String(), firstStale)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pages >= %d of run %s: %w", firstStale, runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted pages of run %s: %w", runID, err)
	}
	return n, nil
}

// GetOCRRun returns the run or nil when it does not exist
func (r *OCRRepository) GetOCRRun(ctx context.Context, runID uuid.UUID) (*OCRRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT ocr_run_id, document_id, pipeline_version, engine, status, metrics_json, created_at
		FROM ocr_runs
		WHERE ocr_run_id = $1::uuid`, runID.String())
	return scanRun(row)
}

// GetLatestRunForDocument returns the newest run of a document under a pipeline
// version, optionally restricted to a status. Nil when none match.
func (r *OCRRepository) GetLatestRunForDocument(ctx context.Context, documentID, pipelineVersion, status string) (*OCRRun, error) {
	query := `
		SELECT ocr_run_id, document_id, pipeline_version, engine, status, metrics_json, created_at
		FROM ocr_runs
		WHERE document_id = $1 AND pipeline_version = $2`
	args := []interface{}{documentID, pipelineVersion}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	return scanRun(r.db.QueryRowContext(ctx, query, args...))
}

// ListPages returns the pages of a run ordered by page number
func (r *OCRRepository) ListPages(ctx context.Context, runID uuid.UUID) ([]OCRPage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ocr_run_id, page_number, consensus_uri, quality_json
		FROM ocr_pages
		WHERE ocr_run_id = $1::uuid
		ORDER BY page_number`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of run %s: %w", runID, err)
	}
	defer rows.Close()

	pages := []OCRPage{}
	for rows.Next() {
		var (
			page    OCRPage
			id      string
			uri     sql.NullString
			quality []byte
		)
		if err := rows.Scan(&id, &page.PageNumber, &uri, &quality); err != nil {
			return nil, fmt.Errorf("failed to scan ocr page: %w", err)
		}
		if page.OCRRunID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid ocr_run_id %q: %w", id, err)
		}
		page.ConsensusURI = uri.String
		if page.QualityJSON, err = unmarshalJSONB(quality); err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// SetRunStatus sets the status and merges metrics into the stored metrics.
// Keys in metrics overwrite stored keys; other stored keys are kept.
func (r *OCRRepository) SetRunStatus(ctx context.Context, runID uuid.UUID, status string, metrics map[string]interface{}) error {
	patch, err := marshalJSONB(metrics)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE ocr_runs
		SET
			status = $1,
			metrics_json = COALESCE(ocr_runs.metrics_json, '{}'::jsonb) || COALESCE($2::jsonb, '{}'::jsonb)
		WHERE ocr_run_id = $3::uuid`,
		status, patch, runID.String())
	if err != nil {
		return fmt.Errorf("failed to set status of run %s: %w", runID, err)
	}
	return nil
}

func scanRun(row *sql.Row) (*OCRRun, error) {
	var (
		run     OCRRun
		id      string
		metrics []byte
	)
	err := row.Scan(&id, &run.DocumentID, &run.PipelineVersion, &run.Engine, &run.Status, &metrics, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ocr run: %w", err)
	}
	if run.OCRRunID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid ocr_run_id %q: %w", id, err)
	}
	if run.MetricsJSON, err = unmarshalJSONB(metrics); err != nil {
		return nil, err
	}
	return &run, nil
}
