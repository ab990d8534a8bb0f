/**
 * Document Processor for the OCR ensemble worker
 *
 * Runs one document through the OCR pipeline:
 * - Load the PDF (inline buffer or URL download with retry)
 * - Rasterize pages and run the multi-engine ensemble
 * - Persist the run, per-page consensus text and quality metrics
 * - Hand passing documents to extraction, queue the rest for review
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/storage"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/validation"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// RunStore persists OCR runs and their pages
type RunStore interface {
	UpsertOCRRun(ctx context.Context, run *storage.OCRRun) error
	UpsertOCRPage(ctx context.Context, page *storage.OCRPage) error
	DeletePagesFrom(ctx context.Context, runID uuid.UUID, firstStale int) (int64, error)
	SetRunStatus(ctx context.Context, runID uuid.UUID, status string, metrics map[string]interface{}) error
}

// ReviewStore opens review items for documents that need a human look
type ReviewStore interface {
	EnsureOpenItem(ctx context.Context, documentID, pipelineVersion, reason string) (uuid.UUID, error)
}

// TextStore stores text blobs and returns a URI for them
type TextStore interface {
	UploadText(ctx context.Context, sourceID, filename, text string, metadata map[string]interface{}) (string, error)
}

// HandoffPublisher hands passing documents to the extraction stage
type HandoffPublisher interface {
	PublishHandoff(ctx context.Context, msg *HandoffMessage) error
}

// HandoffMessage is the extraction job emitted for a document that passed OCR
type HandoffMessage struct {
	DocumentID         string    `json:"document_id"`
	PipelineVersion    string    `json:"pipeline_version"`
	OCRRunID           string    `json:"ocr_run_id"`
	Source             string    `json:"source,omitempty"`
	SourceURI          string    `json:"source_uri,omitempty"`
	ContentFingerprint string    `json:"content_fingerprint,omitempty"`
	Pages              int       `json:"pages"`
	Engines            []string  `json:"engines"`
	MergedTextURI      string    `json:"merged_text_uri,omitempty"`
	MergedText         string    `json:"merged_text,omitempty"` // only when no text store is configured
	CompletedAt        time.Time `json:"completed_at"`
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	PipelineVersion    string
	Ensemble           ocr.EnsembleConfig
	Render             ocr.RenderOptions
	DropFailingEngines bool
	Validation         validation.Options
	MaxFileSize        int64

	Gateway   ocr.Gateway
	Runs      RunStore
	Reviews   ReviewStore
	Artifacts TextStore // optional
	Handoff   HandoffPublisher

	HTTPClient *http.Client // optional, used for file downloads
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID              string
	DocumentID         string
	Source             string
	SourceURI          string
	ContentFingerprint string
	PipelineVersion    string
	ContentType        string
	FileURL            string
	FileBuffer         []byte
	Metadata           map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	OCRRunID         uuid.UUID
	DocumentID       string
	Status           string
	Pages            int
	PagesPassed      int
	OverallPassed    bool
	Engines          []string
	DroppedEngines   []string
	ReviewID         uuid.UUID
	ValidationIssues []validation.Issue
	MergedTextURI    string
	ProcessingTimeMs int64
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config     *ProcessorConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, apperrors.NewConfigurationError("processor", "config is required")
	}
	if strings.TrimSpace(cfg.PipelineVersion) == "" {
		return nil, apperrors.NewConfigurationError("pipeline_version", "pipeline version is required")
	}
	if cfg.Gateway == nil {
		return nil, apperrors.NewConfigurationError("gateway", "OCR gateway is required")
	}
	if cfg.Runs == nil || cfg.Reviews == nil {
		return nil, apperrors.NewConfigurationError("storage", "run and review stores are required")
	}
	if cfg.Handoff == nil {
		return nil, apperrors.NewConfigurationError("handoff", "handoff publisher is required")
	}
	if err := cfg.Ensemble.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}

	return &DocumentProcessor{
		config:     cfg,
		httpClient: httpClient,
		logger:     logging.NewLogger("DocumentProcessor"),
	}, nil
}

// ProcessDocument processes a document through the OCR pipeline.
// Errors after the run row exists also mark the run failed.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()

	version := req.PipelineVersion
	if version == "" {
		version = p.config.PipelineVersion
	}
	documentID := req.DocumentID
	if documentID == "" {
		if req.Source == "" || req.SourceURI == "" {
			return nil, apperrors.NewInvalidArgumentError("document_id",
				"document_id or source and source_uri are required").WithJob(req.JobID)
		}
		documentID = storage.StableDocumentID(req.Source, req.SourceURI)
	}
	log := p.logger.With("job_id", req.JobID, "document_id", documentID)
	log.Info("Starting OCR pipeline", "pipeline_version", version)

	data, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	if mime := detectMimeTypeFromMagicBytes(data); mime != "application/pdf" {
		if mime == "" {
			mime = req.ContentType
		}
		log.Warn("Rejecting non-PDF input", "detected_mime", mime)
		return nil, apperrors.NewUnsupportedFormatError(req.JobID, mime)
	}

	runID := storage.DeterministicOCRRunID(version, documentID)
	engines := p.config.Ensemble.EngineNames()
	err = p.config.Runs.UpsertOCRRun(ctx, &storage.OCRRun{
		OCRRunID:        runID,
		DocumentID:      documentID,
		PipelineVersion: version,
		Engine:          strings.Join(engines, ","),
		Status:          storage.RunStatusRunning,
		MetricsJSON: map[string]interface{}{
			"engines": engines,
			"job_id":  req.JobID,
			"bytes":   len(data),
		},
	})
	if err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}

	job := &runJob{
		req:        req,
		log:        log,
		runID:      runID,
		documentID: documentID,
		version:    version,
		start:      start,
	}
	result, err := p.runPipeline(ctx, job, data)
	if err != nil {
		p.markFailed(ctx, job, err)
		return nil, err
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	log.Info("OCR pipeline complete",
		"status", result.Status,
		"pages", result.Pages,
		"pages_passed", result.PagesPassed,
		"duration", time.Since(start))
	return result, nil
}

// runJob carries per-document state through the pipeline steps
type runJob struct {
	req        *ProcessRequest
	log        *logging.Logger
	runID      uuid.UUID
	documentID string
	version    string
	start      time.Time
}

func (p *DocumentProcessor) runPipeline(ctx context.Context, job *runJob, data []byte) (*ProcessResult, error) {
	rendered, err := ocr.RenderPDFToPNGPages(data, p.config.Render)
	if err == nil && len(rendered) == 0 {
		err = apperrors.NewRenderFailedError("PDF has no pages", nil)
	}
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorRenderFailed) {
			if reviewID, rerr := p.config.Reviews.EnsureOpenItem(ctx, job.documentID, job.version, storage.ReviewReasonRenderFailed); rerr != nil {
				job.log.Error("Failed to open render review item", "error", rerr)
			} else {
				job.log.Warn("Render failed, review item opened", "review_id", reviewID.String())
			}
		}
		return nil, err
	}
	job.log.Info("Rendered PDF", "pages", len(rendered), "dpi", p.config.Render.DPI)

	ensemble, cfg, dropped, err := p.runEnsemble(ctx, job, ocr.PageInputs(rendered))
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		OCRRunID:       job.runID,
		DocumentID:     job.documentID,
		Pages:          len(ensemble.Pages),
		PagesPassed:    ensemble.PagesPassed(),
		OverallPassed:  ensemble.OverallPassed,
		Engines:        cfg.EngineNames(),
		DroppedEngines: dropped,
	}

	if err := p.storePages(ctx, job, ensemble); err != nil {
		return nil, err
	}

	metrics := map[string]interface{}{
		"pages":           result.Pages,
		"pages_passed":    result.PagesPassed,
		"engines":         result.Engines,
		"overall_passed":  result.OverallPassed,
		"dropped_engines": dropped,
	}

	if !ensemble.OverallPassed {
		return p.routeToReview(ctx, job, result, metrics, storage.ReviewReasonQualityGate)
	}

	issues := validation.ValidateExtractedText(ensemble.MergedText, "application/pdf", p.config.Validation)
	if len(issues) > 0 {
		result.ValidationIssues = issues
		metrics["validation_issues"] = issues
		job.log.Warn("Merged text failed validation", "issues", validation.Codes(issues))
		return p.routeToReview(ctx, job, result, metrics, storage.ReviewReasonExtractionValidation)
	}

	msg := &HandoffMessage{
		DocumentID:         job.documentID,
		PipelineVersion:    job.version,
		OCRRunID:           job.runID.String(),
		Source:             job.req.Source,
		SourceURI:          job.req.SourceURI,
		ContentFingerprint: job.req.ContentFingerprint,
		Pages:              result.Pages,
		Engines:            result.Engines,
	}
	if p.config.Artifacts != nil {
		uri, err := p.config.Artifacts.UploadText(ctx, job.documentID,
			fmt.Sprintf("%s/merged.txt", job.runID), ensemble.MergedText, map[string]interface{}{
				"ocr_run_id":       job.runID.String(),
				"pipeline_version": job.version,
			})
		if err != nil {
			return nil, apperrors.NewStorageFailedError(job.req.JobID, fmt.Errorf("failed to upload merged text: %w", err))
		}
		result.MergedTextURI = uri
		msg.MergedTextURI = uri
		metrics["merged_text_uri"] = uri
	} else {
		msg.MergedText = ensemble.MergedText
	}
	msg.CompletedAt = time.Now().UTC()

	if err := p.config.Handoff.PublishHandoff(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to publish handoff: %w", err)
	}

	result.Status = storage.RunStatusPassed
	metrics["duration_ms"] = time.Since(job.start).Milliseconds()
	if err := p.config.Runs.SetRunStatus(ctx, job.runID, result.Status, metrics); err != nil {
		return nil, apperrors.NewStorageFailedError(job.req.JobID, err)
	}
	return result, nil
}

// runEnsemble runs the ensemble, dropping a failing engine and rerunning when
// enabled. At least one engine always remains.
func (p *DocumentProcessor) runEnsemble(ctx context.Context, job *runJob, pages []ocr.PageInput) (*ocr.EnsembleResult, ocr.EnsembleConfig, []string, error) {
	cfg := p.config.Ensemble
	var dropped []string

	for {
		result, err := ocr.RunEnsemble(ctx, p.config.Gateway, pages, cfg)
		if err == nil {
			return result, cfg, dropped, nil
		}

		engine, ok := apperrors.EngineOf(err)
		if !p.config.DropFailingEngines || !ok || len(cfg.Engines) <= 1 || ctx.Err() != nil {
			return nil, cfg, dropped, err
		}
		next := cfg.Without(engine)
		if len(next.Engines) == len(cfg.Engines) {
			return nil, cfg, dropped, err
		}

		job.log.Warn("Dropping failing engine and rerunning", "engine", engine, "error", err)
		dropped = append(dropped, engine)
		cfg = next
	}
}

// storePages uploads each page's consensus text and records its quality
func (p *DocumentProcessor) storePages(ctx context.Context, job *runJob, ensemble *ocr.EnsembleResult) error {
	for _, page := range ensemble.Pages {
		var uri string
		if p.config.Artifacts != nil {
			var err error
			uri, err = p.config.Artifacts.UploadText(ctx, job.documentID,
				fmt.Sprintf("%s/page-%04d.txt", job.runID, page.PageNumber), page.ConsensusText,
				map[string]interface{}{
					"ocr_run_id":  job.runID.String(),
					"page_number": page.PageNumber,
				})
			if err != nil {
				return apperrors.NewStorageFailedError(job.req.JobID,
					fmt.Errorf("failed to upload page %d text: %w", page.PageNumber, err))
			}
		}

		err := p.config.Runs.UpsertOCRPage(ctx, &storage.OCRPage{
			OCRRunID:     job.runID,
			PageNumber:   page.PageNumber,
			ConsensusURI: uri,
			QualityJSON:  pageQuality(page, p.config.Ensemble.Gate),
		})
		if err != nil {
			return apperrors.NewStorageFailedError(job.req.JobID, err)
		}
	}

	// run ids are stable per document, so a shorter rerun leaves old pages behind
	stale, err := p.config.Runs.DeletePagesFrom(ctx, job.runID, len(ensemble.Pages)+1)
	if err != nil {
		return apperrors.NewStorageFailedError(job.req.JobID, err)
	}
	if stale > 0 {
		job.log.Info("Removed pages from a previous pass", "stale_pages", stale)
	}
	return nil
}

func (p *DocumentProcessor) routeToReview(ctx context.Context, job *runJob, result *ProcessResult, metrics map[string]interface{}, reason string) (*ProcessResult, error) {
	reviewID, err := p.config.Reviews.EnsureOpenItem(ctx, job.documentID, job.version, reason)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(job.req.JobID, err)
	}
	job.log.Warn("Document needs review", "reason", reason, "review_id", reviewID.String())

	result.Status = storage.RunStatusNeedsReview
	result.ReviewID = reviewID
	metrics["review_id"] = reviewID.String()
	metrics["review_reason"] = reason
	metrics["duration_ms"] = time.Since(job.start).Milliseconds()
	if err := p.config.Runs.SetRunStatus(ctx, job.runID, result.Status, metrics); err != nil {
		return nil, apperrors.NewStorageFailedError(job.req.JobID, err)
	}
	return result, nil
}

// markFailed records a fatal error on the run. Runs even if ctx is done.
func (p *DocumentProcessor) markFailed(ctx context.Context, job *runJob, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	metrics := map[string]interface{}{"error": cause.Error()}
	var perr *apperrors.ProcessingError
	if errors.As(cause, &perr) {
		metrics = perr.ToMap()
	}
	metrics["duration_ms"] = time.Since(job.start).Milliseconds()

	if err := p.config.Runs.SetRunStatus(ctx, job.runID, storage.RunStatusFailed, metrics); err != nil {
		job.log.Error("Failed to mark run failed", "error", err, "cause", cause)
		return
	}
	job.log.Error("OCR run failed", "error", cause, "error_code", string(apperrors.CodeOf(cause)))
}

func pageQuality(page ocr.PageResult, gate ocr.QualityGate) map[string]interface{} {
	report := ocr.AssessTextQuality(page.ConsensusText)
	q := map[string]interface{}{
		"passed_gate":       page.PassedGate,
		"consensus":         report.Summary(),
		"quality_by_engine": page.QualityByEngine,
		"consensus_meta":    page.ConsensusMeta,
	}
	if failures := ocr.GateFailures(report, gate); len(failures) > 0 {
		q["gate_failures"] = failures
	}
	return q
}
