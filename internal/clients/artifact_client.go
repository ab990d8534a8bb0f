/**
 * Artifact Client for the OCR worker
 *
 * Stores OCR consensus text in permanent storage via the artifact API.
 * Each page's consensus text and the merged document text become artifacts;
 * the returned download URL is recorded as the page's consensus_uri.
 *
 * Storage Flow:
 * 1. Worker finishes the ensemble for a document
 * 2. Worker uploads each page's consensus text (text/plain)
 * 3. API stores the artifact and returns its ID and download URL
 * 4. Worker stores the URL on the ocr_pages row
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
)

// ArtifactClient handles communication with the artifact API
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest represents a file upload request
type ArtifactUploadRequest struct {
	FileBuffer    []byte                 // File content
	Filename      string                 // Artifact filename
	MimeType      string                 // MIME type (e.g., text/plain)
	SourceService string                 // Service creating the artifact
	SourceID      string                 // Source identifier (e.g., ocr_run_id)
	TTLDays       int                    // Time-to-live in days (0 = use 36500 for ~100 years)
	Metadata      map[string]interface{} // Additional metadata (document_id, page_number, ...)
}

// ArtifactUploadResponse represents the response from uploading an artifact
type ArtifactUploadResponse struct {
	Success  bool   `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		Filename       string `json:"filename"`
		FileSize       int64  `json:"file_size"`
		MimeType       string `json:"mime_type"`
		StorageBackend string `json:"storage_backend"`
		DownloadURL    string `json:"download_url"`
		CreatedAt      string `json:"created_at"`
		ExpiresAt      string `json:"expires_at,omitempty"`
	} `json:"artifact,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("ArtifactClient"),
	}
}

// HealthCheck verifies the artifact API is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// UploadText stores text as a text/plain artifact and returns its download URL.
func (c *ArtifactClient) UploadText(ctx context.Context, sourceID, filename, text string, metadata map[string]interface{}) (string, error) {
	resp, err := c.UploadArtifact(ctx, &ArtifactUploadRequest{
		FileBuffer:    []byte(text),
		Filename:      filename,
		MimeType:      "text/plain; charset=utf-8",
		SourceService: "ocr-worker",
		SourceID:      sourceID,
		Metadata:      metadata,
	})
	if err != nil {
		return "", err
	}
	if resp.Artifact.DownloadURL == "" {
		return "", fmt.Errorf("artifact %s has no download URL", resp.Artifact.ID)
	}
	return resp.Artifact.DownloadURL, nil
}

// UploadArtifact uploads a file to permanent storage
// Returns the artifact ID and download URL
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required: received empty string")
	}

	if req.SourceService == "" {
		return nil, fmt.Errorf("source_service is required: identifies the service creating this artifact")
	}

	if req.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: identifies the run creating this artifact")
	}

	// Create multipart form request
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.FileBuffer); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = 36500
	}
	fields := map[string]string{
		"source_service": req.SourceService,
		"source_id":      req.SourceID,
		"mime_type":      req.MimeType,
		"ttl_days":       fmt.Sprintf("%d", ttlDays),
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
		fields["metadata"] = string(metadataJSON)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w (raw response: %s)", err, string(respBody))
	}

	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}

	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	c.logger.Info("Artifact uploaded",
		"id", result.Artifact.ID,
		"filename", req.Filename,
		"size", len(req.FileBuffer),
		"storage", result.Artifact.StorageBackend,
		"duration", time.Since(startTime))

	return &result, nil
}
