package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
)

const (
	downloadMaxRetries       = 5
	downloadInitialBackoffMs = 1000
	downloadMaxBackoffMs     = 32000
	downloadTimeout          = 10 * time.Minute

	// used when MaxFileSize is unset
	defaultMaxReadBytes int64 = 10 * 1024 * 1024 * 1024
)

// loadFile returns the inline buffer if present, otherwise downloads FileURL
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		p.logger.Debug("Using inline file buffer", "job_id", req.JobID, "bytes", len(req.FileBuffer))
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, apperrors.NewInvalidArgumentError("file_buffer",
				fmt.Sprintf("file size exceeds maximum: %d > %d bytes", len(req.FileBuffer), p.config.MaxFileSize))
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		p.logger.Info("Downloading file", "job_id", req.JobID, "url", req.FileURL)
		data, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			return nil, err
		}
		p.logger.Info("File downloaded", "job_id", req.JobID, "bytes", len(data))
		return data, nil
	}

	return nil, apperrors.NewInvalidArgumentError("file", "no file source provided (buffer or URL)")
}

// downloadFileFromURL downloads a file with exponential backoff between attempts
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID, fileURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		data, retry, err := p.downloadOnce(ctx, fileURL)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("Download succeeded after retry", "job_id", jobID, "attempt", attempt)
			}
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
		p.logger.Warn("Download attempt failed", "job_id", jobID, "attempt", attempt, "error", err)

		if attempt < downloadMaxRetries {
			backoff := downloadBackoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, apperrors.NewDownloadFailedError(jobID, fileURL, ctx.Err())
			}
		}
	}

	return nil, apperrors.NewDownloadFailedError(jobID, fileURL, lastErr)
}

// downloadOnce performs one GET. retry reports whether another attempt may help.
func (p *DocumentProcessor) downloadOnce(ctx context.Context, fileURL string) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx other than 408/429 will not change on retry
		retry = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout
		return nil, retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	maxReadBytes := p.config.MaxFileSize
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	if resp.ContentLength > maxReadBytes {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, maxReadBytes)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxReadBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > maxReadBytes {
		return nil, false, fmt.Errorf("file size exceeds maximum of %d bytes", maxReadBytes)
	}
	return data, false, nil
}

func downloadBackoff(attempt int) time.Duration {
	backoffMs := float64(downloadInitialBackoffMs) * math.Pow(2, float64(attempt-1))
	if backoffMs > downloadMaxBackoffMs {
		backoffMs = downloadMaxBackoffMs
	}
	return time.Duration(backoffMs) * time.Millisecond
}

// detectMimeTypeFromMagicBytes detects the MIME type from leading magic bytes.
// Sources often report application/octet-stream, so the declared type is not trusted.
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		if bytes.Contains(data[:min(100, len(data))], []byte("mimetypeapplication/epub+zip")) {
			return "application/epub+zip"
		}
		return "application/zip"
	}
	return ""
}
