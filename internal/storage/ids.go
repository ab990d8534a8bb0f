package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// DeterministicOCRRunID derives the OCR run id for a document under a pipeline version.
// Re-running the same document and version always lands on the same row.
func DeterministicOCRRunID(pipelineVersion, documentID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%s:ocr", pipelineVersion, documentID)))
}

// DeterministicReviewID derives the review item id for (version, document, reason).
func DeterministicReviewID(pipelineVersion, documentID, reason string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%s:review:%s", pipelineVersion, documentID, reason)))
}

// StableDocumentID derives a document id from its source and source URI.
func StableDocumentID(source, sourceURI string) string {
	digest := sha1.Sum([]byte(sourceURI))
	return source + ":" + hex.EncodeToString(digest[:])
}

// IdempotencyKey identifies one processing of one document content.
func IdempotencyKey(pipelineVersion, documentID, contentFingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", pipelineVersion, documentID, contentFingerprint)
}
