/**
 * Extracted text validation
 *
 * Last check on a document's merged OCR text before it is handed to
 * extraction. Issues route the document to review instead.
 */

package validation

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Issue codes
const (
	CodeEmpty         = "extraction_empty"
	CodeTooShort      = "extraction_too_short"
	CodeLowAlphaRatio = "extraction_low_alpha_ratio"
)

// Default thresholds
const (
	DefaultMinChars      = 200
	DefaultMinAlphaRatio = 0.15
)

// Issue is one reason the text looks unusable
type Issue struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Options holds validation thresholds
type Options struct {
	MinChars      int
	MinAlphaRatio float64
}

// DefaultOptions returns the 200 chars / 0.15 alpha ratio thresholds
func DefaultOptions() Options {
	return Options{MinChars: DefaultMinChars, MinAlphaRatio: DefaultMinAlphaRatio}
}

// ValidateExtractedText returns the issues found in text, none when it looks usable.
// Empty text yields a single extraction_empty issue.
func ValidateExtractedText(text, contentType string, opts Options) []Issue {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return []Issue{{Code: CodeEmpty, Message: "Extracted text is empty."}}
	}

	var issues []Issue
	chars := utf8.RuneCountInString(normalized)
	if chars < opts.MinChars {
		issues = append(issues, Issue{
			Code:    CodeTooShort,
			Message: "Extracted text is too short.",
			Details: map[string]interface{}{"chars": chars, "min_chars": opts.MinChars},
		})
	}

	alpha := 0
	for _, r := range normalized {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			alpha++
		}
	}
	alphaRatio := float64(alpha) / float64(chars)
	if alphaRatio < opts.MinAlphaRatio {
		var ct interface{}
		if contentType != "" {
			ct = contentType
		}
		issues = append(issues, Issue{
			Code:    CodeLowAlphaRatio,
			Message: "Extracted text looks low-quality (low alphabetic ratio).",
			Details: map[string]interface{}{
				"alpha_ratio":     math.Round(alphaRatio*10000) / 10000,
				"min_alpha_ratio": opts.MinAlphaRatio,
				"content_type":    ct,
			},
		})
	}

	return issues
}

// Codes lists the codes of issues
func Codes(issues []Issue) []string {
	codes := make([]string, len(issues))
	for i, is := range issues {
		codes[i] = is.Code
	}
	return codes
}
