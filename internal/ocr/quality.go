package ocr

import (
	"math"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
)

// Gate failure codes, in evaluation order.
const (
	GateLooksEmpty        = "looks_empty"
	GateTooFewChars       = "too_few_chars"
	GateLowAlphaRatio     = "low_alpha_ratio"
	GateLowPrintableRatio = "low_printable_ratio"
)

// QualityReport holds heuristic measurements of an OCR text.
type QualityReport struct {
	Chars          int     `json:"chars"`
	AlphaChars     int     `json:"alpha_chars"`
	AlphaRatio     float64 `json:"alpha_ratio"`
	PrintableRatio float64 `json:"printable_ratio"`
	LooksEmpty     bool    `json:"looks_empty"`
}

// QualityGate holds the thresholds a consensus text must meet.
type QualityGate struct {
	MinCharsPerPage   int     `json:"min_chars_per_page" yaml:"min_chars_per_page"`
	MinAlphaRatio     float64 `json:"min_alpha_ratio" yaml:"min_alpha_ratio"`
	MinPrintableRatio float64 `json:"min_printable_ratio" yaml:"min_printable_ratio"`
}

// DefaultQualityGate returns the 40 / 0.10 / 0.85 gate.
func DefaultQualityGate() QualityGate {
	return QualityGate{
		MinCharsPerPage:   40,
		MinAlphaRatio:     0.10,
		MinPrintableRatio: 0.85,
	}
}

// Validate rejects thresholds that can never be meaningful.
func (g QualityGate) Validate() error {
	if g.MinCharsPerPage < 0 {
		return apperrors.NewConfigurationError("min_chars_per_page", "min_chars_per_page must be >= 0")
	}
	if g.MinAlphaRatio < 0 || g.MinAlphaRatio > 1 || math.IsNaN(g.MinAlphaRatio) {
		return apperrors.NewConfigurationError("min_alpha_ratio", "min_alpha_ratio must be within [0, 1]")
	}
	if g.MinPrintableRatio < 0 || g.MinPrintableRatio > 1 || math.IsNaN(g.MinPrintableRatio) {
		return apperrors.NewConfigurationError("min_printable_ratio", "min_printable_ratio must be within [0, 1]")
	}
	return nil
}

// AssessTextQuality measures text after trimming surrounding whitespace.
// Ratios are relative to the rune count of the trimmed text.
func AssessTextQuality(text string) QualityReport {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return QualityReport{LooksEmpty: true}
	}

	chars := utf8.RuneCountInString(normalized)
	alpha, printable := 0, 0
	for _, r := range normalized {
		if isASCIILetter(r) {
			alpha++
		}
		if isPrintable(r) {
			printable++
		}
	}

	return QualityReport{
		Chars:          chars,
		AlphaChars:     alpha,
		AlphaRatio:     float64(alpha) / float64(chars),
		PrintableRatio: float64(printable) / float64(chars),
	}
}

// PassesQualityGate reports whether the report meets every threshold.
func PassesQualityGate(report QualityReport, gate QualityGate) bool {
	return len(GateFailures(report, gate)) == 0
}

// GateFailures lists every check the report fails.
func GateFailures(report QualityReport, gate QualityGate) []string {
	var failures []string
	if report.LooksEmpty {
		failures = append(failures, GateLooksEmpty)
	}
	if report.Chars < gate.MinCharsPerPage {
		failures = append(failures, GateTooFewChars)
	}
	if report.AlphaRatio < gate.MinAlphaRatio {
		failures = append(failures, GateLowAlphaRatio)
	}
	if report.PrintableRatio < gate.MinPrintableRatio {
		failures = append(failures, GateLowPrintableRatio)
	}
	return failures
}

// Summary rounds the report into the per-engine observability record.
func (r QualityReport) Summary() EngineQuality {
	return EngineQuality{
		Chars:          r.Chars,
		AlphaRatio:     round4(r.AlphaRatio),
		PrintableRatio: round4(r.PrintableRatio),
	}
}

func isASCIILetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func isPrintable(r rune) bool {
	return (r >= 0x20 && r <= 0x7E) || r == '\n' || r == '\t'
}

// round4 rounds to 4 decimal places, half away from zero.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
