/**
 * OCR ensemble types
 *
 * A document is rasterized to pages, every configured engine reads every
 * page, and the medoid text (the engine output most similar to the others)
 * becomes the page's consensus. A deterministic quality gate then decides
 * whether the consensus is trustworthy.
 */

package ocr

import "context"

const (
	// DefaultPrompt is the instruction sent alongside every page image.
	DefaultPrompt = "Read all text in the image. Output plain text only."
	// DefaultMaxTokens caps the completion length per page.
	DefaultMaxTokens = 512
	// ModelPrefix is prepended to an engine name to form the backend model id.
	ModelPrefix = "ocr/"
)

// EngineSpec names one OCR backend.
type EngineSpec struct {
	Name string `json:"engine" yaml:"engine"`
}

// Model returns the model identifier sent to the OCR backend.
func (e EngineSpec) Model() string {
	return ModelPrefix + e.Name
}

// PageInput is one rasterized page handed to the engines.
type PageInput struct {
	PageNumber int // 1-based
	PNG        []byte
}

// Gateway performs one OCR call for one (engine, page) pair.
// Implementations must be safe for concurrent use and must not retry.
type Gateway interface {
	OCRPage(ctx context.Context, engine EngineSpec, page PageInput, prompt string, maxTokens int) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, engine EngineSpec, page PageInput, prompt string, maxTokens int) (string, error)

func (f GatewayFunc) OCRPage(ctx context.Context, engine EngineSpec, page PageInput, prompt string, maxTokens int) (string, error) {
	return f(ctx, engine, page, prompt, maxTokens)
}

// EngineQuality is the per-engine quality summary recorded for observability.
type EngineQuality struct {
	Chars          int     `json:"chars"`
	AlphaRatio     float64 `json:"alpha_ratio"`
	PrintableRatio float64 `json:"printable_ratio"`
}

// ConsensusMeta explains how a page's consensus text was chosen.
type ConsensusMeta struct {
	Winner             string                        `json:"winner"`
	AvgSimilarity      float64                       `json:"avg_similarity"`
	PairwiseSimilarity map[string]map[string]float64 `json:"pairwise_similarity"`
}

// PageResult is the outcome of running the ensemble on one page.
type PageResult struct {
	PageNumber      int                      `json:"page_number"`
	ConsensusText   string                   `json:"consensus_text"`
	EngineTexts     map[string]string        `json:"engine_texts"`
	QualityByEngine map[string]EngineQuality `json:"quality_by_engine"`
	ConsensusMeta   ConsensusMeta            `json:"consensus_meta"`
	PassedGate      bool                     `json:"passed_gate"`
}

// EnsembleResult is the outcome of running the ensemble on a document.
type EnsembleResult struct {
	Pages         []PageResult `json:"pages"`
	MergedText    string       `json:"merged_text"`
	OverallPassed bool         `json:"overall_passed"`
}

// PagesPassed counts pages whose consensus passed the gate.
func (r *EnsembleResult) PagesPassed() int {
	n := 0
	for _, p := range r.Pages {
		if p.PassedGate {
			n++
		}
	}
	return n
}

// EnsembleConfig controls a RunEnsemble call.
type EnsembleConfig struct {
	Engines     []EngineSpec
	Gate        QualityGate
	Prompt      string
	MaxTokens   int
	Concurrency int // pages in flight; <= 1 means sequential
}

// DefaultEnsembleConfig returns a config with the default gate, prompt and token cap.
func DefaultEnsembleConfig(engines ...EngineSpec) EnsembleConfig {
	return EnsembleConfig{
		Engines:     engines,
		Gate:        DefaultQualityGate(),
		Prompt:      DefaultPrompt,
		MaxTokens:   DefaultMaxTokens,
		Concurrency: 1,
	}
}

// EngineNames returns the configured engine names in order.
func (c EnsembleConfig) EngineNames() []string {
	names := make([]string, len(c.Engines))
	for i, e := range c.Engines {
		names[i] = e.Name
	}
	return names
}

// Without returns a copy of the config with the named engine removed.
func (c EnsembleConfig) Without(name string) EnsembleConfig {
	out := c
	out.Engines = make([]EngineSpec, 0, len(c.Engines))
	for _, e := range c.Engines {
		if e.Name != name {
			out.Engines = append(out.Engines, e)
		}
	}
	return out
}
