package ocr

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
)

var logger = logging.NewLogger("OCREnsemble")

// Validate checks the configuration before any backend is called.
func (c EnsembleConfig) Validate() error {
	if len(c.Engines) == 0 {
		return apperrors.NewConfigurationError("engines", "engine list must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Engines))
	for _, e := range c.Engines {
		if e.Name == "" {
			return apperrors.NewConfigurationError("engines", "engine name must not be empty")
		}
		if _, dup := seen[e.Name]; dup {
			return apperrors.NewConfigurationError("engines", fmt.Sprintf("engine %q listed twice", e.Name))
		}
		seen[e.Name] = struct{}{}
	}
	if c.MaxTokens < 0 {
		return apperrors.NewConfigurationError("max_tokens", "max_tokens must be >= 0")
	}
	return c.Gate.Validate()
}

func (c EnsembleConfig) withDefaults() EnsembleConfig {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// RunEnsemble OCRs every page with every configured engine, picks a consensus
// per page and applies the quality gate. Pages come back in input order.
//
// Any engine failure aborts the whole run; no partial result is returned.
// A page failing the gate is not an error.
func RunEnsemble(ctx context.Context, gw Gateway, pages []PageInput, cfg EnsembleConfig) (*EnsembleResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, apperrors.NewInvalidArgumentError("gateway", "gateway is required")
	}
	cfg = cfg.withDefaults()

	start := time.Now()
	results := make([]PageResult, len(pages))

	if cfg.Concurrency <= 1 {
		for i, page := range pages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := runPage(ctx, gw, page, cfg)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for i, page := range pages {
			g.Go(func() error {
				// skip pages queued behind a failure
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := runPage(gctx, gw, page, cfg)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	overall := true
	for _, r := range results {
		if !r.PassedGate {
			overall = false
		}
	}

	logger.Info("OCR ensemble complete",
		"pages", len(results),
		"engines", cfg.EngineNames(),
		"overall_passed", overall,
		"duration", time.Since(start))

	return &EnsembleResult{
		Pages:         results,
		MergedText:    MergePages(results),
		OverallPassed: overall,
	}, nil
}

// runPage calls every engine in configured order for one page.
func runPage(ctx context.Context, gw Gateway, page PageInput, cfg EnsembleConfig) (PageResult, error) {
	candidates := make([]Candidate, 0, len(cfg.Engines))
	engineTexts := make(map[string]string, len(cfg.Engines))
	qualityByEngine := make(map[string]EngineQuality, len(cfg.Engines))

	for _, engine := range cfg.Engines {
		text, err := gw.OCRPage(ctx, engine, page, cfg.Prompt, cfg.MaxTokens)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrorEngineCallFailed) {
				return PageResult{}, err
			}
			return PageResult{}, apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
		}
		candidates = append(candidates, Candidate{Engine: engine.Name, Text: text})
		engineTexts[engine.Name] = text
		qualityByEngine[engine.Name] = AssessTextQuality(text).Summary()
	}

	consensus, meta, err := ChooseConsensus(candidates)
	if err != nil {
		return PageResult{}, err
	}
	report := AssessTextQuality(consensus)
	failures := GateFailures(report, cfg.Gate)

	if len(failures) > 0 {
		logger.Warn("Page failed quality gate",
			"page", page.PageNumber,
			"winner", meta.Winner,
			"failures", failures)
	} else {
		logger.Debug("Page passed quality gate",
			"page", page.PageNumber,
			"winner", meta.Winner,
			"chars", report.Chars)
	}

	return PageResult{
		PageNumber:      page.PageNumber,
		ConsensusText:   consensus,
		EngineTexts:     engineTexts,
		QualityByEngine: qualityByEngine,
		ConsensusMeta:   meta,
		PassedGate:      len(failures) == 0,
	}, nil
}
