package clients

import (
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/config"
)

// NewGatewayFromConfig wires the OCR gateway for cfg: engines listed as local run
// on Tesseract, the rest go to the LLM service. The LLM client is nil when no
// engine needs it.
func NewGatewayFromConfig(cfg *config.Config) (*EngineRouter, *LLMServiceClient) {
	var llm *LLMServiceClient
	var router *EngineRouter
	if cfg.LLMServiceURL != "" {
		llm = NewLLMServiceClient(cfg.LLMServiceURL, cfg.LLMServiceAPIKey, cfg.LLMTimeout())
		router = NewEngineRouter(llm)
	} else {
		router = NewEngineRouter(nil)
	}

	var tesseract *TesseractEngine
	for _, name := range cfg.OCREngines {
		if !cfg.IsLocalEngine(name) {
			continue
		}
		if tesseract == nil {
			tesseract = NewTesseractEngine(cfg.TesseractLanguages)
		}
		router.Register(name, tesseract)
	}
	return router, llm
}
