/**
 * Tesseract Engine - in-process OCR engine
 *
 * Serves ensemble engines listed in OCR_LOCAL_ENGINES without a network hop.
 * Prompt and token limits do not apply to Tesseract and are ignored.
 */

package clients

import (
	"context"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
)

// TesseractEngine runs OCR locally through libtesseract
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// NewTesseractEngine creates a Tesseract engine for the given languages ("eng" when empty)
func NewTesseractEngine(languages []string) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
		logger:        logging.NewLogger("TesseractEngine"),
	}
}

// OCRPage performs OCR on one page image.
func (t *TesseractEngine) OCRPage(ctx context.Context, engine ocr.EngineSpec, page ocr.PageInput, _ string, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
	}

	startTime := time.Now()

	// gosseract clients are not safe for concurrent use; one per call
	client := t.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
	}

	if err := client.SetImageFromBytes(page.PNG); err != nil {
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
	}

	text, err := client.Text()
	if err != nil {
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
	}

	t.logger.Debug("Tesseract OCR complete",
		"engine", engine.Name,
		"page", page.PageNumber,
		"textLength", len(text),
		"duration", time.Since(startTime))

	return strings.TrimSpace(text), nil
}

// EngineRouter dispatches each engine to a local gateway when one is
// registered for it and to the remote gateway otherwise.
type EngineRouter struct {
	local  map[string]ocr.Gateway
	remote ocr.Gateway
}

// NewEngineRouter creates a router with remote as the default gateway. remote may be nil
// when every configured engine is local.
func NewEngineRouter(remote ocr.Gateway) *EngineRouter {
	return &EngineRouter{
		local:  make(map[string]ocr.Gateway),
		remote: remote,
	}
}

// Register serves the named engine from gw.
func (r *EngineRouter) Register(engine string, gw ocr.Gateway) *EngineRouter {
	r.local[engine] = gw
	return r
}

// OCRPage implements ocr.Gateway.
func (r *EngineRouter) OCRPage(ctx context.Context, engine ocr.EngineSpec, page ocr.PageInput, prompt string, maxTokens int) (string, error) {
	if gw, ok := r.local[engine.Name]; ok {
		return gw.OCRPage(ctx, engine, page, prompt, maxTokens)
	}
	if r.remote == nil {
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber,
			apperrors.NewInvalidArgumentError("engine", "no gateway configured for engine "+engine.Name))
	}
	return r.remote.OCRPage(ctx, engine, page, prompt, maxTokens)
}
