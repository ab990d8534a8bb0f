package ocr

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
)

// DefaultDPI is the rasterization resolution used when none is configured.
const DefaultDPI = 200

// RenderOptions controls PDF rasterization.
type RenderOptions struct {
	DPI      int `json:"dpi" yaml:"dpi"`
	MaxPages int `json:"max_pages" yaml:"max_pages"` // 0 means every page
}

// RenderedPage is one page rasterized to PNG.
type RenderedPage struct {
	PageNumber int // 1-based
	PNG        []byte
	WidthPx    int
	HeightPx   int
}

// Input converts the rendered page to an engine input.
func (p RenderedPage) Input() PageInput {
	return PageInput{PageNumber: p.PageNumber, PNG: p.PNG}
}

// PageInputs converts rendered pages to engine inputs.
func PageInputs(pages []RenderedPage) []PageInput {
	inputs := make([]PageInput, len(pages))
	for i, p := range pages {
		inputs[i] = p.Input()
	}
	return inputs
}

// RenderPDFToPNGPages rasterizes pdf in document order at opts.DPI.
// Rendering stops quietly once MaxPages pages have been produced.
func RenderPDFToPNGPages(pdf []byte, opts RenderOptions) ([]RenderedPage, error) {
	if opts.DPI <= 0 {
		return nil, apperrors.NewInvalidArgumentError("dpi", "dpi must be > 0")
	}
	if opts.MaxPages < 0 {
		return nil, apperrors.NewInvalidArgumentError("max_pages", "max_pages must be >= 0")
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, apperrors.NewRenderFailedError("failed to open PDF", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if opts.MaxPages > 0 && opts.MaxPages < count {
		count = opts.MaxPages
	}

	pages := make([]RenderedPage, 0, count)
	for idx := 0; idx < count; idx++ {
		img, err := doc.ImageDPI(idx, float64(opts.DPI))
		if err != nil {
			return nil, apperrors.NewRenderFailedError(fmt.Sprintf("failed to render page %d", idx+1), err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, apperrors.NewRenderFailedError(fmt.Sprintf("failed to encode page %d as PNG", idx+1), err)
		}

		bounds := img.Bounds()
		pages = append(pages, RenderedPage{
			PageNumber: idx + 1,
			PNG:        buf.Bytes(),
			WidthPx:    bounds.Dx(),
			HeightPx:   bounds.Dy(),
		})
	}

	return pages, nil
}
