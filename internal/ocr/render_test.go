package ocr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/testutil"
)

func blankPDF(n int) []byte {
	return testutil.BlankPDF(n, 72, 144)
}

func TestRenderRejectsNonPositiveDPI(t *testing.T) {
	for _, dpi := range []int{0, -72} {
		_, err := RenderPDFToPNGPages(blankPDF(1), RenderOptions{DPI: dpi})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorInvalidArgument, apperrors.CodeOf(err))
	}
}

func TestRenderRejectsNegativeMaxPages(t *testing.T) {
	_, err := RenderPDFToPNGPages(blankPDF(1), RenderOptions{DPI: 72, MaxPages: -1})
	assert.Equal(t, apperrors.ErrorInvalidArgument, apperrors.CodeOf(err))
}

func TestRenderCorruptPDF(t *testing.T) {
	_, err := RenderPDFToPNGPages([]byte("this is not a pdf"), RenderOptions{DPI: DefaultDPI})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorRenderFailed, apperrors.CodeOf(err))
}

func TestRenderPagesInOrder(t *testing.T) {
	pages, err := RenderPDFToPNGPages(blankPDF(3), RenderOptions{DPI: 144})
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.InDelta(t, 144, p.WidthPx, 1)
		assert.InDelta(t, 288, p.HeightPx, 1)

		img, err := png.Decode(bytes.NewReader(p.PNG))
		require.NoError(t, err)
		assert.Equal(t, p.WidthPx, img.Bounds().Dx())
		assert.Equal(t, p.HeightPx, img.Bounds().Dy())

		in := p.Input()
		assert.Equal(t, p.PageNumber, in.PageNumber)
		assert.Equal(t, p.PNG, in.PNG)
	}
}

func TestRenderMaxPages(t *testing.T) {
	pages, err := RenderPDFToPNGPages(blankPDF(3), RenderOptions{DPI: 72, MaxPages: 2})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[1].PageNumber)

	pages, err = RenderPDFToPNGPages(blankPDF(2), RenderOptions{DPI: 72, MaxPages: 5})
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	inputs := PageInputs(pages)
	assert.Equal(t, []int{1, 2}, []int{inputs[0].PageNumber, inputs[1].PageNumber})
}
