package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
)

var (
	renderDPI      int
	renderMaxPages int
	renderOutDir   string
)

var renderCmd = &cobra.Command{
	Use:   "render <pdf>",
	Short: "Rasterize a PDF into one PNG per page",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().IntVar(&renderDPI, "dpi", ocr.DefaultDPI, "render resolution")
	renderCmd.Flags().IntVar(&renderMaxPages, "max-pages", 0, "render at most this many pages (0 = all)")
	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", ".", "output directory")
	rootCmd.AddCommand(renderCmd)
}

type renderedFile struct {
	PageNumber int    `json:"page_number"`
	Path       string `json:"path"`
	WidthPx    int    `json:"width_px"`
	HeightPx   int    `json:"height_px"`
}

func runRender(cmd *cobra.Command, args []string) error {
	pdf, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}

	pages, err := ocr.RenderPDFToPNGPages(pdf, ocr.RenderOptions{DPI: renderDPI, MaxPages: renderMaxPages})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(renderOutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	files := make([]renderedFile, 0, len(pages))
	for _, p := range pages {
		path := filepath.Join(renderOutDir, fmt.Sprintf("page-%04d.png", p.PageNumber))
		if err := os.WriteFile(path, p.PNG, 0o644); err != nil {
			return fmt.Errorf("write page %d: %w", p.PageNumber, err)
		}
		files = append(files, renderedFile{PageNumber: p.PageNumber, Path: path, WidthPx: p.WidthPx, HeightPx: p.HeightPx})
	}

	return printJSON(cmd.OutOrStdout(), files)
}
