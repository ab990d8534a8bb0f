package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/clients"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
)

var (
	runEngines     []string
	runConcurrency int
	runDPI         int
	runMaxPages    int
)

var runCmd = &cobra.Command{
	Use:   "run <pdf>",
	Short: "Run the OCR ensemble on a PDF and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnsemble,
}

func init() {
	runCmd.Flags().StringSliceVar(&runEngines, "engines", nil, "engines to run, in order (overrides config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "pages processed in parallel (overrides config)")
	runCmd.Flags().IntVar(&runDPI, "dpi", 0, "render resolution (overrides config)")
	runCmd.Flags().IntVar(&runMaxPages, "max-pages", -1, "page limit, 0 = all (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(runEngines) > 0 {
		cfg.OCREngines = runEngines
	}
	if runConcurrency > 0 {
		cfg.OCRPageConcurrency = runConcurrency
	}
	if runDPI > 0 {
		cfg.OCRDPI = runDPI
	}
	if runMaxPages >= 0 {
		cfg.OCRMaxPages = runMaxPages
	}
	if err := cfg.ValidateEnsemble(); err != nil {
		return err
	}

	pdf, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pages, err := ocr.RenderPDFToPNGPages(pdf, cfg.RenderOptions())
	if err != nil {
		return err
	}

	gateway, _ := clients.NewGatewayFromConfig(cfg)
	result, err := ocr.RunEnsemble(ctx, gateway, ocr.PageInputs(pages), cfg.EnsembleConfig())
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), result)
}
