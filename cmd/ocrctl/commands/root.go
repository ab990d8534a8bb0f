package commands

import (
	"encoding/json"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/config"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ocrctl",
	Short: "Run the OCR ensemble on local PDFs",
	Long: `ocrctl rasterizes PDFs, runs the multi-engine OCR ensemble against the
configured backend and submits OCR jobs to the worker queue.

Settings come from the environment (and .env), overlaid by --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		logging.Configure(logging.Options{
			Level:  logLevel,
			Format: "console",
			Output: cmd.ErrOrStderr(),
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(cfgFile)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
