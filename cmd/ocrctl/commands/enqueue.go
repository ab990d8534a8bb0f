package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/queue"
)

var (
	enqueueDocumentID  string
	enqueueSource      string
	enqueueSourceURI   string
	enqueueFileURL     string
	enqueueFile        string
	enqueueFingerprint string
	enqueueMaxRetry    int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit an OCR job to the worker queue",
	Long: `Submit an OCR job for a document. The job id is the idempotency key
"<pipeline_version>:<document_id>:<content_fingerprint>", so resubmitting the
same document version is a no-op.`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueDocumentID, "document-id", "", "document id (derived from --source and --source-uri when empty)")
	enqueueCmd.Flags().StringVar(&enqueueSource, "source", "", "source name, e.g. archive_org")
	enqueueCmd.Flags().StringVar(&enqueueSourceURI, "source-uri", "", "canonical URI of the document at its source")
	enqueueCmd.Flags().StringVar(&enqueueFileURL, "file-url", "", "URL the worker downloads the PDF from")
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "local PDF sent inline with the job")
	enqueueCmd.Flags().StringVar(&enqueueFingerprint, "fingerprint", "", "content fingerprint (sha256 of --file when empty)")
	enqueueCmd.Flags().IntVar(&enqueueMaxRetry, "max-retry", 5, "asynq retry limit")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.PipelineVersion == "" {
		return fmt.Errorf("PIPELINE_VERSION is required")
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	payload := &queue.JobPayload{
		DocumentID:         enqueueDocumentID,
		Source:             enqueueSource,
		SourceURI:          enqueueSourceURI,
		PipelineVersion:    cfg.PipelineVersion,
		ContentType:        "application/pdf",
		FileURL:            enqueueFileURL,
		ContentFingerprint: enqueueFingerprint,
	}
	if enqueueFile != "" {
		data, err := os.ReadFile(enqueueFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		payload.FileBuffer = data
		if payload.ContentFingerprint == "" {
			sum := sha256.Sum256(data)
			payload.ContentFingerprint = hex.EncodeToString(sum[:])
		}
	}

	enq, err := queue.NewEnqueuer(cfg.RedisURL, cfg.OCRQueueName, enqueueMaxRetry)
	if err != nil {
		return err
	}
	defer enq.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	added, err := enq.Enqueue(ctx, payload)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"idempotency_key": payload.IdempotencyKey(),
		"document_id":     payload.ResolvedDocumentID(),
		"queue":           cfg.OCRQueueName,
		"enqueued":        added,
	})
}
