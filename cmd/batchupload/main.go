package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"batchupload/internal/app"
	"batchupload/internal/config"
	"batchupload/internal/logger"
	"batchupload/internal/progress"
	"batchupload/internal/transfer"
)

var configFile string

// errIncomplete marks a batch that ran but did not store every item
var errIncomplete = errors.New("batch incomplete")

var rootCmd = &cobra.Command{
	Use:          "batchupload [flags] PATH...",
	Short:        "Upload a batch of files to a directory or an S3 compatible bucket",
	Long:         `Uploads files and directory trees with serial, bounded parallel, or unbounded parallel execution, per-item retries with exponential backoff, and an optional resumable journal.`,
	Args:         cobra.MinimumNArgs(1),
	RunE:         runUpload,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file")

	// Sink flags
	rootCmd.Flags().String("sink", config.SinkFS, "Destination type (fs/s3)")
	rootCmd.Flags().String("dest", "./uploads", "Destination directory for the fs sink")
	rootCmd.Flags().String("endpoint", "", "S3 endpoint")
	rootCmd.Flags().String("access-key", "", "S3 access key")
	rootCmd.Flags().String("secret-key", "", "S3 secret key")
	rootCmd.Flags().Bool("secure", true, "Use HTTPS for the S3 endpoint")
	rootCmd.Flags().String("region", "", "S3 region")
	rootCmd.Flags().String("bucket", "", "Destination bucket for the s3 sink")
	rootCmd.Flags().String("prefix", "", "Object key prefix")

	// Transfer flags
	rootCmd.Flags().String("strategy", string(transfer.KindSerial), "Execution strategy (serial/parallel/asynchronous)")
	rootCmd.Flags().Int("retries", transfer.DefaultMaxRetryAttempts, "Attempts per item, first attempt included")
	rootCmd.Flags().Duration("retry-delay", transfer.DefaultInitialRetryDelay, "Wait before the first retry, doubled after each retry")
	rootCmd.Flags().Int("concurrency", transfer.DefaultMaxConcurrency, "Maximum in-flight items for the parallel strategy")
	rootCmd.Flags().Bool("continue-on-error", false, "Keep a serial batch going after an item fails")

	rootCmd.Flags().String("journal", "", "SQLite journal file (empty disables)")
	rootCmd.Flags().Bool("resume", false, "Skip items the journal records as stored")
	rootCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, cancelling batch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	uploader, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}
	defer func() {
		if closeErr := uploader.Close(); closeErr != nil {
			log.Error("Error closing uploader", zap.Error(closeErr))
		}
	}()

	result, err := uploader.Run(ctx, args)
	if result != nil {
		printSummary(cmd, uploader.Destination(), result)
	}
	if err != nil {
		return err
	}

	if state := result.State(); state != transfer.StateCompleted {
		return fmt.Errorf("%w: %s", errIncomplete, state)
	}
	return nil
}

func printSummary(cmd *cobra.Command, destination string, result *transfer.Result) {
	s := result.Summary()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Batch %s (%s) to %s: %s\n", result.ID, result.Strategy, destination, result.State())
	fmt.Fprintf(out, "  %d succeeded, %d failed, %d cancelled of %d items, %s in %s\n",
		s.Succeeded, s.Failed, s.Cancelled, s.Total,
		progress.FormatBytes(s.Bytes), result.Duration.Round(time.Millisecond))

	for _, o := range result.Failed() {
		fmt.Fprintf(out, "  failed: %s after %d attempts: %v\n", o.Name, o.Attempts, o.Err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
