package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"batchupload/internal/checkpoint"
	"batchupload/internal/config"
	"batchupload/internal/metrics"
	"batchupload/internal/progress"
	"batchupload/internal/sink"
	"batchupload/internal/storage"
	"batchupload/internal/transfer"
)

// Uploader wires a sink, the transfer engine, and its observers
type Uploader struct {
	cfg         *config.Config
	logger      *zap.Logger
	destination string
	engine      *transfer.Engine
	lister      *ItemLister
	journal     *checkpoint.Journal
	store       checkpoint.Store
	metrics     *metrics.Collector
}

// New creates a new uploader. ctx bounds the sink setup, such as creating the
// destination bucket.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	dst, destination, err := newSink(ctx, cfg.Sink)
	if err != nil {
		return nil, err
	}
	return newUploader(cfg, logger, dst, destination)
}

func newUploader(cfg *config.Config, logger *zap.Logger, dst transfer.Sink, destination string) (*Uploader, error) {
	u := &Uploader{
		cfg:         cfg,
		logger:      logger,
		destination: destination,
		lister:      NewItemLister(logger),
		metrics:     metrics.New(),
	}

	options := []transfer.Option{
		transfer.WithLogger(logger),
		transfer.WithObserver(u.metrics),
	}

	if cfg.Journal != "" {
		store, err := checkpoint.NewSQLiteStore(cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		u.store = store
		u.journal = checkpoint.NewJournal(store, destination, logger)
		options = append(options, transfer.WithObserver(u.journal))
	}

	engine, err := transfer.New(dst, cfg.Transfer.Options(), options...)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	u.engine = engine

	return u, nil
}

func newSink(ctx context.Context, cfg config.SinkConfig) (transfer.Sink, string, error) {
	switch cfg.Type {
	case config.SinkS3:
		client, err := storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
			Region:    cfg.Region,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create object store client: %w", err)
		}
		dst, err := sink.NewObjectSink(ctx, client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create object sink: %w", err)
		}
		return dst, fmt.Sprintf("s3://%s/%s/%s", strings.TrimRight(cfg.Endpoint, "/"), cfg.Bucket, cfg.Prefix), nil

	default:
		dir, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve destination %s: %w", cfg.Dir, err)
		}
		dst, err := sink.NewOSFileSink(dir)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file sink: %w", err)
		}
		return dst, "file://" + filepath.ToSlash(dir), nil
	}
}

// Destination identifies where items are stored
func (u *Uploader) Destination() string {
	return u.destination
}

// Metrics returns the uploader's metrics collector
func (u *Uploader) Metrics() *metrics.Collector {
	return u.metrics
}

// Run collects items from paths and transfers them as one batch. The result
// is returned even when the batch is cancelled.
func (u *Uploader) Run(ctx context.Context, paths []string) (*transfer.Result, error) {
	items, err := u.lister.List(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return u.RunItems(ctx, items)
}

// RunItems transfers items as one batch
func (u *Uploader) RunItems(ctx context.Context, items []transfer.Item) (*transfer.Result, error) {
	if u.cfg.Resume && u.journal != nil {
		done, err := u.journal.SucceededNames()
		if err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
		var skipped int
		items, skipped = filterSucceeded(items, done)
		u.logger.Info("Resuming from journal",
			zap.String("destination", u.destination),
			zap.Int("already_stored", skipped),
			zap.Int("remaining", len(items)),
		)
	}

	if kind := transfer.ParseKind(u.cfg.Transfer.Strategy); string(kind) != strings.ToLower(strings.TrimSpace(u.cfg.Transfer.Strategy)) {
		u.logger.Warn("Unknown strategy, using serial", zap.String("strategy", u.cfg.Transfer.Strategy))
	}

	totalItems, totalBytes := CountItems(items)
	u.metrics.SetTotalCounts(totalItems, totalBytes)

	u.logger.Info("Starting upload",
		zap.String("destination", u.destination),
		zap.String("strategy", u.cfg.Transfer.Strategy),
		zap.Int64("items", totalItems),
		zap.String("total_size", progress.FormatBytes(totalBytes)),
		zap.Int("concurrency", u.cfg.Transfer.MaxConcurrency),
	)

	if u.cfg.MetricsAddr != "" {
		serverCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		go func() {
			if err := u.metrics.StartServer(serverCtx, u.cfg.MetricsAddr); err != nil {
				u.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if u.cfg.ShowProgress && progress.IsTerminalSupported() {
		display := progress.NewDisplay(u.metrics.GetProgressTracker(), 2*time.Second)
		display.Start()
		defer display.Stop()
	}

	return u.engine.Run(ctx, items, u.cfg.Transfer.Strategy)
}

// Close releases the journal
func (u *Uploader) Close() error {
	if u.store != nil {
		return u.store.Close()
	}
	return nil
}
