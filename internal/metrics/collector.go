package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"batchupload/internal/progress"
	"batchupload/internal/transfer"
)

var _ transfer.Observer = (*Collector)(nil)

// Collector collects and exposes metrics. It observes the transfer engine
// and feeds the progress tracker.
type Collector struct {
	registry *prometheus.Registry

	itemsTotal      *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	bytesTotal      prometheus.Counter
	inflightItems   prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker

	mu      sync.Mutex
	started map[string]int // batchID + name -> items started and not yet finished
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchupload_items_total",
				Help: "Total number of items finished, by status",
			},
			[]string{"status"},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "batchupload_retries_total",
				Help: "Total number of retries scheduled",
			},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "batchupload_bytes_total",
				Help: "Total bytes stored",
			},
		),
		inflightItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchupload_inflight_items",
				Help: "Number of items currently being transferred",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchupload_item_duration_seconds",
				Help:    "Time taken to transfer an item, retries included",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
		started:         make(map[string]int),
	}

	c.registry.MustRegister(
		c.itemsTotal,
		c.retriesTotal,
		c.bytesTotal,
		c.inflightItems,
		c.duration,
	)

	return c
}

// Registry returns the registry holding the collector's metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnItemStart implements transfer.Observer
func (c *Collector) OnItemStart(batchID, name string) {
	c.mu.Lock()
	c.started[batchID+"/"+name]++
	c.mu.Unlock()

	c.inflightItems.Inc()
}

// finish reports whether the item had been started and forgets it
func (c *Collector) finish(batchID, name string) bool {
	key := batchID + "/" + name

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.started[key]
	switch {
	case n == 0:
		return false
	case n == 1:
		delete(c.started, key)
	default:
		c.started[key] = n - 1
	}
	return true
}

// OnRetry implements transfer.Observer
func (c *Collector) OnRetry(batchID string, event transfer.RetryEvent) {
	c.retriesTotal.Inc()
	c.progressTracker.AddRetry()
}

// OnOutcome implements transfer.Observer. Items that never started did not
// raise the inflight gauge and have no duration.
func (c *Collector) OnOutcome(batchID string, outcome transfer.Outcome) {
	c.itemsTotal.WithLabelValues(outcome.Status.String()).Inc()

	if c.finish(batchID, outcome.Name) {
		c.inflightItems.Dec()
		c.duration.Observe(outcome.Duration.Seconds())
	}

	switch outcome.Status {
	case transfer.StatusSuccess:
		if outcome.Size > 0 {
			c.bytesTotal.Add(float64(outcome.Size))
		}
		c.progressTracker.AddSuccess(outcome.Size)
	case transfer.StatusFailed:
		c.progressTracker.AddFailed()
	default:
		c.progressTracker.AddCancelled()
	}
}

// Handler returns an HTTP handler serving the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer serves /metrics on addr until ctx is cancelled
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalCounts sets the totals for progress tracking
func (c *Collector) SetTotalCounts(items, bytes int64) {
	c.progressTracker.SetTotal(items, bytes)
}
