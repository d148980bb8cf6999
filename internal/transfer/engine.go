// Package transfer implements the batch transfer engine: a retry executor with
// exponential backoff, a concurrency gate, three execution strategies, and the
// Engine facade that runs a batch of items into a Sink and aggregates the
// per-item outcomes.
package transfer

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Sink durably stores one item's content under its name
type Sink interface {
	Store(ctx context.Context, item Item) error
}

// Observer receives engine events. Methods are called from concurrent
// goroutines.
type Observer interface {
	OnItemStart(batchID, name string)
	OnRetry(batchID string, event RetryEvent)
	OnOutcome(batchID string, outcome Outcome)
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver adds an event observer
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// Engine runs batches of items into a sink
type Engine struct {
	sink      Sink
	opts      Options
	logger    *zap.Logger
	observers []Observer

	strategies map[Kind]Strategy
}

// New creates an engine. It fails with ErrInvalidOptions when opts do not
// validate.
func New(sink Sink, opts Options, options ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		sink:   sink,
		opts:   opts.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(e)
	}

	e.strategies = map[Kind]Strategy{
		KindSerial:       SelectStrategy(string(KindSerial), e.opts),
		KindParallel:     SelectStrategy(string(KindParallel), e.opts),
		KindAsynchronous: SelectStrategy(string(KindAsynchronous), e.opts),
	}

	return e, nil
}

// Options returns the engine's effective options
func (e *Engine) Options() Options {
	return e.opts
}

// Run transfers items with the strategy named by token. If ctx is already
// cancelled, every item is reported as cancelled, the sink is never called,
// and ErrCancelled is returned alongside the result. Otherwise the error is
// nil and per-item failures are reported in the result.
func (e *Engine) Run(ctx context.Context, items []Item, token string) (*Result, error) {
	strategy := e.strategies[ParseKind(token)]
	result := &Result{
		ID:        ulid.Make().String(),
		Strategy:  strategy.Kind(),
		StartedAt: time.Now(),
	}

	logger := e.logger.With(
		zap.String("batch_id", result.ID),
		zap.Stringer("strategy", result.Strategy),
	)

	if ctx.Err() != nil {
		result.Outcomes = make([]Outcome, len(items))
		for i, item := range items {
			result.Outcomes[i] = skipped(item, ErrCancelled)
			e.notifyOutcome(result.ID, result.Outcomes[i])
		}
		logger.Warn("Batch cancelled before start", zap.Int("items", len(items)))
		return result, ErrCancelled
	}

	logger.Info("Starting batch", zap.Int("items", len(items)))

	executor := NewExecutor(e.opts.Policy(), logger, func(ev RetryEvent) {
		for _, o := range e.observers {
			o.OnRetry(result.ID, ev)
		}
	})

	// started[i] is written only by the goroutine handling item i and read
	// after the strategy returns
	started := make([]bool, len(items))
	result.Outcomes = strategy.Run(ctx, items, func(ctx context.Context, i int, item Item) Outcome {
		started[i] = true
		return e.transferItem(ctx, result.ID, logger, executor, item)
	})

	for i, o := range result.Outcomes {
		if !started[i] {
			e.notifyOutcome(result.ID, o)
		}
	}

	result.Duration = time.Since(result.StartedAt)
	summary := result.Summary()
	logger.Info("Batch finished",
		zap.String("state", string(result.State())),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("cancelled", summary.Cancelled),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (e *Engine) transferItem(ctx context.Context, batchID string, logger *zap.Logger, executor *Executor, item Item) Outcome {
	for _, o := range e.observers {
		o.OnItemStart(batchID, item.Name)
	}

	start := time.Now()
	logger.Debug("Starting transfer", zap.String("name", item.Name))
	attempts, err := executor.Execute(ctx, item.Name, func(ctx context.Context) error {
		return e.sink.Store(ctx, item)
	})
	outcome := outcomeFromError(item, attempts, err, time.Since(start))

	switch outcome.Status {
	case StatusSuccess:
		logger.Info("Transfer completed",
			zap.String("name", item.Name),
			zap.Int64("size", item.Size),
			zap.Int("attempts", attempts),
			zap.Duration("duration", outcome.Duration),
		)
	case StatusCancelled:
		logger.Warn("Transfer cancelled",
			zap.String("name", item.Name),
			zap.Int("attempts", attempts),
		)
	default:
		logger.Error("Transfer failed after all retries",
			zap.String("name", item.Name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	e.notifyOutcome(batchID, outcome)
	return outcome
}

func (e *Engine) notifyOutcome(batchID string, outcome Outcome) {
	for _, o := range e.observers {
		o.OnOutcome(batchID, outcome)
	}
}
