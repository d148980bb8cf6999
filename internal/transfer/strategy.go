package transfer

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Kind names an execution strategy
type Kind string

const (
	KindSerial       Kind = "serial"
	KindParallel     Kind = "parallel"
	KindAsynchronous Kind = "asynchronous"
)

func (k Kind) String() string {
	return string(k)
}

// ParseKind maps a strategy token to its kind. Unknown tokens fall back to
// KindSerial.
func ParseKind(token string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(token))) {
	case KindParallel:
		return KindParallel
	case KindAsynchronous:
		return KindAsynchronous
	default:
		return KindSerial
	}
}

// ItemFunc transfers the item at index and returns its outcome
type ItemFunc func(ctx context.Context, index int, item Item) Outcome

// Strategy orchestrates an ItemFunc over a batch. The returned slice has one
// outcome per item, in input order.
type Strategy interface {
	Kind() Kind
	Run(ctx context.Context, items []Item, fn ItemFunc) []Outcome
}

// SelectStrategy builds the strategy named by token
func SelectStrategy(token string, opts Options) Strategy {
	switch ParseKind(token) {
	case KindParallel:
		return NewBoundedParallel(opts.MaxConcurrency)
	case KindAsynchronous:
		return Unbounded{}
	default:
		return Sequential{ContinueOnError: opts.ContinueOnError}
	}
}

// Sequential transfers one item at a time in input order
type Sequential struct {
	// ContinueOnError keeps going after a failed item instead of cancelling
	// the rest of the batch with ErrAborted
	ContinueOnError bool
}

func (Sequential) Kind() Kind { return KindSerial }

func (s Sequential) Run(ctx context.Context, items []Item, fn ItemFunc) []Outcome {
	outcomes := make([]Outcome, len(items))
	aborted := false

	for i, item := range items {
		switch {
		case ctx.Err() != nil:
			outcomes[i] = skipped(item, ErrCancelled)
			continue
		case aborted:
			outcomes[i] = skipped(item, ErrAborted)
			continue
		}

		outcomes[i] = fn(ctx, i, item)
		if outcomes[i].Status == StatusFailed && !s.ContinueOnError {
			aborted = true
		}
	}

	return outcomes
}

// BoundedParallel launches every item at once but lets at most the gate's
// size run concurrently
type BoundedParallel struct {
	gate *Gate
}

// NewBoundedParallel creates a bounded strategy with its own gate. The gate is
// shared by every Run on the returned value.
func NewBoundedParallel(maxConcurrency int) *BoundedParallel {
	return &BoundedParallel{gate: NewGate(maxConcurrency)}
}

func (*BoundedParallel) Kind() Kind { return KindParallel }

// Gate returns the strategy's concurrency gate
func (b *BoundedParallel) Gate() *Gate { return b.gate }

func (b *BoundedParallel) Run(ctx context.Context, items []Item, fn ItemFunc) []Outcome {
	return fanOut(ctx, items, func(ctx context.Context, i int, item Item) Outcome {
		permit, err := b.gate.Acquire(ctx)
		if err != nil {
			return skipped(item, err)
		}
		defer permit.Release()

		return fn(ctx, i, item)
	})
}

// Unbounded launches every item at once with no cap
type Unbounded struct{}

func (Unbounded) Kind() Kind { return KindAsynchronous }

func (Unbounded) Run(ctx context.Context, items []Item, fn ItemFunc) []Outcome {
	return fanOut(ctx, items, fn)
}

// fanOut runs fn for every item in its own goroutine. Items that have not
// started when ctx is cancelled are skipped. Each goroutine writes only its
// own slot, so outcomes keeps input order.
func fanOut(ctx context.Context, items []Item, fn ItemFunc) []Outcome {
	outcomes := make([]Outcome, len(items))

	var g errgroup.Group
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = skipped(item, ErrCancelled)
				return nil
			}
			outcomes[i] = fn(ctx, i, item)
			// failures stay in the outcome so siblings keep running
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
