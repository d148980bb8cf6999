package transfer

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by DefaultOptions
const (
	DefaultMaxRetryAttempts  = 3
	DefaultInitialRetryDelay = time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxConcurrency    = 5
)

var validate = validator.New()

// Options configures retry and concurrency behaviour for a batch engine
type Options struct {
	// MaxRetryAttempts is the total number of attempts per item, first attempt included
	MaxRetryAttempts int `validate:"gte=1"`
	// InitialRetryDelay is the wait before the first retry
	InitialRetryDelay time.Duration `validate:"gte=0"`
	// BackoffMultiplier scales the wait after each retry. Zero means DefaultBackoffMultiplier.
	BackoffMultiplier float64 `validate:"gte=1"`
	// MaxConcurrency caps in-flight items for the parallel strategy
	MaxConcurrency int `validate:"gte=1"`
	// ContinueOnError keeps a serial batch going after an item fails
	ContinueOnError bool
}

// DefaultOptions returns the reference configuration
func DefaultOptions() Options {
	return Options{
		MaxRetryAttempts:  DefaultMaxRetryAttempts,
		InitialRetryDelay: DefaultInitialRetryDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxConcurrency:    DefaultMaxConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return o
}

// Validate checks the options after applying defaults
func (o Options) Validate() error {
	if err := validate.Struct(o.withDefaults()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// Policy returns the retry policy derived from the options
func (o Options) Policy() Policy {
	o = o.withDefaults()
	return Policy{
		MaxAttempts:  o.MaxRetryAttempts,
		InitialDelay: o.InitialRetryDelay,
		Multiplier:   o.BackoffMultiplier,
	}
}

// Policy is a stateless exponential backoff schedule
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// Delay returns the wait before retry number attemptIndex+1. Index 0 is the
// wait between the first and second attempts.
func (p Policy) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attemptIndex)))
}
