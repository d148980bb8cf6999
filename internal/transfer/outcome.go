package transfer

import (
	"errors"
	"time"
)

// Status is the terminal state of one item
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of transferring one item
type Outcome struct {
	Name     string
	Status   Status
	Err      error // reason for Failed or Cancelled, nil on success
	Attempts int   // sink calls made for this item
	Size     int64
	Duration time.Duration
}

func outcomeFromError(item Item, attempts int, err error, elapsed time.Duration) Outcome {
	o := Outcome{
		Name:     item.Name,
		Attempts: attempts,
		Size:     item.Size,
		Duration: elapsed,
		Err:      err,
	}

	switch {
	case err == nil:
		o.Status = StatusSuccess
	case errors.Is(err, ErrCancelled):
		o.Status = StatusCancelled
	default:
		o.Status = StatusFailed
	}
	return o
}

// skipped builds the outcome of an item that never started
func skipped(item Item, reason error) Outcome {
	return Outcome{
		Name:   item.Name,
		Status: StatusCancelled,
		Err:    reason,
		Size:   item.Size,
	}
}

// State classifies a whole batch for reporting
type State string

const (
	StateCompleted State = "completed"
	StatePartial   State = "partial"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Summary counts outcomes per status
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Bytes     int64 // bytes of succeeded items with a known size
}

// Result is the aggregated outcome of one batch. Outcomes[i] belongs to the
// i-th submitted item.
type Result struct {
	ID        string
	Strategy  Kind
	Outcomes  []Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// Summary counts the result's outcomes
func (r *Result) Summary() Summary {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Succeeded++
			if o.Size > 0 {
				s.Bytes += o.Size
			}
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// State reports completed when every item succeeded (an empty batch included),
// cancelled when nothing failed but something was cancelled, failed when
// nothing succeeded, and partial otherwise.
func (r *Result) State() State {
	s := r.Summary()
	switch {
	case s.Succeeded == s.Total:
		return StateCompleted
	case s.Failed == 0:
		return StateCancelled
	case s.Succeeded == 0:
		return StateFailed
	default:
		return StatePartial
	}
}

// Failed returns the outcomes that ended in failure
func (r *Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}
