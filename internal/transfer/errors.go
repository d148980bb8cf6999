package transfer

import "errors"

var (
	// ErrCancelled reports that the batch context was cancelled before the item completed
	ErrCancelled = errors.New("transfer cancelled")

	// ErrAborted reports that a sequential batch stopped after an earlier item failed
	ErrAborted = errors.New("transfer aborted after earlier failure")

	// ErrInvalidOptions wraps option validation failures
	ErrInvalidOptions = errors.New("invalid transfer options")
)

// permanentError marks an error that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor stops retrying after the current attempt
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
