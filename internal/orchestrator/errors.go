package orchestrator

import "errors"

// Failure kinds. Every Result.Err and Warning.Kind wraps exactly one of them.
var (
	ErrValidation   = errors.New("validation error")
	ErrSubmission   = errors.New("submission error")
	ErrUpstreamPoll = errors.New("upstream poll error")
	ErrTimeout      = errors.New("recognition timed out")
	ErrPersistence  = errors.New("persistence error")
	ErrArchive      = errors.New("archive error")
)

// Warning is a non-fatal side-effect failure. It never changes the outcome
// reported to the caller.
type Warning struct {
	Kind    error
	Message string
}

func (w Warning) String() string {
	return w.Kind.Error() + ": " + w.Message
}
