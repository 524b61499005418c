package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrRunNotFound     = errors.New("run not found")
	ErrTooManyPayloads = fmt.Errorf("batch trigger accepts at most %d payloads", MaxBatchTrigger)
	ErrRunnerStopped   = errors.New("task runner stopped")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err so the runner does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type retryable interface {
	Retryable() bool
}

// IsRetryable decides whether a failed attempt should be tried again. Errors that
// declare Retryable() are asked; cancellation and validation errors are final;
// anything else, network failures included, is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return false
	}
	return true
}

// RunError is what TriggerAndWait returns when the child run failed. The child has
// already used its own retries.
type RunError struct {
	Task     string
	RunID    string
	Attempts int
	Message  string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("task %s (run %s) failed after %d attempt(s): %s", e.Task, e.RunID, e.Attempts, e.Message)
}

func (e *RunError) Retryable() bool { return false }
