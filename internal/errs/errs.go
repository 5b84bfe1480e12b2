// Package errs holds the error taxonomy shared by the pipeline stages.
//
// Every concrete error reports its class through errors.Is against one of
// the sentinels below, so callers never need to switch on concrete types:
//
//	errors.Is(err, errs.ErrInput)      // reject the call, no retry
//	errors.Is(err, errs.ErrTransient)  // retry with backoff
//	errors.Is(err, errs.ErrCapability) // mark the stage failed and continue
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInput      = errors.New("invalid input")
	ErrTransient  = errors.New("transient capability error")
	ErrCapability = errors.New("capability failure")
	ErrAnalysis   = errors.New("audio analysis failed")
	ErrInvariant  = errors.New("assembly invariant violated")
)

// InvalidAudioError reports a corrupt or unsupported recording.
type InvalidAudioError struct {
	Reason string
	Err    error
}

func (e *InvalidAudioError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid audio: %s: %v", e.Reason, e.Err)
	}
	return "invalid audio: " + e.Reason
}

func (e *InvalidAudioError) Unwrap() error        { return e.Err }
func (e *InvalidAudioError) Is(target error) bool { return target == ErrInput }

// DurationExceededError reports a recording longer than the configured maximum.
type DurationExceededError struct {
	Duration time.Duration
	Max      time.Duration
}

func (e *DurationExceededError) Error() string {
	return fmt.Sprintf("recording duration %s exceeds maximum %s", e.Duration.Round(time.Millisecond), e.Max)
}

func (e *DurationExceededError) Is(target error) bool { return target == ErrInput }

// TransientError wraps a timeout or rate-limit from an external capability.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string        { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error        { return e.Err }
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient marks err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// CapabilityFailure is a persistent capability error or a malformed response
// that survived the retry budget.
type CapabilityFailure struct {
	Capability string
	Err        error
}

func (e *CapabilityFailure) Error() string {
	return fmt.Sprintf("%s capability failed: %v", e.Capability, e.Err)
}
func (e *CapabilityFailure) Unwrap() error        { return e.Err }
func (e *CapabilityFailure) Is(target error) bool { return target == ErrCapability }

// TranscriptionFailedError is returned once transcription retries are exhausted.
type TranscriptionFailedError struct {
	Attempts int
	Err      error
}

func (e *TranscriptionFailedError) Error() string {
	return fmt.Sprintf("transcription failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *TranscriptionFailedError) Unwrap() error        { return e.Err }
func (e *TranscriptionFailedError) Is(target error) bool { return target == ErrCapability }

// AnalysisError is raised by the quality analyzer on unreadable audio.
type AnalysisError struct {
	Reason string
}

func (e *AnalysisError) Error() string        { return "audio analysis: " + e.Reason }
func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysis }

// AssemblyInvariantError signals an internal defect found while assembling a
// report, e.g. overlapping transcript segments.
type AssemblyInvariantError struct {
	Detail string
}

func (e *AssemblyInvariantError) Error() string        { return "assembly invariant: " + e.Detail }
func (e *AssemblyInvariantError) Is(target error) bool { return target == ErrInvariant }

// RetryableStatus reports whether an HTTP status from a capability is worth
// another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func IsInput(err error) bool { return errors.Is(err, ErrInput) }

// IsTransient reports whether err should be retried. Deadline expiry of a
// single attempt counts as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
