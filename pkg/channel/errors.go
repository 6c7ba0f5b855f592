package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Stage names one step of a channel's remote workflow.
type Stage string

// ErrMissingPayload marks a success envelope that carried no payload.
var ErrMissingPayload = errors.New("remote result missing payload")

// ConfigurationError reports a required param that has no usable value.
type ConfigurationError struct {
	Channel string
	Param   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "invalid value"
	}
	if e.Channel == "" {
		return fmt.Sprintf("configuration error: param %s: %s", e.Param, reason)
	}
	return fmt.Sprintf("configuration error: channel %s param %s: %s", e.Channel, e.Param, reason)
}

// RemoteStatusError reports a non-success status returned by a remote call.
type RemoteStatusError struct {
	Stage   Stage
	Code    int
	Message string
	// Cause is set when the status was synthesized locally, e.g. ErrMissingPayload.
	Cause error
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("%s failed: code=%d msg=%s", e.Stage, e.Code, strings.TrimSpace(e.Message))
}

func (e *RemoteStatusError) Unwrap() error {
	return e.Cause
}

// MissingPayload reports a success envelope that carried nothing usable.
func MissingPayload(stage Stage, what string) error {
	return &RemoteStatusError{
		Stage:   stage,
		Code:    CodeSuccess,
		Message: what + " missing in response",
		Cause:   ErrMissingPayload,
	}
}

// NotFoundError reports an empty lookup result.
type NotFoundError struct {
	Stage Stage
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: nothing found for %q", e.Stage, e.Query)
}

// TimeoutError reports a wait that exceeded its deadline.
type TimeoutError struct {
	Stage     Stage
	Elapsed   time.Duration
	LastState string
	Attempts  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (attempts=%d last_state=%s)",
		e.Stage, e.Elapsed.Round(time.Millisecond), e.Attempts, e.LastState)
}

// TransportError wraps a network or I/O failure raised below the protocol.
type TransportError struct {
	Stage Stage
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failure: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WrapTransport tags err with the stage it happened in. Errors that already
// carry a stage pass through untouched.
func WrapTransport(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	if StageOf(err) != "" {
		return err
	}
	return &TransportError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on a typed channel error, or "".
func StageOf(err error) Stage {
	var (
		remoteErr    *RemoteStatusError
		notFoundErr  *NotFoundError
		timeoutErr   *TimeoutError
		transportErr *TransportError
	)
	switch {
	case errors.As(err, &remoteErr):
		return remoteErr.Stage
	case errors.As(err, &notFoundErr):
		return notFoundErr.Stage
	case errors.As(err, &timeoutErr):
		return timeoutErr.Stage
	case errors.As(err, &transportErr):
		return transportErr.Stage
	default:
		return ""
	}
}
