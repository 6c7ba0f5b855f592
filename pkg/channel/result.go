package channel

import "strings"

// CodeSuccess is the status code remote APIs use for success.
const CodeSuccess = 0

// ResultStatus is the status part of a remote status envelope.
type ResultStatus struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// OK reports whether the status is a success.
func (s ResultStatus) OK() bool {
	return s.Code == CodeSuccess
}

// RemoteResult is the envelope returned by every remote call. Payload is set
// only when Status is a success.
type RemoteResult[T any] struct {
	Status  ResultStatus
	Payload *T
}

// Success builds a success envelope around payload.
func Success[T any](payload T) RemoteResult[T] {
	return RemoteResult[T]{Payload: &payload}
}

// Failure builds a non-success envelope without payload.
func Failure[T any](code int, message string) RemoteResult[T] {
	return RemoteResult[T]{Status: ResultStatus{Code: code, Message: strings.TrimSpace(message)}}
}

// Unwrap checks the status before handing out the payload. A non-success
// status yields a RemoteStatusError for stage; a success without payload
// yields one wrapping ErrMissingPayload.
func (r RemoteResult[T]) Unwrap(stage Stage) (T, error) {
	var zero T
	if !r.Status.OK() {
		return zero, &RemoteStatusError{
			Stage:   stage,
			Code:    r.Status.Code,
			Message: r.Status.Message,
		}
	}
	if r.Payload == nil {
		return zero, MissingPayload(stage, "payload")
	}
	return *r.Payload, nil
}

// Check only verifies the status; used by calls whose payload is unused.
func (r RemoteResult[T]) Check(stage Stage) error {
	if r.Status.OK() {
		return nil
	}
	return &RemoteStatusError{
		Stage:   stage,
		Code:    r.Status.Code,
		Message: r.Status.Message,
	}
}
