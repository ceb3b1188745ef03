package model

import "net/http"

// Outcome is the result of a single upstream call: *Success,
// *UpstreamFailure or *NetworkFailure.
type Outcome interface {
	outcome()
}

// Success is a 2xx response from the backend.
type Success struct {
	Status int
	Header http.Header
	Body   []byte
}

// UpstreamFailure is a completed exchange with a non-2xx status.
type UpstreamFailure struct {
	Status int
	Header http.Header
	Body   []byte
}

// NetworkFailure means no response was received (DNS, refused connection,
// timeout, cancellation, unreadable body).
type NetworkFailure struct {
	Err error
}

func (*Success) outcome()         {}
func (*UpstreamFailure) outcome() {}
func (*NetworkFailure) outcome()  {}

// Error implements error so the failure can be wrapped and logged.
func (f *NetworkFailure) Error() string {
	return "upstream unreachable: " + f.Err.Error()
}

// Unwrap returns the underlying transport error.
func (f *NetworkFailure) Unwrap() error {
	return f.Err
}
