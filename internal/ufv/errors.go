package ufv

import (
	"errors"
	"fmt"
)

// ErrResponseTooLarge is wrapped in a TransportError when a response
// body exceeds the client's buffer limit.
var ErrResponseTooLarge = errors.New("response too large")

// TransportError reports a failure below HTTP: DNS, connect, TLS,
// reset, timeout, or a body that could not be read.
type TransportError struct {
	Op  string // request path, API key redacted
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ufv transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a response with a status other than 200.
// Body holds at most the first 512 bytes of the response.
type HTTPStatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ufv %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// DecodeError reports a 200 response whose body is not the expected JSON.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ufv decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
