// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorKind is the single failure category an adapter reports upstream.
// Every engine failure maps to exactly one kind; consumers never inspect
// engine-specific payloads.
type ErrorKind string

const (
	KindAuth        ErrorKind = "AUTH"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindTimeout     ErrorKind = "TIMEOUT"
	KindCircuitOpen ErrorKind = "CIRCUIT_OPEN"
	KindRemote5xx   ErrorKind = "REMOTE_5XX"
	KindParse       ErrorKind = "PARSE"
	KindDisabled    ErrorKind = "DISABLED"
	KindUnknown     ErrorKind = "UNKNOWN"
)

// Transient reports whether a retry of the same call can reasonably
// succeed. Auth and parse failures repeat identically; an open circuit
// or disabled engine will not recover within a retry loop.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindRemote5xx, KindRateLimited:
		return true
	}
	return false
}

// Error is the uniform failure type emitted by every adapter.
type Error struct {
	Kind   ErrorKind
	Engine string
	Err    error

	// RetryAfter carries an engine-supplied backoff hint from a 429
	// response. Zero when the engine gave none.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Engine, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType reports the failure kind as a taxonomy code for dead-letter
// events.
func (e *Error) ErrorType() string {
	return string(e.Kind)
}

// NewError wraps err with an engine name and failure kind.
func NewError(engine string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Engine: engine, Err: err}
}

// KindOf extracts the failure kind from an adapter error chain.
// Non-adapter errors classify as UNKNOWN.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// classifyTransport maps an HTTP transport error to a failure kind.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// classifyStatus maps a non-2xx HTTP status to a failure kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindRemote5xx
	default:
		return KindUnknown
	}
}
